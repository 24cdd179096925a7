package fleet

import (
	"testing"
	"time"
)

func newTestWatchdog(t *testing.T, env *testEnv) *Watchdog {
	t.Helper()

	w := NewWatchdog(env.deps, time.Hour)
	t.Cleanup(func() {
		w.stopAll(t.Context())
	})

	return w
}

func TestReconcileAddsInstances(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser(testUser("alice", env.clock.Now()))
	env.store.addUser(testUser("bob", env.clock.Now()))

	w := newTestWatchdog(t, env)

	if err := w.reconcile(t.Context(), true); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if len(w.Instances()) != 2 {
		t.Errorf("expected 2 instances, got %d", len(w.Instances()))
	}
	if w.Instance("alice") == nil || w.Instance("bob") == nil {
		t.Error("instances not reachable by name")
	}

	// first run must not touch the uptime service
	if env.monitors.CreateCalls != 0 {
		t.Errorf("first reconcile created %d monitor objects", env.monitors.CreateCalls)
	}
}

func TestReconcileMirrorsMonitors(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser(testUser("alice", env.clock.Now()))

	w := newTestWatchdog(t, env)

	if err := w.reconcile(t.Context(), false); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if !env.monitors.HasMonitor("alice") {
		t.Error("monitor missing after reconcile")
	}
	if _, ok := env.monitors.Notifications["alice_mail"]; !ok {
		t.Error("notification missing after reconcile")
	}
	if _, ok := env.monitors.Groups["shiftwatch"]; !ok {
		t.Error("group missing after reconcile")
	}

	// reconcile is idempotent for the mirror too
	created := env.monitors.CreateCalls
	if err := w.reconcile(t.Context(), false); err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}
	if env.monitors.CreateCalls != created {
		t.Errorf("second reconcile created more objects: %d then %d", created, env.monitors.CreateCalls)
	}
}

func TestReconcileRemovesVanishedUsers(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser(testUser("alice", env.clock.Now()))
	env.store.addUser(testUser("bob", env.clock.Now()))

	w := newTestWatchdog(t, env)

	if err := w.reconcile(t.Context(), false); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	env.store.removeUser("bob")

	if err := w.reconcile(t.Context(), false); err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}

	if len(w.Instances()) != 1 {
		t.Errorf("expected 1 instance, got %d", len(w.Instances()))
	}
	if w.Instance("bob") != nil {
		t.Error("removed user still has an instance")
	}
	if env.monitors.HasMonitor("bob") {
		t.Error("removed user still has a monitor")
	}
	if !env.monitors.HasMonitor("alice") {
		t.Error("surviving user lost its monitor")
	}
}

func TestAccountDeletionRemovesMonitor(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser(testUser("alice", env.clock.Now()))

	w := newTestWatchdog(t, env)

	if err := w.reconcile(t.Context(), false); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if !env.monitors.HasMonitor("alice") {
		t.Fatal("monitor missing after reconcile")
	}

	instance := w.Instance("alice")
	if resp := request(t, instance, StartRequest{Kind: DeleteRequest}); resp.Text != "account deleted" {
		t.Fatalf("unexpected delete response %q", resp.Text)
	}

	deadline := time.Now().Add(5 * time.Second)
	for w.Instance("alice") != nil {
		if time.Now().After(deadline) {
			t.Fatal("deleted instance never left the registry")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if env.monitors.HasMonitor("alice") {
		t.Error("deleted user still has a monitor")
	}
	if env.monitors.HasNotification("alice") {
		t.Error("deleted user still has a notification")
	}

	if err := w.reconcile(t.Context(), false); err != nil {
		t.Fatalf("post-delete reconcile failed: %v", err)
	}
	if env.monitors.HasMonitor("alice") {
		t.Error("reconcile resurrected the deleted monitor")
	}
}

func TestRefreshUserUpdatesSnapshot(t *testing.T) {
	env := newTestEnv(t)
	user := testUser("alice", env.clock.Now())
	env.store.addUser(user)

	w := newTestWatchdog(t, env)

	if err := w.reconcile(t.Context(), true); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	env.store.mux.Lock()
	env.store.users["alice"].Settings.ExecutionIntervalMinutes = 240
	env.store.mux.Unlock()

	if err := w.refreshUser(t.Context(), "alice"); err != nil {
		t.Fatalf("refresh failed: %v", err)
	}

	interval, _ := w.Instance("alice").PlanParameters()
	if interval != 240 {
		t.Errorf("snapshot not refreshed, interval %d", interval)
	}

	if err := w.refreshUser(t.Context(), "ghost"); err == nil {
		t.Error("refresh of an unknown user must fail")
	}
}

func TestApplyMonitorAction(t *testing.T) {
	env := newTestEnv(t)
	env.store.addUser(testUser("alice", env.clock.Now()))
	env.store.addUser(testUser("bob", env.clock.Now()))

	w := newTestWatchdog(t, env)

	if err := w.reconcile(t.Context(), true); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	if err := w.ApplyMonitorAction(t.Context(), MonitorAdd, MonitorAllUsers); err != nil {
		t.Fatalf("monitor add failed: %v", err)
	}
	if !env.monitors.HasMonitor("alice") || !env.monitors.HasMonitor("bob") {
		t.Error("monitors missing after add all")
	}

	if err := w.ApplyMonitorAction(t.Context(), MonitorDelete, "bob"); err != nil {
		t.Fatalf("monitor delete failed: %v", err)
	}
	if env.monitors.HasMonitor("bob") {
		t.Error("monitor still present after delete")
	}
	if !env.monitors.HasMonitor("alice") {
		t.Error("delete removed the wrong monitor")
	}

	if err := w.ApplyMonitorAction(t.Context(), MonitorReset, "alice"); err != nil {
		t.Fatalf("monitor reset failed: %v", err)
	}
	if !env.monitors.HasMonitor("alice") {
		t.Error("monitor missing after reset")
	}

	if err := w.ApplyMonitorAction(t.Context(), MonitorAdd, "ghost"); err == nil {
		t.Error("monitor action on an unknown user must fail")
	}
}

func TestParseMonitorAction(t *testing.T) {
	for input, want := range map[string]MonitorAction{
		"add":    MonitorAdd,
		"Reset":  MonitorReset,
		"DELETE": MonitorDelete,
	} {
		got, err := ParseMonitorAction(input)
		if err != nil {
			t.Errorf("failed to parse %q: %v", input, err)
		}
		if got != want {
			t.Errorf("parsed %q as %d, want %d", input, got, want)
		}
	}

	if _, err := ParseMonitorAction("explode"); err == nil {
		t.Error("unknown action must fail to parse")
	}
}
