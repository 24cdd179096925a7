package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shiftwatch/shiftwatch/pkg/common"
	"github.com/shiftwatch/shiftwatch/pkg/db"
	"github.com/shiftwatch/shiftwatch/pkg/monitor"
	"github.com/shiftwatch/shiftwatch/pkg/schedule"
)

var ErrUnknownUser = errors.New("unknown user")

// uptime service requests are slow, but hammering it is worse
const monitorSyncConcurrency = 4

// MonitorAction is the admin surface over the uptime mirror; it never
// touches instance lifecycle.
type MonitorAction int

const (
	MonitorAdd MonitorAction = iota
	MonitorReset
	MonitorDelete
)

func ParseMonitorAction(s string) (MonitorAction, error) {
	switch {
	case strings.EqualFold(s, "add"):
		return MonitorAdd, nil
	case strings.EqualFold(s, "reset"):
		return MonitorReset, nil
	case strings.EqualFold(s, "delete"):
		return MonitorDelete, nil
	default:
		return 0, fmt.Errorf("unknown monitor action %q", s)
	}
}

// MonitorAllUsers selects every live instance for a monitor action.
const MonitorAllUsers = "all"

type watchdogCommand struct {
	firstRun bool
	// non-empty for a single-user refresh
	refreshUser string
}

type managedInstance struct {
	instance *Instance
	cancel   context.CancelFunc
	done     chan struct{}
}

// Watchdog reconciles the instance fleet against the users table and
// mirrors it into the uptime service. It is the only writer of the
// instances map; everyone else reads through the Registry view.
type Watchdog struct {
	deps     Deps
	interval time.Duration

	mux       sync.RWMutex
	instances map[string]*managedInstance

	commands chan watchdogCommand
}

var _ schedule.Registry = (*Watchdog)(nil)

func NewWatchdog(deps Deps, interval time.Duration) *Watchdog {
	return &Watchdog{
		deps:      deps,
		interval:  interval,
		instances: make(map[string]*managedInstance),
		commands:  make(chan watchdogCommand, 4),
	}
}

func (w *Watchdog) Instances() []schedule.Instance {
	w.mux.RLock()
	defer w.mux.RUnlock()

	result := make([]schedule.Instance, 0, len(w.instances))
	for _, mi := range w.instances {
		result = append(result, mi.instance)
	}

	return result
}

// Instance returns the live actor for name, or nil.
func (w *Watchdog) Instance(name string) *Instance {
	w.mux.RLock()
	defer w.mux.RUnlock()

	if mi, ok := w.instances[name]; ok {
		return mi.instance
	}

	return nil
}

// RequestReconcile asks for a full reconcile on the next loop iteration.
func (w *Watchdog) RequestReconcile() bool {
	select {
	case w.commands <- watchdogCommand{}:
		return true
	default:
		return false
	}
}

// RequestRefresh asks for a single-user snapshot refresh.
func (w *Watchdog) RequestRefresh(userName string) bool {
	select {
	case w.commands <- watchdogCommand{refreshUser: userName}:
		return true
	default:
		return false
	}
}

// Run services reconcile commands and the periodic timer until ctx ends.
// The first reconcile happens immediately and skips the monitor mirror so
// that startup never blocks on the uptime service.
func (w *Watchdog) Run(ctx context.Context) {
	ctx = common.TraceContext(ctx, "watchdog")
	slog.DebugContext(ctx, "Watchdog started", "interval", w.interval)

	w.execute(ctx, watchdogCommand{firstRun: true})

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.stopAll(ctx)
			slog.DebugContext(ctx, "Watchdog finished")
			return
		case cmd := <-w.commands:
			w.execute(ctx, cmd)
		case <-ticker.C:
			w.execute(ctx, watchdogCommand{})
		}
	}
}

func (w *Watchdog) execute(ctx context.Context, cmd watchdogCommand) {
	if len(cmd.refreshUser) > 0 {
		if err := w.refreshUser(ctx, cmd.refreshUser); err != nil {
			slog.WarnContext(ctx, "Failed to refresh user", "user", cmd.refreshUser, common.ErrAttr(err))
		}
		return
	}

	if err := w.reconcile(ctx, cmd.firstRun); err != nil {
		slog.ErrorContext(ctx, "Reconcile failed", common.ErrAttr(err))
	}
}

// reconcile diffs the users table against the live fleet: missing users get
// instances, existing ones get fresh snapshots, vanished ones are stopped.
func (w *Watchdog) reconcile(ctx context.Context, firstRun bool) error {
	names, err := w.deps.Store.ListUserNames(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		wanted[name] = struct{}{}
	}

	w.mux.RLock()
	var toAdd, toRefresh, toRemove []string
	for name := range wanted {
		if _, ok := w.instances[name]; ok {
			toRefresh = append(toRefresh, name)
		} else {
			toAdd = append(toAdd, name)
		}
	}
	for name := range w.instances {
		if _, ok := wanted[name]; !ok {
			toRemove = append(toRemove, name)
		}
	}
	w.mux.RUnlock()

	slog.InfoContext(ctx, "Reconciling instances",
		"add", len(toAdd), "refresh", len(toRefresh), "remove", len(toRemove), "firstRun", firstRun)

	w.addInstances(ctx, toAdd)
	w.refreshInstances(ctx, toRefresh)

	if !firstRun {
		w.syncMonitors(ctx, toAdd, toRemove)
	}

	w.stopInstances(ctx, toRemove)

	if w.deps.Metrics != nil {
		w.deps.Metrics.ObserveReconcile(len(toAdd), len(toRefresh), len(toRemove))

		w.mux.RLock()
		w.deps.Metrics.ObserveInstances(len(w.instances))
		w.mux.RUnlock()
	}

	return nil
}

func (w *Watchdog) loadUser(ctx context.Context, name string) (*db.User, *db.GeneralProperties, error) {
	user, err := w.deps.Store.GetUserByName(ctx, name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load user: %w", err)
	}

	props, err := w.deps.Store.EffectiveProperties(ctx, user)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load properties: %w", err)
	}

	return user, props, nil
}

func (w *Watchdog) addInstances(ctx context.Context, names []string) {
	for _, name := range names {
		user, props, err := w.loadUser(ctx, name)
		if err != nil {
			slog.WarnContext(ctx, "Skipping instance", "user", name, common.ErrAttr(err))
			continue
		}

		instance := NewInstance(user, props, w.deps)

		runCtx, cancel := context.WithCancel(ctx)
		mi := &managedInstance{instance: instance, cancel: cancel, done: make(chan struct{})}

		go func() {
			defer close(mi.done)
			instance.Run(runCtx)

			// self-termination (deletion, single run): drop the map entry so
			// the registry stops advertising a dead actor
			w.mux.Lock()
			if current, ok := w.instances[name]; ok && current == mi {
				delete(w.instances, name)
			}
			w.mux.Unlock()
		}()

		w.mux.Lock()
		w.instances[name] = mi
		w.mux.Unlock()

		slog.InfoContext(ctx, "Added instance", "user", name, "next", instance.NextExecution())
	}
}

func (w *Watchdog) refreshInstances(ctx context.Context, names []string) {
	for _, name := range names {
		if err := w.refreshUser(ctx, name); err != nil {
			slog.WarnContext(ctx, "Failed to refresh instance", "user", name, common.ErrAttr(err))
		}
	}
}

func (w *Watchdog) refreshUser(ctx context.Context, name string) error {
	instance := w.Instance(name)
	if instance == nil {
		return ErrUnknownUser
	}

	user, props, err := w.loadUser(ctx, name)
	if err != nil {
		return err
	}

	instance.UpdateSnapshot(user, props)

	return nil
}

func (w *Watchdog) stopInstances(ctx context.Context, names []string) {
	for _, name := range names {
		w.mux.Lock()
		mi, ok := w.instances[name]
		if ok {
			delete(w.instances, name)
		}
		w.mux.Unlock()

		if !ok {
			continue
		}

		mi.cancel()
		<-mi.done

		slog.InfoContext(ctx, "Stopped instance", "user", name)
	}
}

func (w *Watchdog) stopAll(ctx context.Context) {
	w.mux.RLock()
	names := make([]string, 0, len(w.instances))
	for name := range w.instances {
		names = append(names, name)
	}
	w.mux.RUnlock()

	w.stopInstances(ctx, names)
}

// syncMonitors mirrors fleet changes into the uptime service. Every call is
// idempotent, so a failed sync heals on the next reconcile.
func (w *Watchdog) syncMonitors(ctx context.Context, added, removed []string) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(monitorSyncConcurrency)

	for _, name := range added {
		group.Go(func() error {
			if err := w.ensureMonitor(groupCtx, name); err != nil {
				slog.WarnContext(groupCtx, "Failed to create monitor", "user", name, common.ErrAttr(err))
			}
			return nil
		})
	}

	for _, name := range removed {
		group.Go(func() error {
			if err := w.removeMonitor(groupCtx, name); err != nil {
				slog.WarnContext(groupCtx, "Failed to delete monitor", "user", name, common.ErrAttr(err))
			}
			return nil
		})
	}

	_ = group.Wait()
}

func (w *Watchdog) ensureMonitor(ctx context.Context, name string) error {
	instance := w.Instance(name)
	if instance == nil {
		return ErrUnknownUser
	}

	user, props := instance.Snapshot()

	groupID, err := w.deps.Monitors.EnsureGroup(ctx, props.Kuma.GroupName)
	if err != nil {
		return fmt.Errorf("failed to ensure group: %w", err)
	}

	notificationID, err := w.deps.Monitors.EnsureNotification(ctx, name, user.Email.Expose(),
		notificationTemplates(name))
	if err != nil {
		return fmt.Errorf("failed to ensure notification: %w", err)
	}

	params := monitor.MonitorParams{
		IntervalSeconds: monitor.Interval(user.Settings.ExecutionIntervalMinutes, props.ExpectedExecutionTimeSeconds),
		MaxRetries:      props.ExecutionRetryCount,
		NotificationID:  notificationID,
		GroupID:         groupID,
	}

	if _, err := w.deps.Monitors.EnsureMonitor(ctx, name, params); err != nil {
		return fmt.Errorf("failed to ensure monitor: %w", err)
	}

	return nil
}

func (w *Watchdog) removeMonitor(ctx context.Context, name string) error {
	if err := w.deps.Monitors.DeleteMonitor(ctx, name); err != nil {
		return fmt.Errorf("failed to delete monitor: %w", err)
	}

	if err := w.deps.Monitors.DeleteNotification(ctx, name); err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}

	return nil
}

// ApplyMonitorAction runs one admin monitor command against a single user
// or, with MonitorAllUsers, every live instance.
func (w *Watchdog) ApplyMonitorAction(ctx context.Context, action MonitorAction, target string) error {
	var names []string
	if target == MonitorAllUsers {
		for _, instance := range w.Instances() {
			names = append(names, instance.UserName())
		}
	} else {
		if w.Instance(target) == nil {
			return ErrUnknownUser
		}
		names = []string{target}
	}

	var errs []error
	for _, name := range names {
		var err error
		switch action {
		case MonitorAdd:
			err = w.ensureMonitor(ctx, name)
		case MonitorReset:
			if err = w.removeMonitor(ctx, name); err == nil {
				err = w.ensureMonitor(ctx, name)
			}
		case MonitorDelete:
			err = w.removeMonitor(ctx, name)
		}

		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

func notificationTemplates(userName string) monitor.NotificationTemplates {
	return monitor.NotificationTemplates{
		SubjectUp:   fmt.Sprintf("Shiftwatch for %s recovered", userName),
		SubjectDown: fmt.Sprintf("Shiftwatch for %s missed a run", userName),
		BodyUp:      "Shift updates are flowing again.",
		BodyDown:    "No run has completed within the expected window. Check the logbook for details.",
	}
}
