package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shiftwatch/shiftwatch/pkg/common"
)

type fakeInstance struct {
	mux      sync.Mutex
	name     string
	next     time.Time
	interval int
	minute   int
	triggers int
	full     bool
}

var _ Instance = (*fakeInstance)(nil)

func (fi *fakeInstance) UserName() string { return fi.name }

func (fi *fakeInstance) NextExecution() time.Time {
	fi.mux.Lock()
	defer fi.mux.Unlock()
	return fi.next
}

func (fi *fakeInstance) SetNextExecution(t time.Time) {
	fi.mux.Lock()
	fi.next = t
	fi.mux.Unlock()
}

func (fi *fakeInstance) TriggerTimer(ctx context.Context) bool {
	fi.mux.Lock()
	defer fi.mux.Unlock()
	if fi.full {
		return false
	}
	fi.triggers++
	return true
}

func (fi *fakeInstance) PlanParameters() (int, int) { return fi.interval, fi.minute }

type fakeRegistry struct {
	instances []Instance
}

func (fr *fakeRegistry) Instances() []Instance { return fr.instances }

func TestTickFiresMatchingInstances(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 14, 10, 30, 5, 0, time.UTC)
	clock := common.NewFakeClock(now)

	due := &fakeInstance{name: "alice", next: withMinute(now, 30), interval: 60, minute: 15}
	notDue := &fakeInstance{name: "bob", next: withMinute(now, 45), interval: 60, minute: 45}

	s := NewScheduler(&fakeRegistry{instances: []Instance{due, notDue}}, clock)
	s.tick(t.Context())

	if due.triggers != 1 {
		t.Errorf("due instance triggered %v times", due.triggers)
	}

	if notDue.triggers != 0 {
		t.Errorf("not-due instance triggered %v times", notDue.triggers)
	}

	// the fired instance was re-planned an hour out with the execution minute
	next := due.NextExecution()
	if next.Hour() != 11 || next.Minute() != 15 {
		t.Errorf("replanned to %v", next)
	}

	if notDue.NextExecution().Minute() != 45 {
		t.Error("not-due instance must keep its plan")
	}
}

func TestTickDropsOnFullInbox(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, time.March, 14, 10, 30, 5, 0, time.UTC)
	clock := common.NewFakeClock(now)

	busy := &fakeInstance{name: "alice", next: withMinute(now, 30), interval: 60, minute: 15, full: true}

	s := NewScheduler(&fakeRegistry{instances: []Instance{busy}}, clock)
	s.tick(t.Context())

	// tick is dropped but the re-plan still happens
	if busy.NextExecution().Hour() != 11 {
		t.Errorf("instance with full inbox was not replanned: %v", busy.NextExecution())
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	s := NewScheduler(&fakeRegistry{}, common.NewFakeClock(time.Now()))

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
