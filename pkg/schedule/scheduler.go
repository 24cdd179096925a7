package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/shiftwatch/shiftwatch/pkg/common"
)

// Instance is the scheduler's view of one running user actor.
type Instance interface {
	UserName() string
	NextExecution() time.Time
	SetNextExecution(t time.Time)
	// TriggerTimer posts a timer start request without blocking; false means
	// the inbox was full and the tick was dropped.
	TriggerTimer(ctx context.Context) bool
	PlanParameters() (intervalMinutes, executionMinute int)
}

// Registry returns a read snapshot of the live instances.
type Registry interface {
	Instances() []Instance
}

// Scheduler wakes shortly after every minute boundary and fires the
// instances whose next execution time matches the current (hour, minute).
type Scheduler struct {
	registry Registry
	clock    common.Clock
}

func NewScheduler(registry Registry, clock common.Clock) *Scheduler {
	return &Scheduler{registry: registry, clock: clock}
}

func (s *Scheduler) Run(ctx context.Context) {
	ctx = common.TraceContext(ctx, "scheduler")
	slog.DebugContext(ctx, "Scheduler started")

	for {
		now := s.clock.Now()
		wakeup := zeroSeconds(now).Add(time.Minute + time.Second)

		timer := time.NewTimer(wakeup.Sub(now))
		select {
		case <-ctx.Done():
			_ = timer.Stop()
			slog.DebugContext(ctx, "Scheduler finished")
			return
		case <-timer.C:
		}

		s.tick(ctx)
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.clock.Now()

	for _, instance := range s.registry.Instances() {
		next := instance.NextExecution()
		if next.Hour() != now.Hour() || next.Minute() != now.Minute() {
			continue
		}

		userCtx := common.UserContext(ctx, instance.UserName())

		if !instance.TriggerTimer(userCtx) {
			slog.WarnContext(userCtx, "Dropped timer tick, instance inbox is full")
		}

		intervalMinutes, executionMinute := instance.PlanParameters()
		replanned := PlanNext(now, intervalMinutes, executionMinute)
		instance.SetNextExecution(replanned)

		slog.DebugContext(userCtx, "Ticked instance", "next", replanned)
	}
}
