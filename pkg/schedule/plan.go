package schedule

import (
	randv2 "math/rand/v2"
	"time"
)

// The planner computes per-user next-execution times with minute precision.
// Cold starts are smeared over a small random number of hours so that a
// restart does not fire every user's scrape at once; the remaining-time path
// preserves each user's cadence across restarts.

func withMinute(t time.Time, minute int) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, t.Location())
}

func zeroSeconds(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, t.Location())
}

// PlanFirstSimple schedules the very first run of an instance with no usable
// execution history.
func PlanFirstSimple(now time.Time, intervalMinutes, executionMinute int) time.Time {
	h := intervalMinutes / 60
	if h < 1 {
		h = 1
	} else if h > 2 {
		h = 2
	}

	k := randv2.IntN(h + 1)
	t := now.Add(time.Duration(k) * time.Hour)

	if now.Minute() < executionMinute || k != 0 {
		return withMinute(t, executionMinute)
	}

	return withMinute(t, (now.Minute()+1)%60)
}

// PlanInitial picks the first execution time after boot. When the last
// timer-driven run is recent enough, the cadence continues as if the process
// never restarted.
func PlanInitial(now time.Time, lastSystemExec *time.Time, intervalMinutes, executionMinute int) time.Time {
	if lastSystemExec != nil {
		elapsed := int(now.Sub(*lastSystemExec).Minutes())
		if remaining := intervalMinutes - elapsed; remaining > 0 {
			return zeroSeconds(now.Add(time.Duration(remaining) * time.Minute))
		}
	}

	return PlanFirstSimple(now, intervalMinutes, executionMinute)
}

// PlanNext reschedules after a timer fire.
func PlanNext(now time.Time, intervalMinutes, executionMinute int) time.Time {
	h := intervalMinutes / 60
	if h < 1 {
		h = 1
	}

	t := now.Add(time.Duration(h) * time.Hour)

	if executionMinute >= 0 && executionMinute <= 59 {
		return withMinute(t, executionMinute)
	}

	return zeroSeconds(t)
}
