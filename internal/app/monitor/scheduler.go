package monitor

import "time"

// Tunables are the elastic scheduler's knobs. All values come from
// configuration and are validated to satisfy LiveDelay <= AlertDelay <=
// HibernationDelay before a coordinator is built.
type Tunables struct {
	// LiveDelay is the interval while any match is in play.
	LiveDelay time.Duration

	// AlertDelay is the interval while a match is inside its pre-start
	// window but not yet live.
	AlertDelay time.Duration

	// HibernationDelay is the interval when nothing is live or imminent.
	HibernationDelay time.Duration

	// PreWindow is how far ahead of a scheduled start AlertDelay takes over.
	PreWindow time.Duration

	// MaxRefreshDelay caps any computed sleep. Upstream schedules move, so
	// even a far-off wake time is re-validated at least this often.
	MaxRefreshDelay time.Duration
}

// NextPollDelay computes how long to sleep before the next poll cycle. The
// function is pure: the clock arrives as an argument and no state is read or
// written.
//
//   - Any live match wins and returns LiveDelay.
//   - Upcoming matches with known start times sleep until the earliest start
//     minus PreWindow, capped by both HibernationDelay and MaxRefreshDelay.
//     Once inside the window (including a kickoff that is simply late) the
//     delay tightens to AlertDelay.
//   - Upcoming matches with no known start time poll at AlertDelay, since
//     there is nothing to aim a wake-up at.
//   - Otherwise HibernationDelay.
func NextPollDelay(hasLive, hasUpcoming bool, startTimes []time.Time, now time.Time, t Tunables) time.Duration {
	if hasLive {
		return t.LiveDelay
	}

	if hasUpcoming {
		if len(startTimes) == 0 {
			return t.AlertDelay
		}

		earliest := startTimes[0]
		for _, ts := range startTimes[1:] {
			if ts.Before(earliest) {
				earliest = ts
			}
		}

		wakeAt := earliest.Add(-t.PreWindow)
		if !wakeAt.After(now) {
			return t.AlertDelay
		}

		delay := wakeAt.Sub(now)
		if delay > t.HibernationDelay {
			delay = t.HibernationDelay
		}
		if delay > t.MaxRefreshDelay {
			delay = t.MaxRefreshDelay
		}
		return delay
	}

	return t.HibernationDelay
}
