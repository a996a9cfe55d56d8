package timer

import "time"

// state is the authoritative countdown data of one field of play. Only
// ProxyTimer touches it, always under its lock.
type state struct {
	remaining           int // milliseconds, may be negative (overshoot)
	running             bool
	startedAt           time.Time // valid only while running
	remainingAtLastStop int
}

// reconcile charges the wall-clock time elapsed since the start mark against
// remaining. Milliseconds are truncated toward zero.
func (s *state) reconcile(now time.Time) {
	elapsed := now.Sub(s.startedAt).Milliseconds()
	s.remaining = int(int64(s.remaining) - elapsed)
}

// Snapshot is a read-only copy of the timer state
type Snapshot struct {
	TimeRemaining           int  `json:"time_remaining_ms"`
	Running                 bool `json:"running"`
	TimeRemainingAtLastStop int  `json:"time_remaining_at_last_stop_ms"`
}

func (s *state) snapshot() Snapshot {
	return Snapshot{
		TimeRemaining:           s.remaining,
		Running:                 s.running,
		TimeRemainingAtLastStop: s.remainingAtLastStop,
	}
}
