package timer

import (
	"time"
)

// DefaultDuration is the countdown length a freshly loaded screen starts with.
const DefaultDuration = 300 * time.Second

// Status is the single enumerated state of the countdown.
type Status string

const (
	StatusIdle     Status = "idle"
	StatusRunning  Status = "running"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
)

// fsm event names
const (
	eventStart  = "start"
	eventPause  = "pause"
	eventCancel = "cancel"
	eventExpire = "expire"
)

// State is the mutable timer data guarded by the Machine.
type State struct {
	Status    Status        `json:"status"`
	Duration  time.Duration `json:"duration"`
	Elapsed   time.Duration `json:"elapsed"`
	StartedAt time.Time     `json:"started_at"` // zero when never started
}

// Snapshot is a point-in-time copy of the machine state with derived values.
type Snapshot struct {
	State
	Remaining time.Duration `json:"remaining"`
	Deadline  time.Time     `json:"deadline,omitempty"` // set only while running
	TakenAt   time.Time     `json:"taken_at"`
}

// Running reports whether the countdown is ticking.
func (s Snapshot) Running() bool {
	return s.Status == StatusRunning
}

// Dump carries a full-state replacement received from the peer.
type Dump struct {
	StartedAt time.Time
	Duration  time.Duration
	// DisplayTime is the remaining time shown by the sender, nil when absent.
	DisplayTime *time.Duration
	Cancelled   bool
	Finished    bool
	Running     bool
}

// status resolves the flag triple into one Status. Running wins over
// finished, finished over cancelled; no flag set means paused.
func (d Dump) status() Status {
	switch {
	case d.Running:
		return StatusRunning
	case d.Finished:
		return StatusFinished
	case d.Cancelled:
		return StatusIdle
	default:
		return StatusPaused
	}
}

// remaining returns the time left on the countdown at now, clamped at zero.
func remaining(duration, elapsed time.Duration, startedAt, now time.Time, running bool) time.Duration {
	left := duration - elapsed
	if running && !startedAt.IsZero() {
		left -= now.Sub(startedAt)
	}
	if left < 0 {
		return 0
	}
	return left
}
