package peersync

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mcdev12/bluetime/go/internal/timer"
)

// Action is the required tag of every peer message.
type Action string

const (
	ActionStart          Action = "start"
	ActionPause          Action = "pause"
	ActionCancel         Action = "cancel"
	ActionInitialData    Action = "initialData"
	ActionSelectDuration Action = "selectDuration"
	ActionDataDump       Action = "dataDump"
)

// neverStarted is the wire value of startTime before the first run.
// startTime is counted from the Unix epoch, not the 2001 reference date.
const neverStarted = -1

var (
	ErrMissingAction    = errors.New("message has no action")
	ErrMalformedMessage = errors.New("malformed message")
)

// Message is a flat key/value mapping exchanged with the peer. Only the
// fields belonging to Action are set.
type Message struct {
	Action         Action   `json:"action"`
	Duration       *float64 `json:"duration,omitempty"`
	StartTime      *float64 `json:"startTime,omitempty"`
	DisplayTime    *float64 `json:"displayTime,omitempty"`
	TimerCancelled *bool    `json:"timerCancelled,omitempty"`
	TimerFinished  *bool    `json:"timerFinished,omitempty"`
	TimerIsRunning *bool    `json:"timerIsRunning,omitempty"`
}

// StartMessage announces a start of the segment beginning at startedAt.
func StartMessage(duration time.Duration, startedAt time.Time) Message {
	return Message{
		Action:    ActionStart,
		Duration:  float(Seconds(duration)),
		StartTime: float(UnixSeconds(startedAt)),
	}
}

// PauseMessage announces a pause.
func PauseMessage(duration time.Duration) Message {
	return Message{Action: ActionPause, Duration: float(Seconds(duration))}
}

// CancelMessage announces a cancel.
func CancelMessage() Message {
	return Message{Action: ActionCancel}
}

// InitialDataMessage asks the peer for a dataDump.
func InitialDataMessage() Message {
	return Message{Action: ActionInitialData}
}

// SelectDurationMessage proposes a new countdown length.
func SelectDurationMessage(duration time.Duration) Message {
	return Message{Action: ActionSelectDuration, Duration: float(Seconds(duration))}
}

// DataDumpMessage encodes a full snapshot.
func DataDumpMessage(s timer.Snapshot) Message {
	return Message{
		Action:         ActionDataDump,
		Duration:       float(Seconds(s.Duration)),
		StartTime:      float(UnixSeconds(s.StartedAt)),
		DisplayTime:    float(Seconds(s.Remaining)),
		TimerCancelled: boolean(s.Status == timer.StatusIdle),
		TimerFinished:  boolean(s.Status == timer.StatusFinished),
		TimerIsRunning: boolean(s.Status == timer.StatusRunning),
	}
}

// Validate checks that the fields required by a known action are present.
// Unknown actions are valid; receivers ignore them.
func (m Message) Validate() error {
	if m.Action == "" {
		return ErrMissingAction
	}

	var missing []string
	require := func(name string, present bool) {
		if !present {
			missing = append(missing, name)
		}
	}

	switch m.Action {
	case ActionStart:
		require("duration", m.Duration != nil)
		require("startTime", m.StartTime != nil)
	case ActionPause, ActionSelectDuration:
		require("duration", m.Duration != nil)
	case ActionDataDump:
		require("duration", m.Duration != nil)
		require("startTime", m.StartTime != nil)
		require("timerCancelled", m.TimerCancelled != nil)
		require("timerFinished", m.TimerFinished != nil)
		require("timerIsRunning", m.TimerIsRunning != nil)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s missing %v", ErrMalformedMessage, m.Action, missing)
	}
	return nil
}

// Dump converts a dataDump message to the machine's restore input.
func (m Message) Dump() (timer.Dump, error) {
	if m.Action != ActionDataDump {
		return timer.Dump{}, fmt.Errorf("%w: %s is not a data dump", ErrMalformedMessage, m.Action)
	}
	if err := m.Validate(); err != nil {
		return timer.Dump{}, err
	}

	d := timer.Dump{
		StartedAt: FromUnixSeconds(*m.StartTime),
		Duration:  FromSeconds(*m.Duration),
		Cancelled: *m.TimerCancelled,
		Finished:  *m.TimerFinished,
		Running:   *m.TimerIsRunning,
	}
	if m.DisplayTime != nil {
		display := FromSeconds(*m.DisplayTime)
		d.DisplayTime = &display
	}
	return d, nil
}

// Encode marshals a message to its JSON wire form.
func Encode(m Message) ([]byte, error) {
	if m.Action == "" {
		return nil, ErrMissingAction
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

// Decode parses a JSON wire message. It only fails on undecodable input or
// a missing action; field validation is left to the receiver.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if m.Action == "" {
		return Message{}, ErrMissingAction
	}
	return m, nil
}

// Seconds converts a duration to float seconds.
func Seconds(d time.Duration) float64 {
	return d.Seconds()
}

// FromSeconds converts float seconds to a duration, saturating at
// ±math.MaxInt64 nanoseconds.
func FromSeconds(s float64) time.Duration {
	return time.Duration(saturate(math.Round(s * float64(time.Second))))
}

// UnixSeconds converts an instant to float Unix seconds with microsecond
// precision, or -1 for the zero time.
func UnixSeconds(t time.Time) float64 {
	if t.IsZero() {
		return neverStarted
	}
	return float64(t.UnixMicro()) / 1e6
}

// FromUnixSeconds is the inverse of UnixSeconds; negative values map to the
// zero time.
func FromUnixSeconds(s float64) time.Time {
	if s < 0 {
		return time.Time{}
	}
	return time.UnixMicro(saturate(math.Round(s * 1e6)))
}

// saturate converts v to int64, clamping to ±math.MaxInt64 where a plain
// conversion would be undefined.
func saturate(v float64) int64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt64:
		return math.MaxInt64
	case v <= -math.MaxInt64:
		return -math.MaxInt64
	}
	return int64(v)
}

func float(v float64) *float64 { return &v }

func boolean(v bool) *bool { return &v }
