package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog/log"
)

// echoTolerance is how far an inbound start time may drift from the local
// one and still count as the same run segment.
const echoTolerance = time.Millisecond

// Machine is the countdown state machine. All methods are safe for
// concurrent use; mutations are serialized and each one ends with a
// Presenter render.
type Machine struct {
	mu        sync.Mutex
	clock     clockwork.Clock
	fsm       *fsm.FSM
	presenter Presenter

	duration  time.Duration
	elapsed   time.Duration
	startedAt time.Time

	expiry     *expiration
	generation uint64
}

// NewMachine creates an idle machine with DefaultDuration. A nil clock
// means the real clock, a nil presenter discards views.
func NewMachine(clock clockwork.Clock, presenter Presenter) *Machine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if presenter == nil {
		presenter = NopPresenter{}
	}

	m := &Machine{
		clock:     clock,
		presenter: presenter,
		duration:  DefaultDuration,
	}

	m.fsm = fsm.NewFSM(
		string(StatusIdle),
		fsm.Events{
			{Name: eventStart, Src: []string{string(StatusIdle), string(StatusPaused), string(StatusFinished)}, Dst: string(StatusRunning)},
			{Name: eventPause, Src: []string{string(StatusRunning)}, Dst: string(StatusPaused)},
			{Name: eventCancel, Src: []string{string(StatusIdle), string(StatusRunning), string(StatusPaused), string(StatusFinished)}, Dst: string(StatusIdle)},
			{Name: eventExpire, Src: []string{string(StatusRunning)}, Dst: string(StatusFinished)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug().
					Str("event", e.Event).
					Str("from", e.Src).
					Str("to", e.Dst).
					Msg("timer transition")
			},
		},
	)

	return m
}

// Start begins or resumes the countdown from idle or paused.
func (m *Machine) Start() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch st := m.status(); st {
	case StatusIdle, StatusPaused:
	default:
		return m.snapshotLocked(), fmt.Errorf("start while %s: %w", st, ErrActionNotAllowed)
	}

	if err := m.runLocked(m.clock.Now()); err != nil {
		return m.snapshotLocked(), err
	}
	m.renderLocked()
	return m.snapshotLocked(), nil
}

// Pause stops a running countdown and banks the time of the current segment.
func (m *Machine) Pause() (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if st := m.status(); st != StatusRunning {
		return m.snapshotLocked(), fmt.Errorf("pause while %s: %w", st, ErrActionNotAllowed)
	}

	if err := m.pauseLocked(m.clock.Now()); err != nil {
		return m.snapshotLocked(), err
	}
	m.renderLocked()
	return m.snapshotLocked(), nil
}

// Cancel returns to idle from any status and clears the elapsed time.
func (m *Machine) Cancel() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disarmLocked()
	m.elapsed = 0
	m.startedAt = time.Time{}
	if err := m.fire(eventCancel); err != nil {
		// cancel has an edge from every status
		log.Error().Err(err).Msg("cancel transition failed")
	}

	m.renderLocked()
	return m.snapshotLocked()
}

// SelectDuration sets a new countdown length. It is honored only while idle
// and reports whether the duration was changed.
func (m *Machine) SelectDuration(d time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status() != StatusIdle {
		log.Debug().
			Str("status", string(m.status())).
			Dur("duration", d).
			Msg("ignoring duration change outside idle")
		return false
	}

	m.duration = d
	m.renderLocked()
	return true
}

// ApplyStart adopts a start performed by the peer. A start matching the
// current run segment is treated as an echo and ignored.
func (m *Machine) ApplyStart(startedAt time.Time, duration time.Duration) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()

	switch m.status() {
	case StatusRunning:
		if m.duration == duration && sameInstant(m.startedAt, startedAt) {
			log.Debug().Time("started_at", startedAt).Msg("ignoring echoed start")
			return m.snapshotLocked(), nil
		}
		m.duration = duration
		m.startedAt = startedAt
		if err := m.scheduleLocked(now); err != nil {
			return m.snapshotLocked(), err
		}

	case StatusFinished:
		m.elapsed = 0
		fallthrough

	default:
		m.duration = duration
		if err := m.runLocked(startedAt); err != nil {
			return m.snapshotLocked(), err
		}
	}

	m.renderLocked()
	return m.snapshotLocked(), nil
}

// ApplyPause adopts a pause performed by the peer. Outside running only the
// duration is taken over.
func (m *Machine) ApplyPause(duration time.Duration) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.duration = duration
	if m.status() == StatusRunning {
		if err := m.pauseLocked(m.clock.Now()); err != nil {
			return m.snapshotLocked(), err
		}
	}

	m.renderLocked()
	return m.snapshotLocked(), nil
}

// Restore replaces the whole state with a peer snapshot. A running dump
// reschedules the expiration from the dump's values alone.
func (m *Machine) Restore(d Dump) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.disarmLocked()

	now := m.clock.Now()
	status := d.status()

	m.duration = d.Duration
	m.startedAt = d.StartedAt
	m.elapsed = 0

	switch status {
	case StatusFinished:
		m.elapsed = d.Duration
	case StatusPaused:
		if d.DisplayTime != nil {
			m.elapsed = nonNegative(d.Duration - *d.DisplayTime)
		}
	case StatusRunning:
		if m.startedAt.IsZero() {
			m.startedAt = now
		}
		if d.DisplayTime != nil {
			m.elapsed = nonNegative(d.Duration - *d.DisplayTime - now.Sub(m.startedAt))
		}
	}

	m.fsm.SetState(string(status))
	log.Debug().
		Str("status", string(status)).
		Dur("duration", m.duration).
		Dur("elapsed", m.elapsed).
		Msg("restored timer state")

	if status == StatusRunning {
		if err := m.scheduleLocked(now); err != nil {
			return m.snapshotLocked(), err
		}
	}

	m.renderLocked()
	return m.snapshotLocked(), nil
}

// Remaining returns the time left, never negative.
func (m *Machine) Remaining() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return remaining(m.duration, m.elapsed, m.startedAt, m.clock.Now(), m.status() == StatusRunning)
}

// Status returns the current status.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status()
}

// Snapshot returns a copy of the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// View returns the presentation of the current state.
func (m *Machine) View() View {
	return ViewOf(m.Snapshot())
}

// Refresh renders the current view without changing state.
func (m *Machine) Refresh() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.renderLocked()
}

// PendingExpiration returns the deadline of the outstanding expiration.
func (m *Machine) PendingExpiration() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.expiry == nil {
		return time.Time{}, false
	}
	return m.expiry.deadline, true
}

// Close cancels any pending expiration.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disarmLocked()
}

func (m *Machine) status() Status {
	return Status(m.fsm.Current())
}

// runLocked enters running with a segment starting at startedAt.
func (m *Machine) runLocked(startedAt time.Time) error {
	if err := m.fire(eventStart); err != nil {
		return err
	}
	m.startedAt = startedAt
	return m.scheduleLocked(m.clock.Now())
}

func (m *Machine) pauseLocked(now time.Time) error {
	m.disarmLocked()
	if !m.startedAt.IsZero() {
		m.elapsed += now.Sub(m.startedAt)
	}
	return m.fire(eventPause)
}

// scheduleLocked arms the expiration for the remaining time, finishing at
// once when nothing is left.
func (m *Machine) scheduleLocked(now time.Time) error {
	left := remaining(m.duration, m.elapsed, m.startedAt, now, true)
	if left <= 0 {
		m.disarmLocked()
		return m.finishLocked()
	}
	m.armLocked(left)
	return nil
}

func (m *Machine) finishLocked() error {
	if err := m.fire(eventExpire); err != nil {
		return err
	}
	m.elapsed = m.duration
	log.Info().Dur("duration", m.duration).Msg("timer finished")
	return nil
}

// fire runs an fsm event. Self-transitions are not errors.
func (m *Machine) fire(event string) error {
	err := m.fsm.Event(context.Background(), event)
	if err == nil {
		return nil
	}

	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}

	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return fmt.Errorf("%s from %s: %w", event, m.status(), ErrInvalidTransition)
	}

	return fmt.Errorf("fire %s: %w", event, err)
}

func (m *Machine) snapshotLocked() Snapshot {
	now := m.clock.Now()
	status := m.status()

	s := Snapshot{
		State: State{
			Status:    status,
			Duration:  m.duration,
			Elapsed:   m.elapsed,
			StartedAt: m.startedAt,
		},
		Remaining: remaining(m.duration, m.elapsed, m.startedAt, now, status == StatusRunning),
		TakenAt:   now,
	}
	if status == StatusRunning {
		s.Deadline = now.Add(s.Remaining)
	}
	return s
}

func (m *Machine) renderLocked() {
	m.presenter.Render(ViewOf(m.snapshotLocked()))
}

func sameInstant(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d <= echoTolerance
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
