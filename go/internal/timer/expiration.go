package timer

import (
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// expiration is the single outstanding one-shot timer of a Machine.
type expiration struct {
	timer      clockwork.Timer
	done       chan struct{}
	generation uint64
	deadline   time.Time
}

// armLocked replaces any pending expiration with a new one firing after d.
// Caller must hold m.mu.
func (m *Machine) armLocked(d time.Duration) {
	m.disarmLocked()

	exp := &expiration{
		timer:      m.clock.NewTimer(d),
		done:       make(chan struct{}),
		generation: m.generation,
		deadline:   m.clock.Now().Add(d),
	}
	m.expiry = exp

	go func(e *expiration) {
		select {
		case <-e.timer.Chan():
			m.expire(e.generation)
		case <-e.done:
			stopAndDrainTimer(e.timer)
		}
	}(exp)

	log.Debug().
		Uint64("generation", exp.generation).
		Time("deadline", exp.deadline).
		Dur("duration", d).
		Msg("scheduled expiration")
}

// disarmLocked cancels the pending expiration, if any, and bumps the
// generation so a callback already past its timer is ignored.
// Caller must hold m.mu.
func (m *Machine) disarmLocked() {
	m.generation++
	if m.expiry == nil {
		return
	}

	close(m.expiry.done)
	log.Debug().Uint64("generation", m.expiry.generation).Msg("cancelled expiration")
	m.expiry = nil
}

// expire is the one finish path, invoked by an expiration goroutine.
func (m *Machine) expire(generation uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if generation != m.generation || m.status() != StatusRunning {
		log.Debug().
			Uint64("generation", generation).
			Uint64("current_generation", m.generation).
			Str("status", string(m.status())).
			Msg("ignoring stale expiration")
		return
	}
	m.expiry = nil

	if err := m.finishLocked(); err != nil {
		log.Error().Err(err).Msg("failed to finish timer")
		return
	}
	m.renderLocked()
}

// stopAndDrainTimer stops a timer and drains its channel if it already fired.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
