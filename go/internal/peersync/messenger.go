package peersync

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bluetime/go/internal/timer"
)

// Config holds messenger settings.
type Config struct {
	// ServeSnapshots makes the messenger answer initialData with a dataDump.
	// The phone side owns the authoritative snapshot; the watch only asks.
	ServeSnapshots bool
	// SendTimeout bounds each outbound send.
	SendTimeout time.Duration
}

// DefaultConfig returns watch-side defaults.
func DefaultConfig() Config {
	return Config{
		ServeSnapshots: false,
		SendTimeout:    5 * time.Second,
	}
}

// Messenger mirrors a timer.Machine with the peer on the other end of a
// Channel: local actions are applied then announced, inbound messages are
// applied to the machine.
type Messenger struct {
	machine *timer.Machine
	channel Channel
	config  Config
}

// NewMessenger binds machine and channel and registers the inbound handler.
func NewMessenger(machine *timer.Machine, channel Channel, config Config) *Messenger {
	m := &Messenger{
		machine: machine,
		channel: channel,
		config:  config,
	}
	channel.OnReceive(func(msg Message) {
		m.HandleMessage(context.Background(), msg)
	})
	return m
}

// Start starts the local timer and announces it.
func (m *Messenger) Start(ctx context.Context) (timer.Snapshot, error) {
	s, err := m.machine.Start()
	if err != nil {
		return s, fmt.Errorf("start timer: %w", err)
	}
	m.send(ctx, StartMessage(s.Duration, s.StartedAt))
	return s, nil
}

// Pause pauses the local timer and announces it.
func (m *Messenger) Pause(ctx context.Context) (timer.Snapshot, error) {
	s, err := m.machine.Pause()
	if err != nil {
		return s, fmt.Errorf("pause timer: %w", err)
	}
	m.send(ctx, PauseMessage(s.Duration))
	return s, nil
}

// Toggle pauses a running timer and starts any other.
func (m *Messenger) Toggle(ctx context.Context) (timer.Snapshot, error) {
	if m.machine.Status() == timer.StatusRunning {
		return m.Pause(ctx)
	}
	return m.Start(ctx)
}

// Cancel cancels the local timer and announces it.
func (m *Messenger) Cancel(ctx context.Context) timer.Snapshot {
	s := m.machine.Cancel()
	m.send(ctx, CancelMessage())
	return s
}

// SelectDuration changes the local duration and, when honored, proposes it
// to the peer.
func (m *Messenger) SelectDuration(ctx context.Context, d time.Duration) bool {
	if !m.machine.SelectDuration(d) {
		return false
	}
	m.send(ctx, SelectDurationMessage(d))
	return true
}

// RequestSnapshot asks the peer for a dataDump.
func (m *Messenger) RequestSnapshot(ctx context.Context) {
	m.send(ctx, InitialDataMessage())
}

// HandleMessage applies one inbound message. Malformed messages are dropped
// and unknown actions ignored.
func (m *Messenger) HandleMessage(ctx context.Context, msg Message) {
	if err := msg.Validate(); err != nil {
		log.Debug().Err(err).Str("action", string(msg.Action)).Msg("dropping peer message")
		return
	}

	var err error
	switch msg.Action {
	case ActionStart:
		_, err = m.machine.ApplyStart(FromUnixSeconds(*msg.StartTime), FromSeconds(*msg.Duration))

	case ActionPause:
		_, err = m.machine.ApplyPause(FromSeconds(*msg.Duration))

	case ActionCancel:
		m.machine.Cancel()

	case ActionSelectDuration:
		m.machine.SelectDuration(FromSeconds(*msg.Duration))

	case ActionDataDump:
		var dump timer.Dump
		if dump, err = msg.Dump(); err == nil {
			_, err = m.machine.Restore(dump)
		}

	case ActionInitialData:
		if m.config.ServeSnapshots {
			m.send(ctx, DataDumpMessage(m.machine.Snapshot()))
		}

	default:
		log.Debug().Str("action", string(msg.Action)).Msg("ignoring unknown peer action")
		return
	}

	if err != nil {
		log.Error().Err(err).Str("action", string(msg.Action)).Msg("failed to apply peer message")
		return
	}

	log.Debug().Str("action", string(msg.Action)).Msg("applied peer message")
}

// send is fire-and-forget: failures are logged and otherwise ignored.
func (m *Messenger) send(ctx context.Context, msg Message) {
	if m.config.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.config.SendTimeout)
		defer cancel()
	}

	if err := m.channel.Send(ctx, msg); err != nil {
		log.Error().Err(err).Str("action", string(msg.Action)).Msg("failed to send peer message")
		return
	}
	log.Debug().Str("action", string(msg.Action)).Msg("sent peer message")
}
