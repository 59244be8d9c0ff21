package device

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bluetime/go/internal/peersync"
	"github.com/mcdev12/bluetime/go/internal/timer"
)

// Role is the side of the pairing a controller plays.
type Role string

const (
	// RoleWatch asks for a snapshot whenever its screen appears.
	RoleWatch Role = "watch"
	// RolePhone answers snapshot requests.
	RolePhone Role = "phone"
)

// Config holds controller settings.
type Config struct {
	Role        Role
	Duration    time.Duration
	SendTimeout time.Duration
}

// Controller is the interface controller of one device: it turns button
// presses and lifecycle events into timer transitions and peer messages.
type Controller struct {
	role      Role
	machine   *timer.Machine
	messenger *peersync.Messenger
}

// NewController wires a machine and a messenger over channel.
func NewController(config Config, clock clockwork.Clock, presenter timer.Presenter, channel peersync.Channel) *Controller {
	machine := timer.NewMachine(clock, presenter)
	if config.Duration > 0 {
		machine.SelectDuration(config.Duration)
	}

	msgCfg := peersync.DefaultConfig()
	msgCfg.ServeSnapshots = config.Role == RolePhone
	if config.SendTimeout > 0 {
		msgCfg.SendTimeout = config.SendTimeout
	}

	return &Controller{
		role:      config.Role,
		machine:   machine,
		messenger: peersync.NewMessenger(machine, channel, msgCfg),
	}
}

// Role returns the controller's side of the pairing.
func (c *Controller) Role() Role {
	return c.role
}

// DidAppear is the "became visible" lifecycle hook. The watch drops its
// local state and asks the peer for a snapshot.
func (c *Controller) DidAppear(ctx context.Context) {
	log.Info().Str("role", string(c.role)).Msg("screen appeared")

	if c.role != RoleWatch {
		c.machine.Refresh()
		return
	}

	c.machine.Cancel()
	c.messenger.RequestSnapshot(ctx)
}

// StartStopPressed starts or pauses, as the start/pause button would.
func (c *Controller) StartStopPressed(ctx context.Context) (timer.Snapshot, error) {
	view := c.machine.View()
	if !view.StartPauseEnabled {
		return c.machine.Snapshot(), fmt.Errorf("%s pressed while %s: %w", view.StartPauseTitle, view.Status, timer.ErrActionNotAllowed)
	}
	return c.messenger.Toggle(ctx)
}

// CancelPressed cancels, as the cancel button would.
func (c *Controller) CancelPressed(ctx context.Context) (timer.Snapshot, error) {
	view := c.machine.View()
	if !view.CancelEnabled {
		return c.machine.Snapshot(), fmt.Errorf("cancel pressed while %s: %w", view.Status, timer.ErrActionNotAllowed)
	}
	return c.messenger.Cancel(ctx), nil
}

// SelectDuration picks a new countdown length; only honored while idle.
func (c *Controller) SelectDuration(ctx context.Context, d time.Duration) bool {
	return c.messenger.SelectDuration(ctx, d)
}

// Snapshot returns the current timer state.
func (c *Controller) Snapshot() timer.Snapshot {
	return c.machine.Snapshot()
}

// View returns the current presentation.
func (c *Controller) View() timer.View {
	return c.machine.View()
}

// Close cancels the pending expiration.
func (c *Controller) Close() {
	c.machine.Close()
}
