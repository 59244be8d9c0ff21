package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bluetime/go/internal/peersync"
)

// NATSConfig holds configuration for the NATS peer channel
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	PairingID     uuid.UUID
	Device        string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultNATSConfig returns default NATS channel configuration
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "bluetime",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// DeviceSubject is the subject a device publishes on.
func DeviceSubject(prefix string, pairingID uuid.UUID, device string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, pairingID, device)
}

// PairingSubject matches every device of a pairing.
func PairingSubject(prefix string, pairingID uuid.UUID) string {
	return fmt.Sprintf("%s.%s.*", prefix, pairingID)
}

// NATSChannel exchanges peer messages over core NATS subjects. It implements
// peersync.Channel.
type NATSChannel struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	subject string
	config  NATSConfig

	mu      sync.RWMutex
	handler peersync.Handler
}

// NewNATSChannel connects to NATS and subscribes to the pairing's subjects.
func NewNATSChannel(config NATSConfig) (*NATSChannel, error) {
	if config.Device == "" {
		return nil, fmt.Errorf("device name is required")
	}

	opts := []nats.Option{
		nats.Name("bluetime-" + config.Device),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	c := &NATSChannel{
		nc:      nc,
		subject: DeviceSubject(config.SubjectPrefix, config.PairingID, config.Device),
		config:  config,
	}

	sub, err := nc.Subscribe(PairingSubject(config.SubjectPrefix, config.PairingID), c.handle)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe to pairing: %w", err)
	}
	c.sub = sub

	log.Info().
		Str("url", nc.ConnectedUrl()).
		Str("subject", c.subject).
		Msg("joined NATS pairing")

	return c, nil
}

// Send publishes a message and flushes within ctx.
func (c *NATSChannel) Send(ctx context.Context, msg peersync.Message) error {
	data, err := peersync.Encode(msg)
	if err != nil {
		return err
	}

	if err := c.nc.Publish(c.subject, data); err != nil {
		if err == nats.ErrConnectionClosed {
			return peersync.ErrChannelClosed
		}
		return fmt.Errorf("publish message: %w", err)
	}

	// FlushWithContext insists on a deadline
	if _, ok := ctx.Deadline(); !ok {
		err = c.nc.Flush()
	} else {
		err = c.nc.FlushWithContext(ctx)
	}
	if err != nil {
		return fmt.Errorf("flush message: %w", err)
	}
	return nil
}

func (c *NATSChannel) OnReceive(handler peersync.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Close unsubscribes and closes the NATS connection.
func (c *NATSChannel) Close() error {
	log.Info().Str("subject", c.subject).Msg("leaving NATS pairing")

	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil && err != nats.ErrConnectionClosed {
			log.Warn().Err(err).Msg("failed to unsubscribe")
		}
	}
	c.nc.Close()
	return nil
}

func (c *NATSChannel) handle(m *nats.Msg) {
	// our own publications come back on the wildcard
	if m.Subject == c.subject {
		return
	}

	msg, err := peersync.Decode(m.Data)
	if err != nil {
		log.Debug().Err(err).Str("subject", m.Subject).Msg("dropping undecodable NATS message")
		return
	}

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler != nil {
		handler(msg)
	}
}
