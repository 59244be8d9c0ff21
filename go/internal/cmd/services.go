package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/bluetime/go/internal/config"
	"github.com/mcdev12/bluetime/go/internal/device"
	"github.com/mcdev12/bluetime/go/internal/peersync"
	"github.com/mcdev12/bluetime/go/internal/transport"
)

// peerChannel is a peersync.Channel that owns a connection.
type peerChannel interface {
	peersync.Channel
	Close() error
}

// Device is one side of a pairing, ready to run.
type Device struct {
	PairingID  uuid.UUID
	Channel    peerChannel
	Controller *device.Controller
}

func setupDevice(ctx context.Context, cfg config.Config, role device.Role) (*Device, error) {
	pairingID, err := resolvePairingID(cfg.PairingID)
	if err != nil {
		return nil, err
	}

	name := cfg.Device
	if name == "" {
		name = string(role)
	}

	channel, err := setupChannel(ctx, cfg, pairingID, name)
	if err != nil {
		return nil, err
	}

	presenter := device.NewLogPresenter(log.Logger.With().Str("device", name).Logger())
	controller := device.NewController(device.Config{
		Role:        role,
		Duration:    cfg.Duration,
		SendTimeout: cfg.SendTimeout,
	}, clockwork.NewRealClock(), presenter, channel)

	return &Device{
		PairingID:  pairingID,
		Channel:    channel,
		Controller: controller,
	}, nil
}

func setupChannel(ctx context.Context, cfg config.Config, pairingID uuid.UUID, name string) (peerChannel, error) {
	switch cfg.Transport {
	case config.TransportNATS:
		natsCfg := transport.DefaultNATSConfig()
		natsCfg.URL = cfg.NATSURL
		natsCfg.SubjectPrefix = cfg.SubjectPrefix
		natsCfg.PairingID = pairingID
		natsCfg.Device = name

		ch, err := transport.NewNATSChannel(natsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to join NATS pairing: %w", err)
		}
		return ch, nil

	default:
		ch, err := transport.DialWebSocket(ctx, cfg.RelayURL, pairingID, name, transport.DefaultConnectionConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to join relay pairing: %w", err)
		}
		return ch, nil
	}
}

// resolvePairingID parses a configured pairing ID or creates a new one.
func resolvePairingID(raw string) (uuid.UUID, error) {
	if raw == "" {
		id := uuid.New()
		log.Info().Str("pairing_id", id.String()).Msg("generated new pairing id; pass it to the other device")
		return id, nil
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid pairing id %q: %w", raw, err)
	}
	return id, nil
}
