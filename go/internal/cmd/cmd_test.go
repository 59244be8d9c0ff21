package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/bluetime/go/internal/config"
	"github.com/mcdev12/bluetime/go/internal/device"
)

func TestResolvePairingID(t *testing.T) {
	id, err := resolvePairingID("")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	want := uuid.New()
	id, err = resolvePairingID(want.String())
	require.NoError(t, err)
	assert.Equal(t, want, id)

	_, err = resolvePairingID("not-a-uuid")
	assert.Error(t, err)
}

func TestDeviceFlagsOverrideConfig(t *testing.T) {
	root := newRootCommand()
	cmd, _, err := root.Find([]string{string(device.RoleWatch)})
	require.NoError(t, err)

	require.NoError(t, cmd.Flags().Parse([]string{
		"--transport", config.TransportNATS,
		"--duration", "90s",
		"--port", "9000",
	}))

	cfg := config.NewConfigFromEnv()
	relayURL := cfg.RelayURL

	opts := &deviceOptions{}
	opts.transport, _ = cmd.Flags().GetString("transport")
	opts.duration, _ = cmd.Flags().GetDuration("duration")
	opts.port, _ = cmd.Flags().GetString("port")
	opts.apply(cmd, &cfg)

	assert.Equal(t, config.TransportNATS, cfg.Transport)
	assert.Equal(t, 90*time.Second, cfg.Duration)
	assert.Equal(t, "9000", cfg.APIPort)
	assert.Equal(t, relayURL, cfg.RelayURL)
}

func TestDeviceAPIPortKeptWithoutFlag(t *testing.T) {
	t.Setenv("BLUETIME_API_PORT", "9191")

	root := newRootCommand()
	cmd, _, err := root.Find([]string{string(device.RolePhone)})
	require.NoError(t, err)
	require.NoError(t, cmd.Flags().Parse([]string{"--transport", config.TransportNATS}))

	cfg := config.NewConfigFromEnv()
	opts := &deviceOptions{}
	opts.transport, _ = cmd.Flags().GetString("transport")
	opts.apply(cmd, &cfg)

	assert.Equal(t, "9191", cfg.APIPort)
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := newRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"watch", "phone", "relay"})
}

func TestSetupLogging(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	setupLogging("debug")
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	setupLogging("loud")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
