package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/mcdev12/bluetime/go/internal/config"
	"github.com/mcdev12/bluetime/go/internal/device"
	"github.com/mcdev12/bluetime/go/internal/transport"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

type deviceOptions struct {
	pairingID string
	transport string
	relayURL  string
	natsURL   string
	port      string
	duration  time.Duration
	noConsole bool
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "bluetime",
		Short:         "Countdown timer mirrored between a watch and a phone",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newDeviceCommand(opts, device.RoleWatch, "Run the watch-side interface controller"),
		newDeviceCommand(opts, device.RolePhone, "Run a phone-side peer that serves snapshots"),
		newRelayCommand(opts),
	)

	return root
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := loadConfig(o.configPath)
	if err != nil {
		return cfg, err
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
		setupLogging(cfg.LogLevel)
	}
	return cfg, nil
}

func newDeviceCommand(root *rootOptions, role device.Role, short string) *cobra.Command {
	opts := &deviceOptions{}

	cmd := &cobra.Command{
		Use:   string(role),
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			opts.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runDevice(cfg, role, opts.noConsole)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.pairingID, "pairing-id", "", "pairing id shared with the other device (generated when empty)")
	f.StringVar(&opts.transport, "transport", "", "peer transport: websocket or nats")
	f.StringVar(&opts.relayURL, "relay-url", "", "relay WebSocket URL")
	f.StringVar(&opts.natsURL, "nats-url", "", "NATS server URL")
	f.StringVar(&opts.port, "port", "", "port for the timer HTTP API (overrides api_port; disabled when empty)")
	f.DurationVar(&opts.duration, "duration", 0, "initial countdown duration")
	f.BoolVar(&opts.noConsole, "no-console", false, "do not read commands from stdin")

	return cmd
}

// apply overrides cfg with the flags that were set.
func (o *deviceOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("pairing-id") {
		cfg.PairingID = o.pairingID
	}
	if f.Changed("transport") {
		cfg.Transport = o.transport
	}
	if f.Changed("relay-url") {
		cfg.RelayURL = o.relayURL
	}
	if f.Changed("nats-url") {
		cfg.NATSURL = o.natsURL
	}
	if f.Changed("port") {
		cfg.APIPort = o.port
	}
	if f.Changed("duration") {
		cfg.Duration = o.duration
	}
}

func newRelayCommand(root *rootOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the WebSocket relay that pairs devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			return runRelay(cfg)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port")

	return cmd
}

func runDevice(cfg config.Config, role device.Role, noConsole bool) error {
	ctx, cancel := signalContext()
	defer cancel()

	d, err := setupDevice(ctx, cfg, role)
	if err != nil {
		return err
	}
	defer d.Channel.Close()
	defer d.Controller.Close()

	log.Info().
		Str("role", string(role)).
		Str("pairing_id", d.PairingID.String()).
		Str("transport", cfg.Transport).
		Msg("device started")

	d.Controller.DidAppear(ctx)

	if cfg.APIPort != "" {
		server := setupServer(cfg.APIPort, device.NewStateHandler(d.Controller))
		go func() {
			if err := serve(ctx, server); err != nil {
				log.Error().Err(err).Msg("timer API stopped")
			}
		}()
	}

	if !noConsole {
		console := device.NewConsole(d.Controller, os.Stdout)
		go func() {
			if err := console.Run(ctx, os.Stdin); err != nil {
				log.Error().Err(err).Msg("console stopped")
			}
		}()
	}

	var lost <-chan struct{}
	if ws, ok := d.Channel.(*transport.WebSocketChannel); ok {
		lost = ws.Done()
	}

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case <-lost:
		log.Warn().Msg("relay connection lost")
	}

	log.Info().Str("role", string(role)).Msg("device shutdown complete")
	return nil
}

func runRelay(cfg config.Config) error {
	ctx, cancel := signalContext()
	defer cancel()

	relay := transport.NewRelay(transport.DefaultConnectionConfig())
	go relay.Start(ctx)

	server := setupServer(cfg.Port, relay)
	log.Info().Str("port", cfg.Port).Msg("starting relay")

	if err := serve(ctx, server); err != nil {
		return err
	}

	log.Info().Msg("relay shutdown complete")
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
