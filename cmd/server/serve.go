package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/NarukamiTO/server-sub000/internal/core/observability/log"
	"github.com/NarukamiTO/server-sub000/internal/injector"
	"github.com/NarukamiTO/server-sub000/internal/server"
)

type serveOptions struct {
	quicAddr     string
	wsAddr       string
	logLevel     string
	logFormat    string
	resourceFile string
}

// NewServeCommand creates the serve command. Flags override the config file.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:          "serve",
		Short:        "Run the game server",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := server.LoadConfigFile(rootOpts.ConfigPath)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("quic-addr") {
				cfg.QUIC.Addr = opts.quicAddr
			}
			if flags.Changed("ws-addr") {
				cfg.WebSocket.Addr = opts.wsAddr
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = opts.logLevel
			}
			if flags.Changed("log-format") {
				cfg.LogFormat = opts.logFormat
			}
			if flags.Changed("resources") {
				cfg.ResourceFile = opts.resourceFile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&opts.quicAddr, "quic-addr", "", "QUIC listen address, empty to disable")
	cmd.Flags().StringVar(&opts.wsAddr, "ws-addr", "", "WebSocket listen address, empty to disable")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "", "log encoding (json|console)")
	cmd.Flags().StringVar(&opts.resourceFile, "resources", "", "path to the resource list")

	return cmd
}

func runServe(ctx context.Context, cfg server.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	srv, err := injector.InitializeServer(cfg)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- srv.Wait() }()

	select {
	case <-ctx.Done():
	case err = <-waitErr:
		if err != nil {
			log.Provide().Error("Listener failed", log.Error(err))
		}
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if stopErr := srv.Stop(stopCtx); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}
