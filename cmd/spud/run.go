// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 SPUD Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/spud-tui/spud/internal/config"
	"github.com/spud-tui/spud/internal/host"
	"github.com/spud-tui/spud/internal/logging"
	"github.com/spud-tui/spud/internal/observability"
	"github.com/spud-tui/spud/internal/plugin/remote"
	"github.com/spud-tui/spud/pkg/errutil"
)

const serverShutdownTimeout = 5 * time.Second

// NewRunCmd creates the run subcommand.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the host and every discovered plugin",
		Long: `Discover plugins under the configured roots, start each one, and drive
the frame loop until interrupted or a plugin invokes the quit command.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runHost(ctx, cfg)
		},
	}

	cmd.Flags().StringSlice("plugin-dir", nil, "plugin search root, repeatable (default: XDG_DATA_HOME/spud/plugins)")
	cmd.Flags().Duration("handshake-timeout", host.DefaultHandshakeTimeout, "time a plugin has to complete spud.handshake")
	cmd.Flags().Duration("pump-budget", host.DefaultPumpBudget, "wall-clock budget for servicing plugin requests per frame")
	cmd.Flags().Duration("tick-rate", host.DefaultTickRate, "frame interval")
	cmd.Flags().String("metrics-addr", "", "metrics/health HTTP address (empty = disabled)")

	return cmd
}

// runHost wires the runtime, the host shell and the optional observability
// server, then runs the frame loop until ctx ends.
func runHost(ctx context.Context, cfg *config.Config) error {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return oops.Code(config.CodeInvalid).Wrap(err)
	}
	logger := logging.SetDefault("spud", version, cfg.Log.Format, level)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var ready atomic.Bool
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		srv := observability.NewServer(cfg.Metrics.Addr, ready.Load)
		errCh, err := srv.Start()
		if err != nil {
			return oops.With("addr", cfg.Metrics.Addr).Wrapf(err, "failed to start observability server")
		}
		defer stopServer(logger, srv)
		go monitorServerErrors(ctx, cancel, errCh, logger)
		metrics = srv.Metrics()
	}

	rtOpts := []remote.Option{remote.WithLogger(logger), remote.WithMetrics(metrics)}
	rt, err := remote.NewRuntime(cfg.Plugins.Dirs, rtOpts...)
	if err != nil {
		// The registry is all-or-nothing; the host runs on without plugins.
		errutil.LogWarn(logger.With("roots", cfg.Plugins.Dirs), "plugin runtime discovery failed, plugins disabled", err)
		if rt, err = remote.Register(nil, rtOpts...); err != nil {
			return err
		}
	}
	logger.Info("plugins discovered", "count", len(rt.PluginIDs()), "roots", cfg.Plugins.Dirs)

	state := host.NewState(time.Now())
	bridge := host.NewBridge(state, host.BuiltinCommands())
	loop := host.NewLoop(rt, bridge,
		host.WithLoopLogger(logger),
		host.WithTickRate(cfg.Host.TickRate),
		host.WithPumpBudget(cfg.Plugins.PumpBudget),
		host.WithHandshakeTimeout(cfg.Plugins.HandshakeTimeout),
	)

	ready.Store(true)
	defer ready.Store(false)

	if err := loop.Run(ctx); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func stopServer(logger *slog.Logger, srv *observability.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		errutil.LogWarn(logger, "error stopping observability server", err)
	}
}

// monitorServerErrors cancels the host when the observability server fails.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			errutil.LogError(logger, "observability server failed", err)
			cancel()
		}
	case <-ctx.Done():
	}
}
