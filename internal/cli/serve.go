package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/roach88/pivot/internal/cache"
	"github.com/roach88/pivot/internal/engine"
	"github.com/roach88/pivot/internal/server"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	CacheDir string
	CacheTTL time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the data cubes over HTTP",
		Long: `Serve queries, view definitions and saved views over HTTP.

Loads the settings, opens the database holding the data cube sources and
serves until interrupted. With --cache-dir, query results are cached on
disk for --cache-ttl.

Example:
  pivot serve --config ./pivot.yaml --db ./pivot.db --addr :9090
  pivot serve --cache-dir /tmp/pivot-cache --cache-ttl 1m --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":9090", "address to listen on")
	cmd.Flags().StringVar(&opts.CacheDir, "cache-dir", "", "directory of the result cache (no cache when empty)")
	cmd.Flags().DurationVar(&opts.CacheTTL, "cache-ttl", 5*time.Minute, "lifetime of cached results")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	settings, err := loadSettings(opts.Config)
	if err != nil {
		return err
	}

	st, err := openStore(opts.DB)
	if err != nil {
		return err
	}
	defer closeStore(st)
	slog.Info("database ready", "path", opts.DB)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engineOpts := []engine.Option{engine.WithMetrics(engine.NewMetrics(reg))}
	if opts.CacheDir != "" {
		c, err := cache.Open(opts.CacheDir, opts.CacheTTL)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open result cache", err)
		}
		defer func() {
			if closeErr := c.Close(); closeErr != nil {
				slog.Error("error closing result cache", "error", closeErr)
			}
		}()
		slog.Info("result cache ready", "dir", opts.CacheDir, "ttl", opts.CacheTTL)
		engineOpts = append(engineOpts, engine.WithCache(c))
	}
	eng := engine.New(st, settings, engineOpts...)
	srv := server.New(eng, st, server.WithRegistry(reg))

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d data cube(s) on %s\n", len(settings.DataCubes), opts.Addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := srv.ListenAndServe(ctx, opts.Addr); err != nil {
		return WrapExitError(ExitFailure, "server error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}
