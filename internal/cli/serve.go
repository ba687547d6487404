package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/dendritehq/dendrite/internal/config"
	"github.com/dendritehq/dendrite/internal/engine"
	"github.com/dendritehq/dendrite/internal/server"
	"github.com/dendritehq/dendrite/internal/store"
)

// ServeOptions holds flags for the serve command. Flags override the
// DENDRITE_* environment.
type ServeOptions struct {
	*RootOptions
	Database string
	Listen   string
	Projects string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the engine and HTTP API",
		Long: `Start the commit engine and its HTTP API.

Loads the bootstrap project directory, opens the SQLite database
(creating it if it doesn't exist), upserts projects and owners, and
starts the single-writer engine loop alongside the HTTP server.

Example:
  dendrite serve --db ./dendrite.db --projects ./projects.yaml
  dendrite serve --listen :9090 --verbose`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $DENDRITE_DB)")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "HTTP listen address (default $DENDRITE_LISTEN)")
	cmd.Flags().StringVar(&opts.Projects, "projects", "", "path to project directory YAML (default $DENDRITE_PROJECTS)")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(log)

	settings := config.FromEnv()
	if opts.Database != "" {
		settings.DatabasePath = opts.Database
	}
	if opts.Listen != "" {
		settings.ListenAddr = opts.Listen
	}
	if opts.Projects != "" {
		settings.ProjectsFile = opts.Projects
	}

	log.Info("loading project directory", "path", settings.ProjectsFile)
	bootstrap, errs := config.LoadBootstrap(settings.ProjectsFile)
	if len(errs) > 0 {
		for _, e := range errs {
			log.Error("invalid project directory", "error", e)
		}
		return NewExitError(ExitCommandError, fmt.Sprintf("project directory %s is invalid", settings.ProjectsFile))
	}

	log.Info("opening database", "path", settings.DatabasePath)
	st, err := store.Open(settings.DatabasePath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if err := st.Bootstrap(ctx, bootstrap.StoreProjects()); err != nil {
		return WrapExitError(ExitCommandError, "failed to bootstrap projects", err)
	}
	log.Info("projects bootstrapped", "count", len(bootstrap.Projects))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	eng := engine.New(st, engine.Options{
		Log:      log,
		Metrics:  engine.NewMetrics(registry),
		Projects: bootstrap.KnownProjects(),
		Owners:   bootstrap.Owners(),
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	engineDone := make(chan error, 1)
	go func() {
		engineDone <- eng.Run(ctx)
	}()

	srv := server.New(log, eng, st, registry)
	log.Info("serving", "addr", settings.ListenAddr, "db", settings.DatabasePath)
	if err := srv.Run(ctx, settings.ListenAddr); err != nil {
		cancel()
		<-engineDone
		return WrapExitError(ExitFailure, "http server error", err)
	}

	cancel()
	if err := <-engineDone; err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "engine error", err)
	}

	log.Info("stopped gracefully")
	return nil
}
