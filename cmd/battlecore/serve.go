package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/warband/battlecore/internal/battle"
	"github.com/warband/battlecore/internal/config"
	"github.com/warband/battlecore/internal/influx"
	"github.com/warband/battlecore/internal/logging"
	"github.com/warband/battlecore/internal/monitor"
	intOtel "github.com/warband/battlecore/internal/otel"
	"github.com/warband/battlecore/internal/server"
	"github.com/warband/battlecore/internal/storage"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the authoritative battle and accept observers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("listen", "", "listen address (overrides listenAddr)")
	_ = viper.BindPFlag("listenAddr", serveCmd.Flags().Lookup("listen"))
	rootCmd.AddCommand(serveCmd)
}

// hubContext adds the served battle to log records once a hub is stored.
// Storage and metrics goroutines may log before that.
func hubContext(p *atomic.Pointer[server.Hub]) logging.ContextProvider {
	return func() []slog.Attr {
		hub := p.Load()
		if hub == nil {
			return nil
		}
		return logging.BattleContext(hub.Battle().ID(), hub.LastSeq)()
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	var current atomic.Pointer[server.Hub]
	env, err := setupRuntime("battlecore", hubContext(&current))
	if err != nil {
		return err
	}
	defer env.Close()
	logger := env.Logger

	catalog, info, err := loadBattle(logger)
	if err != nil {
		return err
	}

	backend, err := createStorageBackend(config.GetStorageConfig(), logger, env.ZLogger)
	if err != nil {
		return err
	}
	if err := backend.Init(); err != nil {
		return fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	defer backend.Close()
	info.StartTime = env.SessionStart
	if err := backend.StartBattle(&info); err != nil {
		return fmt.Errorf("failed to start journal: %w", err)
	}

	opts := server.Options{
		Catalog:        catalog,
		Journal:        backend,
		Logger:         logger,
		DispatchLogger: logging.NewDispatcherLogger(env.ZLogger),
	}

	influxManager := influx.NewManager(env.ZLogger, influx.SettingsFromConfig())
	var publish func(monitor.Status) error
	switch err := influxManager.Connect(cmd.Context()); {
	case err == nil:
		opts.Metrics = influxManager
		publish = influxManager.RecordStatus
		defer influxManager.Close()
	case errors.Is(err, influx.ErrDisabled):
	default:
		logger.Warn("Action metrics disabled", "error", err)
	}

	hub, err := server.New(battle.FromInfo(info), opts)
	if err != nil {
		return err
	}
	current.Store(hub)

	if viper.GetBool("monitor.enabled") {
		mon := monitor.NewService(monitorDeps(hub, backend, env.OTelProvider, publish, logger))
		if err := mon.Start(); err != nil {
			logger.Warn("Status monitor not started", "error", err)
		} else {
			defer mon.Stop()
		}
	}

	srv := &http.Server{
		Addr:              viper.GetString("listenAddr"),
		Handler:           hub.NewMux(viper.GetString("secret")),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Accepting observers", "addr", srv.Addr, "path", server.Path)
		serveErr <- srv.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("Hub did not close cleanly", "error", err)
	}
	_ = srv.Shutdown(shutdownCtx)

	if err := backend.EndBattle(); err != nil {
		logger.Error("Failed to finish journal", "error", err)
	}
	if up, ok := backend.(storage.Uploadable); ok && up.GetExportedFilePath() != "" {
		fmt.Fprintln(cmd.OutOrStdout(), "journal:", up.GetExportedFilePath())
	}
	return nil
}

func monitorDeps(hub *server.Hub, backend storage.Backend, provider *intOtel.Provider, publish func(monitor.Status) error, logger *slog.Logger) monitor.Dependencies {
	deps := monitor.Dependencies{
		Hub:        hub,
		Queues:     []monitor.QueueSource{hub},
		Publish:    publish,
		StatusFile: viper.GetString("monitor.statusFile"),
		Interval:   viper.GetDuration("monitor.interval"),
		Logger:     logger,
	}
	if q, ok := backend.(storage.QueueReporter); ok {
		deps.Queues = append(deps.Queues, q)
	}
	if provider != nil && provider.Enabled() {
		deps.Metrics = func() map[string]float64 {
			rm, ok, err := provider.Collect(context.Background())
			if err != nil || !ok {
				return nil
			}
			return intOtel.Sums(rm)
		}
	}
	return deps
}
