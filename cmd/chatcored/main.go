// Command chatcored is the resumable chat-streaming server: it wires
// config, logging, storage, the tool catalog, optional cross-instance
// routing, and the WebSocket transport into one process. Grounded on
// the teacher's cmd/server/main.go wiring order (config load → logger
// → database → services → router → background listeners → graceful
// shutdown) and its setupGraphQLServer chi/cors setup, with gin's REST
// surface replaced end to end by the single WebSocket edge this module
// exposes.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"

	"github.com/eternisai/chatcore/internal/config"
	"github.com/eternisai/chatcore/internal/distributed"
	"github.com/eternisai/chatcore/internal/logger"
	"github.com/eternisai/chatcore/internal/modeldriver"
	"github.com/eternisai/chatcore/internal/toolcatalog"
	"github.com/eternisai/chatcore/internal/transport"
)

func main() {
	cfg := config.Load()
	if err := cfg.LoadTuningFile(os.Getenv("TUNING_FILE")); err != nil {
		log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
		log.LogError(context.Background(), err, "failed to load tuning file")
		os.Exit(1)
	}

	lg := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))

	catalog, err := toolcatalog.Load(os.Getenv("TOOL_CATALOG_FILE"))
	if err != nil {
		lg.LogError(context.Background(), err, "failed to load tool catalog")
		os.Exit(1)
	}

	// modeldriver.Fake ships as the default driver: the generative
	// model collaborator is an explicit out-of-scope boundary
	// (internal/modeldriver.Driver's doc comment), not a gap to close
	// here. A real deployment replaces this with its own Driver.
	reg := newRegistry(cfg, &modeldriver.Fake{}, lg)
	defer reg.Close()

	var router *distributed.Router
	if cfg.NatsEnabled && cfg.NatsURL != "" {
		nc, err := nats.Connect(cfg.NatsURL)
		if err != nil {
			lg.Warn("failed to connect to NATS, running single-instance", slog.String("error", err.Error()))
		} else {
			defer nc.Close()
			router = distributed.NewRouter(nc, reg, lg, cfg.InstanceID, cfg.CancelSubject, cfg.ResumeSubject)
			if err := router.Start(); err != nil {
				lg.LogError(context.Background(), err, "failed to start distributed router")
				os.Exit(1)
			}
			defer router.Stop()
		}
	}

	mux := chi.NewRouter()
	mux.Use(cors.New(cors.Options{
		AllowCredentials: true,
		AllowedOrigins:   strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Accept"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
	}).Handler)

	mux.Get("/ws/{session_name}", transport.Serve(resolveFromPath, reg.Resolve, catalog, lg))

	if cfg.MetricsEnabled {
		metricsMux := chi.NewRouter()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: metricsMux}
		go func() {
			lg.Info("metrics server listening", slog.String("port", cfg.MetricsPort))
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				lg.LogError(context.Background(), err, "metrics server error")
			}
		}()
		defer metricsServer.Shutdown(context.Background())
	}

	cleanup := cron.New()
	if _, err := cleanup.AddFunc(cfg.CleanupCronSchedule, func() {
		for _, ctrl := range reg.Sessions() {
			if err := ctrl.Cleanup(context.Background()); err != nil {
				lg.LogError(context.Background(), err, "retention cleanup failed", "session_name", ctrl.Name())
			}
		}
	}); err != nil {
		lg.LogError(context.Background(), err, "invalid cleanup cron schedule")
		os.Exit(1)
	}
	cleanup.Start()
	defer func() { <-cleanup.Stop().Done() }()

	server := &http.Server{Addr: ":" + cfg.Port, Handler: mux}
	go func() {
		lg.Info("chatcored listening", slog.String("port", cfg.Port), slog.String("instance_id", logger.GetInstanceID()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.LogError(context.Background(), err, "server error")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		lg.LogError(ctx, err, "server forced to shutdown")
	}
	lg.Info("shutdown complete")
}

// resolveFromPath reads the {session_name} chi URL param, the only
// session-naming surface this module exposes (authentication/ownership
// checks are an out-of-scope collaborator per spec §1's Non-goals).
func resolveFromPath(r *http.Request) (string, bool) {
	name := chi.URLParam(r, "session_name")
	return name, name != ""
}
