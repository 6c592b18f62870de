// Package main starts the sync pipeline worker: scheduler, extraction,
// transform and embedding consumers in one process.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/relaydev/syncd/domain/canonical"
	"github.com/relaydev/syncd/domain/embedding"
	"github.com/relaydev/syncd/domain/etljobs"
	"github.com/relaydev/syncd/domain/extraction"
	"github.com/relaydev/syncd/domain/extraction/providers/github"
	"github.com/relaydev/syncd/domain/extraction/providers/jira"
	"github.com/relaydev/syncd/domain/integrations"
	"github.com/relaydev/syncd/domain/status"
	"github.com/relaydev/syncd/domain/tenants"
	"github.com/relaydev/syncd/domain/transform"
	"github.com/relaydev/syncd/internal/config"
	"github.com/relaydev/syncd/internal/database"
	"github.com/relaydev/syncd/internal/queue"
	"github.com/relaydev/syncd/internal/retention"
	"github.com/relaydev/syncd/internal/scheduler"
	"github.com/relaydev/syncd/pkg/encryption"
	"github.com/relaydev/syncd/pkg/logger"
)

func main() {
	// .env files are for local development; existing vars win.
	_ = godotenv.Load(".env")
	_ = godotenv.Overload(".env.local")

	fx.New(
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log}
		}),

		// Infrastructure
		logger.Module,
		config.Module,
		database.Module,
		queue.Module,
		scheduler.Module,
		retention.Module,

		// Credential encryption
		fx.Provide(
			encryption.NewService,
			func(s *encryption.Service) encryption.Decrypter { return s },
		),

		// Domain
		status.Module,
		tenants.Module,
		integrations.Module,
		canonical.Module,
		etljobs.Module,
		extraction.Module,
		jira.Module,
		github.Module,
		transform.Module,
		embedding.Module,

		fx.Invoke(serveMetrics),
	).Run()
}

// serveMetrics exposes prometheus metrics and a liveness endpoint.
func serveMetrics(lc fx.Lifecycle, log *slog.Logger) {
	addr := os.Getenv("METRICS_ADDR")
	if addr == "" {
		addr = ":9090"
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("metrics server failed", logger.Error(err))
				}
			}()
			log.Info("metrics server listening", slog.String("addr", addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return server.Shutdown(ctx)
		},
	})
}
