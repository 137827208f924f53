package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-covid19-stats/internal/api"
	"github.com/mr1hm/go-covid19-stats/internal/config"
	"github.com/mr1hm/go-covid19-stats/internal/events"
	internalgrpc "github.com/mr1hm/go-covid19-stats/internal/grpc"
	"github.com/mr1hm/go-covid19-stats/internal/ingestion"
	"github.com/mr1hm/go-covid19-stats/internal/logging"
	"github.com/mr1hm/go-covid19-stats/internal/models"
	"github.com/mr1hm/go-covid19-stats/internal/repository"
	"github.com/mr1hm/go-covid19-stats/internal/stats"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, "covid19-server")

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	db, err := repository.NewSQLiteDB(cfg.DB.Path)
	if err != nil {
		logging.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Refresh events for /api/events subscribers
	broadcaster := events.NewBroadcaster()

	fetcher := ingestion.NewFetcher(cfg.Sources.FetchTimeout)
	svc := stats.NewService(db, stats.Sources{
		Confirmed: ingestion.NewSeriesLoader(fetcher, models.SeriesConfirmed, cfg.Sources.ConfirmedURL),
		Deaths:    ingestion.NewSeriesLoader(fetcher, models.SeriesDeaths, cfg.Sources.DeathsURL),
		Recovered: ingestion.NewSeriesLoader(fetcher, models.SeriesRecovered, cfg.Sources.RecoveredURL),
		Daily:     ingestion.NewDailyReporter(fetcher, cfg.Sources.DailyReportBaseURL),
	}, broadcaster, cfg.Sources.CacheTTL)

	mgr := ingestion.NewManager(cfg, svc)
	if err := mgr.Start(ctx); err != nil {
		logging.Fatalf("Failed to start warm-up scheduler: %v", err)
	}

	// gRPC health server, per-dataset status from refresh events
	var healthServer *internalgrpc.Server
	if cfg.GRPC.Port > 0 {
		healthServer, err = internalgrpc.NewServer(broadcaster)
		if err != nil {
			logging.Fatalf("Failed to create gRPC health server: %v", err)
		}
		go func() {
			grpcAddr := fmt.Sprintf(":%d", cfg.GRPC.Port)
			if err := healthServer.Start(grpcAddr); err != nil {
				logging.Fatalf("gRPC server error: %v", err)
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(svc, broadcaster)
	router := api.NewRouter(cfg.Server, handler, slog.Default())
	srv := api.NewServer(cfg.Server, router)

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	cancel()
	mgr.Stop()
	broadcaster.Close() // ends open event streams
	if healthServer != nil {
		healthServer.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
