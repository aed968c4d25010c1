package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sigmap/internal/config"
	"sigmap/internal/engine"
	"sigmap/internal/httpapi"
	"sigmap/internal/metrics"
	"sigmap/internal/prefstore"
	"sigmap/internal/queryapi"
	"sigmap/internal/savedloc"
	"sigmap/internal/state"
)

func main() {
	configPath := flag.String("config", "sigmap.yaml", "path to the YAML config file")
	flag.Parse()

	// A missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := httpapi.NewLogger("info")
		bootLogger.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger := httpapi.NewLogger(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prefs, err := prefstore.Open(cfg.Prefs.Path)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.Prefs.Path).Msg("failed to open preference store")
	}
	defer prefs.Close()

	m := metrics.New()
	locations := savedloc.New(prefs, logger)
	client := queryapi.New(cfg.Backend.URL, cfg.Backend.Timeout, logger)

	eng := engine.New(logger, client, state.New(), m, engine.Options{
		ZoomFloorQuery:    cfg.Map.ZoomFloorQuery,
		ZoomFloorActivate: cfg.Map.ZoomFloorActivate,
		ZoomFloorSaved:    cfg.Map.ZoomFloorSaved,
	})

	h := httpapi.NewHandler(logger, eng, locations, prefs, m)
	eng.RegisterView(h.Stream())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Str("backend", cfg.Backend.URL).Msg("sigmap listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info().Msg("shutdown complete")
}
