package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/snapvote/snapvote/internal/gateway"
	"github.com/snapvote/snapvote/internal/room"
	"github.com/snapvote/snapvote/internal/schedule"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("no .env file loaded")
	}

	cfg, err := loadConfig(getEnv("CONFIG_PATH", "config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogging(cfg.Log.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()

	// The gateway needs the store and the scheduler needs the gateway, so
	// the expiry callback closes over the service variable assigned below.
	// Nothing fires before a room is created.
	var gatewaySvc *gateway.Service
	scheduler := schedule.NewScheduler(clock, func(roomID string) {
		gatewaySvc.PollExpired(roomID)
	})

	store := room.NewStore(room.Config{
		Duration:  cfg.PollDuration(),
		Clock:     clock,
		Scheduler: scheduler,
	})
	gatewaySvc = gateway.NewService(gateway.DefaultConnectionConfig(), store)

	go scheduler.Start(ctx)
	go gatewaySvc.Start(ctx)

	if retention := cfg.Retention(); retention > 0 {
		go runEvictionLoop(ctx, clock, store, retention)
	}

	srv := setupServer(cfg, gatewaySvc)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced server shutdown")
	}

	log.Info().Msg("server stopped")
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}

// runEvictionLoop periodically removes rooms that ended longer than
// retention ago. The sweep interval does not need to be tight; once a
// minute keeps the registry bounded.
func runEvictionLoop(ctx context.Context, clock clockwork.Clock, store *room.Store, retention time.Duration) {
	ticker := clock.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			store.Evict(retention)
		}
	}
}
