package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/room4-2/voicerelay/config"
	"github.com/room4-2/voicerelay/logging"
	"github.com/room4-2/voicerelay/prompt"
	"github.com/room4-2/voicerelay/recall"
	"github.com/room4-2/voicerelay/server"
	"github.com/room4-2/voicerelay/session"
	"github.com/room4-2/voicerelay/upstream"
)

func main() {
	logging.Setup()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dialer := upstream.NewDialer(cfg, prompt.Instructions)
	sessionManager := session.NewManager(cfg, dialer, session.ConnectRedis(ctx, cfg))
	go sessionManager.StartCleanupRoutine(ctx)

	bots := recall.NewClient(cfg.Recall, nil)
	if !bots.Configured() {
		log.Warn().Msg("RECALL_API_KEY not set, /create-bot will answer 503")
	}

	srv := server.New(ctx, cfg, sessionManager, bots)

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
}
