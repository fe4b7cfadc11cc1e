package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"meeting-transcription-service/internal/app"
	"meeting-transcription-service/internal/config"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg := config.Load()

	application, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build application")
	}

	serveErr := application.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("Shutdown signal received")
	case err := <-serveErr:
		log.Error().Err(err).Msg("HTTP server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	application.Shutdown(ctx)
}
