// Command inferbridge runs the protocol bridge daemon: a persistent
// WebSocket client toward the local inference server and a small HTTP API
// for front-ends on the loopback interface.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/inferbridge/inferbridge/internal/api"
	"github.com/inferbridge/inferbridge/internal/bridge"
	"github.com/inferbridge/inferbridge/internal/config"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("bridge exited")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	session := bridge.New(cfg, log)
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Connect(ctx); err != nil {
		// The HTTP API still comes up: callers can inspect the connection
		// state and the fallback path may serve completions.
		log.Warn().Err(err).Msg("initial connect failed")
	}

	r := chi.NewRouter()
	api.NewHandler(session, log).Mount(r)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("http api listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
