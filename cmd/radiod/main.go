// ABOUTME: Main entry point for the radio daemon
// ABOUTME: Loads config, builds the session, runs the control API until signalled
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/harper/radiod/internal/application/config"
	"github.com/harper/radiod/internal/application/session"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("fatal")
	}
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !cfg.JSON {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func run() error {
	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Logging)

	sess, err := session.New(cfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx); err != nil {
		sess.Shutdown()
		return fmt.Errorf("start session: %w", err)
	}

	addr := net.JoinHostPort(cfg.Listen.Host, strconv.Itoa(cfg.Listen.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           sess.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		// no write or idle timeout: /listen and /events stream indefinitely
	}

	shutdown := make(chan error, 1)
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		shutdown <- srv.Shutdown(sctx)
	}()

	log.Info().Str("addr", addr).Str("device", cfg.Audio.Device).Msg("listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		stop()
		<-shutdown
		sess.Shutdown()
		return fmt.Errorf("http server: %w", err)
	}

	if err := <-shutdown; err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	if err := sess.Shutdown(); err != nil {
		return fmt.Errorf("shutdown session: %w", err)
	}

	log.Info().Msg("shutdown complete")
	return nil
}
