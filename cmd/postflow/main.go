package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"postflow/internal/app"
	"postflow/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to a YAML config file (default ./postflow.yaml if present)")
		addr       = flag.String("addr", "", "HTTP bind address, overrides server.addr")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	setupLogging(cfg.Log)

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("init")
	}
	if err := a.Start(); err != nil {
		log.Fatal().Err(err).Msg("start scheduler")
	}

	// HTTP server
	srv := &http.Server{Addr: cfg.Server.Addr, Handler: a.Handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
	if err := a.Close(); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
