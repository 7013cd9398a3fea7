// Package main is the entry point for the midi2makecode API server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/james-see/midi2makecode/pkg/api"
	"github.com/james-see/midi2makecode/pkg/config"
	"github.com/james-see/midi2makecode/pkg/logger"
)

// releaseVersion is set via ldflags during build
var releaseVersion = "dev"

func main() {
	port := flag.String("port", "", "Server port (default from PORT)")
	flag.Parse()

	if err := run(*port); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}

func run(port string) error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Port = port
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	flush, err := api.InitSentry(cfg, releaseVersion)
	if err != nil {
		log.Warn("sentry disabled", zap.Error(err))
	} else if cfg.SentryDSN == "" {
		log.Info("sentry not configured (SENTRY_DSN not set)")
	}
	defer flush()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting midi2makecode API server",
		zap.String("port", cfg.Port),
		zap.String("environment", cfg.Environment),
		zap.String("release", releaseVersion),
		zap.String("swagger", "http://localhost:"+cfg.Port+"/swagger/index.html"),
	)
	return api.StartServer(ctx, cfg, log)
}
