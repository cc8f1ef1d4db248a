package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"subtrans/internal/config"
	"subtrans/internal/logging"
	"subtrans/internal/queue"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, resolvedPath, exists, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewDaemonLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Paths.LogDir)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	if exists {
		logger.Info("configuration loaded", logging.String("path", resolvedPath))
	} else {
		logger.Info("no configuration file found, using defaults", logging.String("searched", resolvedPath))
	}

	store, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		os.Exit(1)
	}
	defer store.Close()

	d, err := buildDaemon(ctx, cfg, store, logger)
	if err != nil {
		logger.Error("assemble daemon", logging.Error(err))
		os.Exit(1)
	}

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		os.Exit(1)
	}

	if err := d.Wait(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("serve", logging.Error(err))
	}
	if err := d.Stop(context.Background()); err != nil {
		logger.Warn("shutdown", logging.Error(err))
	}
}
