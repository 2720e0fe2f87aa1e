package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"platter/internal/broadcast"
	"platter/internal/config"
	"platter/internal/daemon"
	"platter/internal/defaults"
	"platter/internal/logging"
	"platter/internal/notifications"
	"platter/internal/owntone"
	"platter/internal/reconciler"
	"platter/internal/systemd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	store, err := defaults.Open(ctx, cfg)
	if err != nil {
		logger.Error("open defaults store", logging.Error(err))
		return
	}

	controller := systemd.NewController(cfg, logger)
	audio := owntone.NewClient(cfg)
	hub := broadcast.NewHub(cfg.Reconciler.SubscriberBufferSize, logger)
	notifier := notifications.NewService(cfg)
	rec := reconciler.NewManager(cfg, controller, audio, store, hub, notifier, logger)

	d, err := daemon.New(cfg, store, audio, hub, rec, controller, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("platterd shutting down")
}
