package main

import (
	"context"
	"log/slog"

	"subtrans/internal/api"
	"subtrans/internal/bus"
	"subtrans/internal/config"
	"subtrans/internal/daemon"
	"subtrans/internal/llm"
	"subtrans/internal/media"
	"subtrans/internal/pipeline"
	"subtrans/internal/queue"
	"subtrans/internal/scheduler"
	"subtrans/internal/settings"
	"subtrans/internal/skip"
	"subtrans/internal/watcher"
)

// buildDaemon wires the full object graph: settings over the store, the
// event bus, media toolbox, translation pipeline, scheduler, directory
// watchers, and the HTTP API.
func buildDaemon(ctx context.Context, cfg *config.Config, store *queue.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	settingsSvc, err := settings.NewService(ctx, store, logger)
	if err != nil {
		return nil, err
	}

	eventBus := bus.New()
	toolbox := media.NewToolbox(cfg, logger)
	factory := func(creds settings.ProviderCredentials) (pipeline.Translator, error) {
		client, err := llm.NewClient(creds)
		if err != nil {
			return nil, err
		}
		return llm.NewTranslator(client, logger), nil
	}

	pipe := pipeline.New(cfg, store, settingsSvc, eventBus, toolbox, factory, logger)
	oracle := skip.NewOracle(store, toolbox, logger)
	sched := scheduler.New(store, settingsSvc, eventBus, pipe, oracle, logger)
	watchers := watcher.New(store, sched, logger)

	health := daemon.NewHealthChecker(cfg, store, toolbox)
	apiServer := api.New(api.Options{
		Store:     store,
		Settings:  settingsSvc,
		Scheduler: sched,
		Watchers:  watchers,
		Toolbox:   toolbox,
		Bus:       eventBus,
		Logger:    logger,
		Version:   version,
		Health:    health.Check,
	})

	return daemon.New(daemon.Options{
		Config:    cfg,
		Logger:    logger,
		Scheduler: sched,
		Watchers:  watchers,
		API:       apiServer,
	})
}
