package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"sc_archive/internal/watcher"
)

const watchReconnectDelay = 5 * time.Second

func newWatchCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Forward archive events to Discord webhooks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatcher(cmd.Context(), opts.configPath)
		},
	}
}

func runWatcher(ctx context.Context, configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	client := watcher.NewWebhookClient(cfg.Webhooks.Timeout, logger)
	handler := watcher.NewHandler(cfg.Webhooks, client, logger)
	consumer := watcher.NewConsumer(cfg.RabbitMQ.URL, handler, logger)

	for {
		err := consumer.Run(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Error("watcher disconnected", "error", err, "retry_in", watchReconnectDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(watchReconnectDelay):
		}
	}
}

