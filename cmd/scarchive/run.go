package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"sc_archive/internal/config"
	"sc_archive/internal/downloader"
	"sc_archive/internal/publisher"
	"sc_archive/internal/scheduler"
	"sc_archive/internal/service"
	"sc_archive/internal/source/soundcloud"
	"sc_archive/internal/storage/postgres"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll SoundCloud and archive followed artists and their tracks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runArchiver(cmd.Context(), opts.configPath)
		},
	}
}

func runArchiver(ctx context.Context, configPath string) error {
	cfg, logger, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	db, err := connectDB(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{URL: cfg.RabbitMQ.URL}, logger)
	if err != nil {
		return err
	}
	defer rabbitMQ.Close()

	creds := config.NewCredentialsWatcher(configPath, cfg.SoundCloud.Credentials(), logger)
	go func() {
		if err := creds.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("credentials watcher stopped", "error", err)
		}
	}()

	artistStore := postgres.NewArtistStore(db)
	trackStore := postgres.NewTrackStore(db)
	syncStateStore := postgres.NewSyncStateStore(db)
	txManager := postgres.NewTransactionManager(db)

	source := soundcloud.New(soundcloud.Config{
		BaseURL:        cfg.SoundCloud.BaseURL,
		PageLimit:      cfg.SoundCloud.PageLimit,
		Timeout:        cfg.SoundCloud.Timeout,
		MaxAttempts:    cfg.SoundCloud.Retry.MaxAttempts,
		InitialBackoff: cfg.SoundCloud.Retry.InitialBackoff,
		MaxBackoff:     cfg.SoundCloud.Retry.MaxBackoff,
	}, creds, logger)

	dl := downloader.New(downloader.Config{
		Binary:   cfg.Downloader.Binary,
		DataPath: cfg.Sync.DataPath,
		Timeout:  cfg.Downloader.Timeout,
	}, creds, logger)

	syncService := service.NewSyncService(
		source,
		artistStore,
		trackStore,
		syncStateStore,
		txManager,
		rabbitMQ,
		dl,
		logger,
	)

	sched := scheduler.NewScheduler(syncService, rabbitMQ, cfg.Sync, logger)

	logger.Info("starting archiver",
		"interval", cfg.Sync.Interval,
		"data_path", cfg.Sync.DataPath,
	)

	return sched.Start(ctx)
}
