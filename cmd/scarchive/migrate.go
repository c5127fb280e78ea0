package main

import (
	"github.com/spf13/cobra"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig(opts.configPath)
			if err != nil {
				return err
			}

			db, err := connectDB(cfg.Database, logger)
			if err != nil {
				return err
			}
			return db.Close()
		},
	}
}
