package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"sc_archive/internal/config"
)

func newSetAuthCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-auth <token>",
		Short: "Store the SoundCloud OAuth token in the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setSoundCloudValue(cmd, opts.configPath, "auth_token", args[0])
		},
	}
}

func newSetClientIDCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "set-client-id <id>",
		Short: "Store the SoundCloud client id in the config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setSoundCloudValue(cmd, opts.configPath, "client_id", args[0])
		},
	}
}

// setSoundCloudValue writes the value; a running archiver picks it up through
// its config watcher.
func setSoundCloudValue(cmd *cobra.Command, path, key, value string) error {
	if err := config.SetSoundCloudValue(path, key, value); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "soundcloud.%s updated in %s\n", key, path)
	return nil
}
