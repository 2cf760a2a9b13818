package main

import (
	"github.com/spf13/cobra"

	"github.com/arvensis/blobtransfer/config"
)

var configPath string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "blobctl",
		Short: "Manage durable, resumable blob transfers",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config.LoadConfig(configPath)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", ".", "directory containing config.yaml")

	root.AddCommand(
		newAddCmd(),
		newPauseCmd(),
		newResumeCmd(),
		newCancelCmd(),
		newRemoveCmd(),
		newStatusCmd(),
		newUploadDirCmd(),
	)
	return root
}
