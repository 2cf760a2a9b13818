package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/arvensis/blobtransfer/internal/batch"
	"github.com/arvensis/blobtransfer/pkg/logging"
)

func newUploadDirCmd() *cobra.Command {
	var (
		destinationPrefix string
		restorationID     string
	)

	cmd := &cobra.Command{
		Use:   "upload-dir <source-root>",
		Short: "Walk a local directory and upload every file as one multi-blob transfer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, st, err := newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()
			defer st.Close()

			multi, err := batch.Ingest(context.Background(), mgr, st, batch.Request{
				SourceRoot:          args[0],
				DestinationPrefix:  destinationPrefix,
				ClientRestorationID: restorationID,
			})
			if err != nil {
				return err
			}
			logging.Log.Infof("queued multi-blob transfer %s with %d files, waiting for completion", multi.ID, multi.TotalBlobs)
			mgr.Wait()

			refreshed, err := batch.RefreshProgress(st, multi.ID)
			if err != nil {
				return err
			}
			logging.Log.Infof("multi-blob transfer %s finished: %d/%d files complete", refreshed.ID, refreshed.CompletedBlobs, refreshed.TotalBlobs)
			return nil
		},
	}

	cmd.Flags().StringVar(&destinationPrefix, "destination-prefix", "", "prefix prepended to each file's relative path at the destination")
	cmd.Flags().StringVar(&restorationID, "restoration-id", "", "client restoration id applied to every upload in the batch")
	return cmd
}
