package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/arvensis/blobtransfer/internal/blobmgr"
	"github.com/arvensis/blobtransfer/internal/transfermodel"
	"github.com/arvensis/blobtransfer/pkg/logging"
)

func newAddCmd() *cobra.Command {
	var (
		direction     string
		source        string
		destination   string
		contentType   string
		blockSize     int64
		totalSize     int64
		restorationID string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a new upload or download and wait for it to finish",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, st, err := newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()
			defer st.Close()

			dir := transfermodel.Direction(direction)
			if dir == transfermodel.Upload && totalSize == 0 {
				if fi, statErr := os.Stat(source); statErr == nil {
					totalSize = fi.Size()
				}
			}

			blob, err := mgr.Add(context.Background(), blobmgr.AddRequest{
				Direction:           dir,
				Source:              source,
				Destination:         destination,
				ClientRestorationID: restorationID,
				Properties: transfermodel.Properties{
					ContentType: contentType,
					BlockSize:   blockSize,
					TotalSize:   totalSize,
				},
			})
			if err != nil {
				return err
			}
			logging.Log.Infof("queued transfer %s, waiting for completion", blob.ID)
			mgr.Wait()

			state, err := mgr.Status(blob.ID)
			if err != nil {
				return err
			}
			logging.Log.Infof("transfer %s finished in state %s", blob.ID, state)
			return nil
		},
	}

	cmd.Flags().StringVar(&direction, "direction", "download", `"upload" or "download"`)
	cmd.Flags().StringVar(&source, "source", "", "source URL (download) or local path (upload)")
	cmd.Flags().StringVar(&destination, "destination", "", "destination local path (download) or URL (upload)")
	cmd.Flags().StringVar(&contentType, "content-type", "", "content type to report on upload")
	cmd.Flags().Int64Var(&blockSize, "block-size", 0, "block size in bytes; 0 picks a tier from the transfer size")
	cmd.Flags().Int64Var(&totalSize, "total-size", 0, "upload source size in bytes; auto-detected from --source when omitted")
	cmd.Flags().StringVar(&restorationID, "restoration-id", "", "client restoration id, if the transfer needs a non-default HTTP client")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("destination")

	return cmd
}
