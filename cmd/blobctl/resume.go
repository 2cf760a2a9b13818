package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/arvensis/blobtransfer/pkg/logging"
)

func newResumeCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "resume [id]",
		Short: "Resume one transfer, or every resumable transfer with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, st, err := newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()
			defer st.Close()

			ctx := context.Background()
			if all {
				mgr.ResumeAll()
				mgr.Wait()
				return nil
			}
			if len(args) != 1 {
				return cmd.Help()
			}
			if err := mgr.Resume(ctx, args[0]); err != nil {
				return err
			}
			mgr.Wait()
			logging.Log.Infof("resumed %s", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "resume every resumable transfer")
	return cmd
}
