package main

import (
	"github.com/spf13/cobra"

	"github.com/arvensis/blobtransfer/pkg/logging"
)

func newPauseCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "pause [id]",
		Short: "Pause one transfer, or every transfer with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, st, err := newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()
			defer st.Close()

			if all {
				mgr.PauseAll()
				return nil
			}
			if len(args) != 1 {
				return cmd.Help()
			}
			if err := mgr.Pause(args[0]); err != nil {
				return err
			}
			logging.Log.Infof("paused %s", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "pause every known transfer")
	return cmd
}
