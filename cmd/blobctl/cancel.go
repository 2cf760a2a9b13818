package main

import (
	"github.com/spf13/cobra"

	"github.com/arvensis/blobtransfer/pkg/logging"
)

func newCancelCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "cancel [id]",
		Short: "Cancel one transfer, or every transfer with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, st, err := newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()
			defer st.Close()

			if all {
				mgr.CancelAll()
				return nil
			}
			if len(args) != 1 {
				return cmd.Help()
			}
			if err := mgr.Cancel(args[0]); err != nil {
				return err
			}
			logging.Log.Infof("canceled %s", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "cancel every known transfer")
	return cmd
}
