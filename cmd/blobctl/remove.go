package main

import (
	"github.com/spf13/cobra"

	"github.com/arvensis/blobtransfer/pkg/logging"
)

func newRemoveCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "remove [id]",
		Short: "Remove one transfer, or every transfer with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, st, err := newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()
			defer st.Close()

			if all {
				mgr.RemoveAll()
				return nil
			}
			if len(args) != 1 {
				return cmd.Help()
			}
			if err := mgr.Remove(args[0]); err != nil {
				return err
			}
			logging.Log.Infof("removed %s", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "remove every known transfer")
	return cmd
}
