package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "status [id]",
		Short: "Report a transfer's state, or every transfer's with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, st, err := newManager()
			if err != nil {
				return err
			}
			defer mgr.Close()
			defer st.Close()

			if all {
				for _, blob := range mgr.Snapshot() {
					fmt.Printf("%s\t%s\t%s -> %s\n", blob.ID, blob.State, blob.Source, blob.Destination)
				}
				return nil
			}
			if len(args) != 1 {
				return cmd.Help()
			}
			state, err := mgr.Status(args[0])
			if err != nil {
				return err
			}
			fmt.Println(state)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list every known transfer")
	return cmd
}
