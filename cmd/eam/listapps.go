package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newListAppsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list-apps",
		Short: "List installed applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			le, err := newLocalEnv()
			if err != nil {
				return err
			}
			snap := le.Env.Config
			apps, err := le.Fs.ListApps(snap.PrimaryStorage, snap.SecondaryStorage)
			if err != nil {
				return err
			}
			for _, a := range apps {
				fmt.Println(a)
			}
			return nil
		},
	}
}
