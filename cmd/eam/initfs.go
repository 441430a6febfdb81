package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newInitFsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-fs",
		Short: "Create the symlink farm and run the top-level permission sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isPrivileged() {
				return errors.New("init-fs requires root or the app-manager user")
			}
			le, err := newLocalEnv()
			if err != nil {
				return err
			}
			snap := le.Env.Config
			return le.Fs.SanityCheck(snap.PrimaryStorage, snap.SecondaryStorage)
		},
	}
}
