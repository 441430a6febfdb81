package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/endlessm/eam/pkg/appid"
)

func newCreateSymlinksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create-symlinks <app-id>",
		Short: "(Re)create the symlink farm entries for one installed app",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isPrivileged() {
				return errors.New("create-symlinks requires root or the app-manager user")
			}
			id, err := appid.Parse(args[0])
			if err != nil {
				return err
			}
			le, err := newLocalEnv()
			if err != nil {
				return err
			}
			snap := le.Env.Config
			prefix, err := le.Fs.ResolveInstalledPrefix(id, snap.PrimaryStorage, snap.SecondaryStorage)
			if err != nil {
				return err
			}
			return le.Fs.CreateSymlinks(prefix, id)
		},
	}
}

func newEnsureSymlinkFarmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-symlink-farm",
		Short: "Create the symlink farm directories and relink every installed app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isPrivileged() {
				return errors.New("ensure-symlink-farm requires root or the app-manager user")
			}
			le, err := newLocalEnv()
			if err != nil {
				return err
			}
			snap := le.Env.Config
			if err := le.Fs.SanityCheck(snap.PrimaryStorage, snap.SecondaryStorage); err != nil {
				return err
			}
			apps, err := le.Fs.ListApps(snap.PrimaryStorage, snap.SecondaryStorage)
			if err != nil {
				return err
			}
			for _, app := range apps {
				prefix, err := le.Fs.ResolveInstalledPrefix(app, snap.PrimaryStorage, snap.SecondaryStorage)
				if err != nil {
					return err
				}
				if err := le.Fs.CreateSymlinks(prefix, app); err != nil {
					return errors.Wrapf(err, "relinking %s", app)
				}
			}
			return nil
		},
	}
}
