package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/endlessm/eam/internal/manifest"
	"github.com/endlessm/eam/pkg/appid"
)

func newAppInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "app-info <app-id>",
		Short: "Show the manifest of an installed application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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
			m, err := manifest.LoadDir(filepath.Join(prefix, string(id)))
			if err != nil {
				return err
			}
			fmt.Printf("app_id:  %s\n", m.AppID)
			fmt.Printf("version: %s\n", m.Version.String())
			fmt.Printf("prefix:  %s\n", prefix)
			if m.External != nil {
				fmt.Printf("external.url:      %s\n", m.External.URL)
				fmt.Printf("external.filename: %s\n", m.External.Filename)
			}
			return nil
		},
	}
}
