package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or change the daemon's configuration file",
	}
	cmd.AddCommand(newConfigGetCmd(), newConfigSetCmd(), newConfigResetCmd())
	return cmd
}

func splitGroupKey(s string) (string, string, error) {
	idx := strings.IndexByte(s, '.')
	if idx < 0 {
		return "", "", errors.Errorf("key %q must be of the form Group.Key", s)
	}
	return s[:idx], s[idx+1:], nil
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the active configuration snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			le, err := newLocalEnv()
			if err != nil {
				return err
			}
			snap := le.Env.Config
			fmt.Printf("Directories.ApplicationsDir:    %s\n", snap.ApplicationsDir)
			fmt.Printf("Directories.CacheDir:            %s\n", snap.CacheDir)
			fmt.Printf("Directories.PrimaryStorage:      %s\n", snap.PrimaryStorage)
			fmt.Printf("Directories.SecondaryStorage:    %s\n", snap.SecondaryStorage)
			fmt.Printf("Directories.GpgKeyring:          %s\n", snap.GpgKeyring)
			fmt.Printf("Daemon.InactivityTimeout:        %s\n", snap.InactivityTimeout)
			fmt.Printf("Repository.ServerUrl:            %s\n", snap.ServerURL)
			fmt.Printf("Repository.ApiVersion:           %s\n", snap.APIVersion)
			fmt.Printf("Repository.EnableDeltaUpdates:   %t\n", snap.EnableDeltaUpdates)
			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <Group.Key> <value>",
		Short: "Set a configuration key, preserving the rest of the file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isPrivileged() {
				return errors.New("config set requires root or the app-manager user")
			}
			group, key, err := splitGroupKey(args[0])
			if err != nil {
				return err
			}
			le, err := newLocalEnv()
			if err != nil {
				return err
			}
			return le.Config.SetKey(group, key, args[1])
		},
	}
}

func newConfigResetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset <Group.Key>",
		Short: "Remove a key override, reverting it to its default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isPrivileged() {
				return errors.New("config reset requires root or the app-manager user")
			}
			group, key, err := splitGroupKey(args[0])
			if err != nil {
				return err
			}
			le, err := newLocalEnv()
			if err != nil {
				return err
			}
			return le.Config.ResetKey(group, key)
		},
	}
}
