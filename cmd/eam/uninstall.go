package main

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/endlessm/eam/internal/busproto"
	"github.com/endlessm/eam/internal/transaction"
	"github.com/endlessm/eam/pkg/appid"
)

func newUninstallCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "uninstall <app-id>",
		Short: "Remove an installed application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := args[0]
			if isPrivileged() {
				return uninstallLocal(app, force)
			}
			if force {
				return errors.New("--force is only available to a privileged caller; the bus protocol carries no force flag")
			}
			return uninstallRemote(app)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "succeed even if the app is not installed")
	return cmd
}

func uninstallLocal(app string, force bool) error {
	le, err := newLocalEnv()
	if err != nil {
		return err
	}
	id, err := appid.Parse(app)
	if err != nil {
		return err
	}
	tx := &transaction.Transaction{
		Kind:   transaction.KindUninstall,
		App:    id,
		Prefix: le.Env.Config.PrimaryStorage,
		Force:  force,
	}
	return tx.Run(context.Background(), le.Env)
}

func uninstallRemote(app string) error {
	conn, err := dialBus()
	if err != nil {
		return err
	}
	defer conn.Close()

	root := conn.Object(busproto.BusName, busproto.RootObjectPath)

	var ok bool
	if err := root.Call(busproto.RootInterface+".Uninstall", 0, app).Store(&ok); err != nil {
		return errors.Wrap(err, "Uninstall")
	}
	if !ok {
		return errors.New("uninstall failed")
	}
	return nil
}
