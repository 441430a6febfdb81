package main

import (
	"context"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/endlessm/eam/internal/busproto"
	"github.com/endlessm/eam/internal/transaction"
	"github.com/endlessm/eam/pkg/appid"
)

func newUpdateCmd() *cobra.Command {
	var signature string

	cmd := &cobra.Command{
		Use:   "update <app-id> <bundle>",
		Short: "Update an installed application to a new bundle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, bundle := args[0], args[1]
			if isPrivileged() {
				return updateLocal(app, bundle, signature)
			}
			return updateRemote(app, bundle, signature)
		},
	}
	cmd.Flags().StringVar(&signature, "signature", "", "path to the detached signature (default: <bundle-dir>/<app-id>.asc)")
	return cmd
}

func updateLocal(app, bundle, signature string) error {
	le, err := newLocalEnv()
	if err != nil {
		return err
	}
	id, err := appid.Parse(app)
	if err != nil {
		return err
	}
	snap := le.Env.Config
	tx := &transaction.Transaction{
		Kind:      transaction.KindUpdate,
		App:       id,
		SrcPrefix: snap.PrimaryStorage,
		TgtPrefix: snap.PrimaryStorage,
		Bundle:    bundle,
		Signature: signature,
	}
	return tx.Run(context.Background(), le.Env)
}

func updateRemote(app, bundle, signature string) error {
	conn, err := dialBus()
	if err != nil {
		return err
	}
	defer conn.Close()

	root := conn.Object(busproto.BusName, busproto.RootObjectPath)

	var objPath dbus.ObjectPath
	if err := root.Call(busproto.RootInterface+".Update", 0, app).Store(&objPath); err != nil {
		return errors.Wrap(err, "Update")
	}

	opts := map[string]dbus.Variant{"BundlePath": dbus.MakeVariant(bundle)}
	if signature != "" {
		opts["SignaturePath"] = dbus.MakeVariant(signature)
	}

	txnObj := conn.Object(busproto.BusName, objPath)
	var ok bool
	if err := txnObj.Call(busproto.TransactionInterface+".CompleteTransaction", 0, opts).Store(&ok); err != nil {
		return errors.Wrap(err, "CompleteTransaction")
	}
	if !ok {
		return errors.New("transaction failed")
	}
	return nil
}
