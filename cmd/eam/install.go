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

func newInstallCmd() *cobra.Command {
	var signature string
	var skipSig bool

	cmd := &cobra.Command{
		Use:   "install <app-id> <bundle>",
		Short: "Install an application bundle",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, bundle := args[0], args[1]
			if isPrivileged() {
				return installLocal(app, bundle, signature, skipSig)
			}
			return installRemote(app, bundle, signature)
		},
	}
	cmd.Flags().StringVar(&signature, "signature", "", "path to the detached signature (default: <bundle-dir>/<app-id>.asc)")
	cmd.Flags().BoolVar(&skipSig, "skip-signature-check", false, "skip signature verification (privileged callers only)")
	return cmd
}

func installLocal(app, bundle, signature string, skipSig bool) error {
	le, err := newLocalEnv()
	if err != nil {
		return err
	}
	id, err := appid.Parse(app)
	if err != nil {
		return err
	}
	tx := &transaction.Transaction{
		Kind:      transaction.KindInstall,
		App:       id,
		Prefix:    le.Env.Config.PrimaryStorage,
		Bundle:    bundle,
		Signature: signature,
		SkipSig:   skipSig,
	}
	return tx.Run(context.Background(), le.Env)
}

func installRemote(app, bundle, signature string) error {
	conn, err := dialBus()
	if err != nil {
		return err
	}
	defer conn.Close()

	root := conn.Object(busproto.BusName, busproto.RootObjectPath)

	var objPath dbus.ObjectPath
	if err := root.Call(busproto.RootInterface+".Install", 0, app).Store(&objPath); err != nil {
		return errors.Wrap(err, "Install")
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
