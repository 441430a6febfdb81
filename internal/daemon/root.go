package daemon

import (
	"context"

	"github.com/godbus/dbus/v5"

	"github.com/endlessm/eam/internal/auth"
	"github.com/endlessm/eam/internal/busproto"
	"github.com/endlessm/eam/internal/transaction"
	"github.com/endlessm/eam/pkg/appid"
)

// rootMethods is exported at busproto.RootObjectPath under
// busproto.RootInterface: Install, Update, Uninstall, and
// GetUserCapabilities, per spec.md §6. Every method takes a trailing
// dbus.Sender parameter, godbus's reflection-based mechanism for
// injecting the calling peer's unique bus name into an exported method.
type rootMethods struct {
	d *Daemon
}

func (r *rootMethods) callerUID(sender dbus.Sender) (uint32, error) {
	var uid uint32
	err := r.d.Conn.BusObject().Call("org.freedesktop.DBus.GetConnectionUnixUser", 0, string(sender)).Store(&uid)
	if err != nil {
		return 0, busproto.NewError(busproto.ErrProtocolError, err)
	}
	return uid, nil
}

func (r *rootMethods) Install(appID string, sender dbus.Sender) (dbus.ObjectPath, *dbus.Error) {
	uid, err := r.callerUID(sender)
	if err != nil {
		return "", busproto.ToDBusError(err)
	}
	if aerr := r.d.Auth.Authorize(context.Background(), uid, auth.ActionInstall, "Install application "+appID); aerr != nil {
		return "", busproto.ToDBusError(aerr)
	}
	return r.d.openTransaction(string(sender), transaction.KindInstall, appID)
}

func (r *rootMethods) Update(appID string, sender dbus.Sender) (dbus.ObjectPath, *dbus.Error) {
	uid, err := r.callerUID(sender)
	if err != nil {
		return "", busproto.ToDBusError(err)
	}
	if aerr := r.d.Auth.Authorize(context.Background(), uid, auth.ActionUpdate, "Update application "+appID); aerr != nil {
		return "", busproto.ToDBusError(aerr)
	}
	return r.d.openTransaction(string(sender), transaction.KindUpdate, appID)
}

func (r *rootMethods) Uninstall(appID string, sender dbus.Sender) (bool, *dbus.Error) {
	uid, err := r.callerUID(sender)
	if err != nil {
		return false, busproto.ToDBusError(err)
	}
	if aerr := r.d.Auth.Authorize(context.Background(), uid, auth.ActionUninstall, "Uninstall application "+appID); aerr != nil {
		return false, busproto.ToDBusError(aerr)
	}

	r.d.resetActivity()
	snap := r.d.Config.Snapshot()
	tx := &transaction.Transaction{
		Kind:   transaction.KindUninstall,
		App:    appid.AppID(appID),
		Prefix: snap.PrimaryStorage,
	}
	if rerr := tx.Run(context.Background(), r.d.Env); rerr != nil {
		return false, busproto.ToDBusError(rerr)
	}
	return true, nil
}

func (r *rootMethods) GetUserCapabilities(sender dbus.Sender) (map[string]dbus.Variant, *dbus.Error) {
	uid, err := r.callerUID(sender)
	if err != nil {
		return nil, busproto.ToDBusError(err)
	}
	caps := r.d.Auth.Capabilities(context.Background(), uid)
	return map[string]dbus.Variant{
		"CanInstall":   dbus.MakeVariant(caps.CanInstall),
		"CanUninstall": dbus.MakeVariant(caps.CanUninstall),
	}, nil
}
