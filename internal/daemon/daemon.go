// Package daemon implements the C7 component: bus name ownership, the
// busy counter, the idle-shutdown timer, and signal handling. Grounded
// on agent/agent.go's select-loop idiom (same event sources: a signal
// channel, a ticker, a context.Done()) and on eam-dbus-server.c for the
// name-ownership and advertised-methods contract.
package daemon

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/endlessm/eam/internal/auth"
	"github.com/endlessm/eam/internal/busproto"
	"github.com/endlessm/eam/internal/config"
	"github.com/endlessm/eam/internal/fslayout"
	"github.com/endlessm/eam/internal/remotetxn"
	"github.com/endlessm/eam/internal/transaction"
	"github.com/endlessm/eam/pkg/appid"
)

// Clock abstracts time so idle-shutdown can be tested without real
// 60-second ticks.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) (<-chan time.Time, func())
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) NewTicker(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// idleCheckInterval is how often the idle timer fires, per spec.md §4.7.
const idleCheckInterval = 60 * time.Second

// Daemon owns the bus name, the event loop, and every live RemoteTxn.
type Daemon struct {
	Conn   *dbus.Conn
	Config *config.Config
	Fs     *fslayout.FsLayout
	Env    *transaction.Env
	Auth   *auth.Authorizer
	Logger *log.Logger
	Clock  Clock

	mu           sync.Mutex
	busy         int
	lastActivity time.Time
	handles      map[dbus.ObjectPath]*remotetxn.RemoteTxn
	shutdown     chan struct{}
}

// New builds a Daemon. Call Run to claim the bus name and enter the
// event loop.
func New(conn *dbus.Conn, cfg *config.Config, fs *fslayout.FsLayout, env *transaction.Env, authz *auth.Authorizer, logger *log.Logger) *Daemon {
	return &Daemon{
		Conn:     conn,
		Config:   cfg,
		Fs:       fs,
		Env:      env,
		Auth:     authz,
		Logger:   logger,
		Clock:    realClock{},
		handles:  make(map[dbus.ObjectPath]*remotetxn.RemoteTxn),
		shutdown: make(chan struct{}),
	}
}

// Run claims BusName, exports the root object, and runs the event loop
// until a shutdown signal, bus name loss, or idle timeout. It returns
// when the loop exits.
func (d *Daemon) Run(ctx context.Context) error {
	reply, err := d.Conn.RequestName(busproto.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return errors.Wrap(err, "requesting bus name")
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.Errorf("bus name %s already owned", busproto.BusName)
	}

	if err := d.Conn.Export(&rootMethods{d: d}, busproto.RootObjectPath, busproto.RootInterface); err != nil {
		return errors.Wrap(err, "exporting root object")
	}

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	nameOwnerCh := make(chan *dbus.Signal, 16)
	d.Conn.Signal(nameOwnerCh)
	if err := d.Conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		return errors.Wrap(err, "subscribing to NameOwnerChanged")
	}

	tickerCh, stopTicker := d.Clock.NewTicker(idleCheckInterval)
	defer stopTicker()

	d.mu.Lock()
	d.lastActivity = d.Clock.Now()
	d.mu.Unlock()

	for {
		select {
		case sig := <-sigCh:
			d.Logger.Printf("received signal %v, shutting down", sig)
			d.cancelAll()
			d.releaseName()
			return nil

		case sigDbus := <-nameOwnerCh:
			d.handleBusSignal(sigDbus)

		case <-tickerCh:
			if d.shouldShutdownIdle() {
				d.Logger.Printf("idle timeout exceeded, shutting down")
				d.releaseName()
				return nil
			}

		case <-d.shutdown:
			d.cancelAll()
			d.releaseName()
			return nil

		case <-ctx.Done():
			d.cancelAll()
			d.releaseName()
			return ctx.Err()
		}
	}
}

func (d *Daemon) releaseName() {
	_, _ = d.Conn.ReleaseName(busproto.BusName)
}

func (d *Daemon) shouldShutdownIdle() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.busy > 0 {
		return false
	}
	return d.Clock.Now().Sub(d.lastActivity) > d.Config.Snapshot().InactivityTimeout
}

func (d *Daemon) resetActivity() {
	d.mu.Lock()
	d.lastActivity = d.Clock.Now()
	d.mu.Unlock()
}

func (d *Daemon) handleBusSignal(sig *dbus.Signal) {
	if sig.Name != "org.freedesktop.DBus.NameOwnerChanged" || len(sig.Body) != 3 {
		return
	}
	name, _ := sig.Body[0].(string)
	oldOwner, _ := sig.Body[1].(string)
	newOwner, _ := sig.Body[2].(string)
	if name == busproto.BusName {
		if names := d.Conn.Names(); len(names) > 0 && oldOwner == names[0] {
			d.Logger.Printf("lost bus name %s, shutting down", busproto.BusName)
			d.Shutdown()
		}
		return
	}
	if newOwner != "" {
		return // the name gained an owner; we only care about it vanishing
	}
	d.mu.Lock()
	var vanished []*remotetxn.RemoteTxn
	for _, h := range d.handles {
		if h.Sender == name {
			vanished = append(vanished, h)
		}
	}
	d.mu.Unlock()
	for _, h := range vanished {
		h.SenderVanished()
	}
}

func (d *Daemon) cancelAll() {
	d.mu.Lock()
	handles := make([]*remotetxn.RemoteTxn, 0, len(d.handles))
	for _, h := range d.handles {
		handles = append(handles, h)
	}
	d.mu.Unlock()
	for _, h := range handles {
		h.CancelTransaction()
	}
}

// Shutdown requests a graceful exit from outside the event loop (e.g.
// from a CLI admin command).
func (d *Daemon) Shutdown() {
	select {
	case <-d.shutdown:
	default:
		close(d.shutdown)
	}
}

func (d *Daemon) register(h *remotetxn.RemoteTxn) error {
	if err := d.Conn.ExportMethodTable(map[string]interface{}{
		"CompleteTransaction": (&remotetxn.MethodTable{Txn: h}).CompleteTransaction,
		"CancelTransaction":   (&remotetxn.MethodTable{Txn: h}).CancelTransaction,
	}, h.ObjectPath, busproto.TransactionInterface); err != nil {
		return err
	}
	d.mu.Lock()
	d.handles[h.ObjectPath] = h
	d.busy++
	d.mu.Unlock()
	return nil
}

func (d *Daemon) unregister(h *remotetxn.RemoteTxn) {
	_ = d.Conn.Export(nil, h.ObjectPath, busproto.TransactionInterface)
	d.mu.Lock()
	delete(d.handles, h.ObjectPath)
	d.busy--
	d.mu.Unlock()
}

// openTransaction is the shared path for Install/Update: build a
// Transaction of the given kind, wrap it in a RemoteTxn, export it, and
// return its object path.
func (d *Daemon) openTransaction(sender string, kind transaction.Kind, app string) (dbus.ObjectPath, *dbus.Error) {
	d.resetActivity()
	snap := d.Config.Snapshot()

	tx := &transaction.Transaction{Kind: kind, App: appid.AppID(app)}
	switch kind {
	case transaction.KindInstall:
		tx.Prefix = snap.PrimaryStorage
	case transaction.KindUpdate:
		tx.SrcPrefix = snap.PrimaryStorage
		tx.TgtPrefix = snap.PrimaryStorage
	}

	h := remotetxn.New(busproto.RootObjectPath, sender, tx, remotetxn.NewTxnRunner(tx, d.Env), func(done *remotetxn.RemoteTxn) {
		d.unregister(done)
	})

	if err := d.register(h); err != nil {
		return "", busproto.ToDBusError(busproto.NewError(busproto.ErrFailed, err))
	}
	return h.ObjectPath, nil
}
