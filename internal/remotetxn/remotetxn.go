// Package remotetxn implements the C6 component: the per-handle bus
// object exposing com.endlessm.AppManager.Transaction, its
// Open -> Running -> Terminal state machine, and the sender-vanish
// watch. Grounded on eam-transaction-dbus.c's EamRemoteTransaction and
// on godbus's ExportMethodTable + NameOwnerChanged idiom as the
// substitute for g_bus_watch_name_on_connection.
package remotetxn

import (
	"context"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/endlessm/eam/internal/busproto"
	"github.com/endlessm/eam/internal/transaction"
)

// Phase is the handle's position in its Open -> Running -> Terminal
// lifecycle.
type Phase int

const (
	PhaseOpen Phase = iota
	PhaseRunning
	PhaseTerminal
)

// Runner executes a fully-parameterized transaction; satisfied by
// *transaction.Transaction in production and faked in tests.
type Runner interface {
	Run(ctx context.Context) error
}

// txnRunner adapts *transaction.Transaction + its Env into a Runner.
type txnRunner struct {
	tx  *transaction.Transaction
	env *transaction.Env
}

func (r *txnRunner) Run(ctx context.Context) error {
	return r.tx.Run(ctx, r.env)
}

// NewTxnRunner is the production Runner constructor used by the daemon.
func NewTxnRunner(tx *transaction.Transaction, env *transaction.Env) Runner {
	return &txnRunner{tx: tx, env: env}
}

// RemoteTxn is one client-visible handle. godbus dispatches each
// incoming method call on its own goroutine, so CompleteTransaction can
// simply block its caller's dispatch goroutine for the lifetime of the
// transaction — a second worker goroutine does the actual transaction
// work and hands its result back over outcome, which is exactly the
// completion-channel shape spec.md §5 describes.
type RemoteTxn struct {
	ObjectPath dbus.ObjectPath
	Sender     string
	Tx         *transaction.Transaction

	runner Runner
	onDone func(*RemoteTxn) // unregisters the object, pops the busy counter

	mu       sync.Mutex
	phase    Phase
	cancel   context.CancelFunc
	ctx      context.Context
	outcome  chan error // buffered(1); written once by the worker
	doneOnce sync.Once  // guards onDone against the Complete/Cancel race below
}

// New allocates a handle at a fresh path under root/Transactions/<uuid>,
// in the Open phase. Watching sender for vanish is the daemon's job: its
// NameOwnerChanged handler calls SenderVanished.
func New(root dbus.ObjectPath, sender string, tx *transaction.Transaction, runner Runner, onDone func(*RemoteTxn)) *RemoteTxn {
	ctx, cancel := context.WithCancel(context.Background())
	return &RemoteTxn{
		ObjectPath: dbus.ObjectPath(string(root) + "/Transactions/" + uuid.New().String()),
		Sender:     sender,
		Tx:         tx,
		runner:     runner,
		onDone:     onDone,
		phase:      PhaseOpen,
		ctx:        ctx,
		cancel:     cancel,
		outcome:    make(chan error, 1),
	}
}

// Phase returns the handle's current phase.
func (r *RemoteTxn) Phase() Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// CompleteTransaction applies opts to the contained Transaction, starts
// it on a worker goroutine, and blocks until it reaches a terminal
// state (success, failure, or cancellation). At most one call per
// handle may proceed past Open; later calls return Failed immediately.
func (r *RemoteTxn) CompleteTransaction(opts map[string]dbus.Variant) (bool, error) {
	r.mu.Lock()
	if r.phase != PhaseOpen {
		r.mu.Unlock()
		return false, busproto.NewError(busproto.ErrFailed, errors.New("transaction already completed or cancelled"))
	}
	r.phase = PhaseRunning
	r.applyOptsLocked(opts)
	ctx := r.ctx
	r.mu.Unlock()

	go func() {
		r.outcome <- r.runner.Run(ctx)
	}()

	err := <-r.outcome

	r.mu.Lock()
	r.phase = PhaseTerminal
	r.mu.Unlock()
	r.fireOnDone()

	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *RemoteTxn) applyOptsLocked(opts map[string]dbus.Variant) {
	if bp := busproto.OptsGetString(opts, "BundlePath"); bp != "" {
		r.Tx.Bundle = bp
	}
	if sp := busproto.OptsGetString(opts, "SignaturePath"); sp != "" {
		r.Tx.Signature = sp
	}
	// StorageType, SourceStorageType and TargetStorageType are not read:
	// Tx.Prefix/SrcPrefix/TgtPrefix keep the values the daemon set when
	// it opened the transaction (its primary storage), whatever the
	// caller passes in opts.
}

// CancelTransaction is idempotent and terminal. If a CompleteTransaction
// call is blocked waiting on this handle, tripping the cancel token
// causes the worker to unwind and CompleteTransaction to return the
// Cancelled error; an Open handle that was never completed simply moves
// straight to Terminal with nothing further to unblock.
func (r *RemoteTxn) CancelTransaction() {
	r.mu.Lock()
	if r.phase == PhaseTerminal {
		r.mu.Unlock()
		return
	}
	r.phase = PhaseTerminal
	r.mu.Unlock()

	r.cancel()
	r.fireOnDone()
}

// fireOnDone delivers onDone exactly once no matter which of
// CompleteTransaction or CancelTransaction reaches the Open/Running ->
// Terminal transition first: whichever call observes the phase change
// races the other to fire onDone, and without sync.Once both can
// observe the other's write and each skip it, leaking the handle.
func (r *RemoteTxn) fireOnDone() {
	if r.onDone == nil {
		return
	}
	r.doneOnce.Do(func() {
		r.onDone(r)
	})
}

// SenderVanished is invoked by the daemon's NameOwnerChanged watch when
// Sender drops off the bus. No reply is possible (the peer is gone), so
// this only cancels and tears down.
func (r *RemoteTxn) SenderVanished() {
	r.CancelTransaction()
}

// MethodTable is the value exported via conn.ExportMethodTable at
// r.ObjectPath for the com.endlessm.AppManager.Transaction interface.
type MethodTable struct {
	Txn *RemoteTxn
}

func (m *MethodTable) CompleteTransaction(opts map[string]dbus.Variant) (bool, *dbus.Error) {
	ok, err := m.Txn.CompleteTransaction(opts)
	if err != nil {
		return false, busproto.ToDBusError(err)
	}
	return ok, nil
}

func (m *MethodTable) CancelTransaction() *dbus.Error {
	m.Txn.CancelTransaction()
	return nil
}
