// Package transaction implements the C4 component: the per-request
// install/update/uninstall state machine, its rollback-on-failure
// algorithms, and the state enum observed by RemoteTxn and the daemon.
package transaction

import (
	"context"
	"log"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/endlessm/eam/internal/bundleops"
	"github.com/endlessm/eam/internal/busproto"
	"github.com/endlessm/eam/internal/cancel"
	"github.com/endlessm/eam/internal/config"
	"github.com/endlessm/eam/internal/fslayout"
	"github.com/endlessm/eam/pkg/appid"
)

// Kind distinguishes the three transaction algorithms.
type Kind int

const (
	KindInstall Kind = iota
	KindUpdate
	KindUninstall
)

func (k Kind) String() string {
	switch k {
	case KindInstall:
		return "install"
	case KindUpdate:
		return "update"
	case KindUninstall:
		return "uninstall"
	default:
		return "unknown"
	}
}

// State is the position of a transaction in its lifecycle, set by Run and
// observed by RemoteTxn/tests. Install and update advance it forward;
// uninstall sets Linked once the farm links are pruned, then Deployed
// once the app directory is pruned, then Done.
type State int

const (
	StateInitial State = iota
	StateVerified
	StateStaged
	StateDeployed
	StateLinked
	StateHooked
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateVerified:
		return "verified"
	case StateStaged:
		return "staged"
	case StateDeployed:
		return "deployed"
	case StateLinked:
		return "linked"
	case StateHooked:
		return "hooked"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transaction is the immutable description of one install/update/
// uninstall request plus its mutable progress state.
type Transaction struct {
	Kind      Kind
	App       appid.AppID
	Prefix    string // Install, Uninstall
	SrcPrefix string // Update
	TgtPrefix string // Update
	Bundle    string
	Signature string // "" means absent/default
	SkipSig   bool   // Install only
	Force     bool   // Uninstall only

	State State
}

// Env bundles the shared, read-only collaborators a Transaction.Run call
// needs: the active configuration, the stateless FsLayout, and the
// BundleOps tool wrapper.
type Env struct {
	Config *config.Snapshot
	Fs     *fslayout.FsLayout
	Ops    *bundleops.Ops
	Logger *log.Logger
}

// Run executes the transaction's algorithm to completion, rolling back
// to the pre-transaction on-disk state on any error. ctx carries the
// cancel token's context; suspension points inside BundleOps poll it.
func (t *Transaction) Run(ctx context.Context, env *Env) error {
	tok := cancel.New(ctx)
	defer tok.Cancel()

	var err error
	switch t.Kind {
	case KindInstall:
		err = t.runInstall(tok, env)
	case KindUpdate:
		err = t.runUpdate(tok, env)
	case KindUninstall:
		err = t.runUninstall(tok, env)
	default:
		return busproto.NewError(busproto.ErrFailed, errors.Errorf("unknown transaction kind %v", t.Kind))
	}
	if err != nil && ctx.Err() != nil && busproto.Tag(err) != busproto.ErrCancelled {
		return busproto.NewError(busproto.ErrCancelled, err)
	}
	return err
}

func (t *Transaction) fail(err error) error {
	t.State = StateFailed
	return err
}

func (t *Transaction) runInstall(tok *cancel.Token, env *Env) error {
	if err := t.preflightInstall(env); err != nil {
		return t.fail(err)
	}

	if !t.SkipSig {
		sig := t.Signature
		if sig == "" {
			sig = defaultSignaturePath(t.Bundle, t.App)
		}
		if err := env.Ops.VerifySignature(tok.Context(), sig, t.Bundle); err != nil {
			return t.fail(err)
		}
	}
	t.State = StateVerified

	cacheAppDir := filepath.Join(env.Config.CacheDir, string(t.App))
	m, err := env.Ops.ExtractArchive(tok, t.Bundle, cacheAppDir, t.App)
	if err != nil {
		_ = env.Fs.PruneDir(env.Config.CacheDir, t.App)
		return t.fail(err)
	}
	t.State = StateStaged

	if m.External != nil {
		if err := env.Ops.FetchExternalAsset(tok.Context(), tok, cacheAppDir, t.App, m.External); err != nil {
			_ = env.Fs.PruneDir(env.Config.CacheDir, t.App)
			return t.fail(err)
		}
	}

	if err := env.Fs.DeployApp(env.Config.CacheDir, t.Prefix, t.App); err != nil {
		_ = env.Fs.PruneDir(env.Config.CacheDir, t.App)
		return t.fail(err)
	}
	t.State = StateDeployed

	if err := env.Fs.CreateSymlinks(t.Prefix, t.App); err != nil {
		_ = env.Fs.PruneSymlinks(t.Prefix, t.App)
		_ = env.Fs.PruneDir(t.Prefix, t.App)
		return t.fail(err)
	}
	t.State = StateLinked

	env.Ops.RunPostDeployHooks(tok.Context(), filepath.Join(t.Prefix, string(t.App)), env.Fs.ApplicationsDir)
	t.State = StateHooked

	t.State = StateDone
	return nil
}

func (t *Transaction) preflightInstall(env *Env) error {
	if !fileExists(t.Bundle) {
		return busproto.NewError(busproto.ErrInvalidFile, errors.Errorf("bundle %s does not exist", t.Bundle))
	}
	if err := env.Fs.SanityCheck(env.Config.PrimaryStorage, env.Config.SecondaryStorage); err != nil {
		return busproto.NewError(busproto.ErrFailed, err)
	}
	if dirExists(filepath.Join(t.Prefix, string(t.App))) {
		return busproto.NewError(busproto.ErrFailed, errors.Errorf("%s is already installed under %s", t.App, t.Prefix))
	}
	return nil
}

func (t *Transaction) runUninstall(tok *cancel.Token, env *Env) error {
	if err := env.Fs.SanityCheck(env.Config.PrimaryStorage, env.Config.SecondaryStorage); err != nil {
		return t.fail(busproto.NewError(busproto.ErrFailed, err))
	}

	if !dirExists(filepath.Join(t.Prefix, string(t.App))) {
		if !t.Force {
			return t.fail(busproto.NewError(busproto.ErrFailed, errors.Errorf("%s is not installed under %s", t.App, t.Prefix)))
		}
		t.State = StateDone
		return nil
	}

	if err := env.Fs.PruneSymlinks(t.Prefix, t.App); err != nil && !t.Force {
		return t.fail(busproto.NewError(busproto.ErrFailed, err))
	}
	t.State = StateLinked

	if err := env.Fs.PruneDir(t.Prefix, t.App); err != nil {
		if !t.Force {
			return t.fail(busproto.NewError(busproto.ErrFailed, err))
		}
	}
	t.State = StateDeployed

	env.Ops.RunPostDeployHooks(tok.Context(), "", env.Fs.ApplicationsDir)
	t.State = StateDone
	return nil
}

func (t *Transaction) runUpdate(tok *cancel.Token, env *Env) error {
	if err := t.preflightUpdate(env); err != nil {
		return t.fail(err)
	}

	sig := t.Signature
	if sig == "" {
		sig = defaultSignaturePath(t.Bundle, t.App)
	}
	if err := env.Ops.VerifySignature(tok.Context(), sig, t.Bundle); err != nil {
		return t.fail(err)
	}
	t.State = StateVerified

	backupDir, err := env.Fs.BackupApp(t.SrcPrefix, t.App)
	if err != nil {
		return t.fail(busproto.NewError(busproto.ErrFailed, err))
	}

	if err := t.deployUpdatePayload(tok, env, backupDir); err != nil {
		_ = env.Fs.RestoreApp(t.SrcPrefix, t.App, backupDir)
		return t.fail(err)
	}
	t.State = StateDeployed

	if err := env.Fs.CreateSymlinks(t.TgtPrefix, t.App); err != nil {
		_ = env.Fs.RestoreApp(t.SrcPrefix, t.App, backupDir)
		return t.fail(err)
	}
	t.State = StateLinked

	env.Ops.RunPostDeployHooks(tok.Context(), filepath.Join(t.TgtPrefix, string(t.App)), env.Fs.ApplicationsDir)
	t.State = StateHooked

	_ = removeAll(backupDir)
	t.State = StateDone
	return nil
}

func (t *Transaction) preflightUpdate(env *Env) error {
	if !fileExists(t.Bundle) {
		return busproto.NewError(busproto.ErrInvalidFile, errors.Errorf("bundle %s does not exist", t.Bundle))
	}
	if err := env.Fs.SanityCheck(env.Config.PrimaryStorage, env.Config.SecondaryStorage); err != nil {
		return busproto.NewError(busproto.ErrFailed, err)
	}
	if !dirExists(filepath.Join(t.SrcPrefix, string(t.App))) {
		return busproto.NewError(busproto.ErrUnknownPackage, errors.Errorf("%s is not installed under %s", t.App, t.SrcPrefix))
	}
	return nil
}

// deployUpdatePayload dispatches on the bundle's extension: the full
// form re-runs install steps 3-5 into cache then deploys to TgtPrefix;
// the delta form (".delta") applies a binary delta against the backup.
func (t *Transaction) deployUpdatePayload(tok *cancel.Token, env *Env, backupDir string) error {
	cacheAppDir := filepath.Join(env.Config.CacheDir, string(t.App))

	if filepath.Ext(t.Bundle) == ".delta" {
		applicator := &bundleops.ExternalDeltaApplicator{Path: env.Ops.Cfg.DeltaApplyPath, Logger: env.Logger}
		if err := applicator.Apply(tok.Context(), backupDir, t.Bundle, cacheAppDir); err != nil {
			return err
		}
		return env.Fs.DeployApp(env.Config.CacheDir, t.TgtPrefix, t.App)
	}

	m, err := env.Ops.ExtractArchive(tok, t.Bundle, cacheAppDir, t.App)
	if err != nil {
		_ = env.Fs.PruneDir(env.Config.CacheDir, t.App)
		return err
	}
	if m.External != nil {
		if err := env.Ops.FetchExternalAsset(tok.Context(), tok, cacheAppDir, t.App, m.External); err != nil {
			_ = env.Fs.PruneDir(env.Config.CacheDir, t.App)
			return err
		}
	}
	return env.Fs.DeployApp(env.Config.CacheDir, t.TgtPrefix, t.App)
}

func defaultSignaturePath(bundle string, app appid.AppID) string {
	return filepath.Join(filepath.Dir(bundle), string(app)+".asc")
}
