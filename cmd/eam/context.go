package main

import (
	"os"
	"os/user"

	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/endlessm/eam/internal/bundleops"
	"github.com/endlessm/eam/internal/config"
	"github.com/endlessm/eam/internal/fslayout"
	"github.com/endlessm/eam/internal/logging"
	"github.com/endlessm/eam/internal/transaction"
)

const appManagerUser = "eos-app-manager"

// isPrivileged reports whether the current process may bypass the bus
// and run transactions directly, per spec.md §6: root or the
// app-manager service account.
func isPrivileged() bool {
	if os.Geteuid() == 0 {
		return true
	}
	u, err := user.Current()
	if err != nil {
		return false
	}
	return u.Username == appManagerUser
}

// localEnv builds the same collaborators the daemon would use, for the
// privileged direct-call path.
type localEnv struct {
	Config *config.Config
	Fs     *fslayout.FsLayout
	Env    *transaction.Env
}

func newLocalEnv() (*localEnv, error) {
	logger := logging.New("eam")

	cfg, err := config.Load(os.Getenv("EAM_CONFIG_FILE"), logger)
	if err != nil {
		return nil, errors.Wrap(err, "loading configuration")
	}
	snap := cfg.Snapshot()
	fs := fslayout.New(snap.ApplicationsDir, logger)
	opsCfg := bundleops.DefaultConfig()
	opsCfg.GpgKeyring = snap.GpgKeyring

	return &localEnv{
		Config: cfg,
		Fs:     fs,
		Env: &transaction.Env{
			Config: snap,
			Fs:     fs,
			Ops:    bundleops.New(opsCfg, logger),
			Logger: logger,
		},
	}, nil
}

// dialBus connects to the system bus for the unprivileged proxy path.
func dialBus() (*dbus.Conn, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, "connecting to system bus")
	}
	return conn, nil
}
