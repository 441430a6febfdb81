// Command eamd is the long-running daemon that owns the
// com.endlessm.AppManager bus name.
package main

import (
	"context"
	"os"

	"github.com/godbus/dbus/v5"

	"github.com/endlessm/eam/internal/auth"
	"github.com/endlessm/eam/internal/buildinfo"
	"github.com/endlessm/eam/internal/bundleops"
	"github.com/endlessm/eam/internal/config"
	"github.com/endlessm/eam/internal/daemon"
	"github.com/endlessm/eam/internal/fslayout"
	"github.com/endlessm/eam/internal/logging"
	"github.com/endlessm/eam/internal/transaction"
)

const adminGroup = "wheel"
const appManagerUser = "eos-app-manager"

func main() {
	logger := logging.New("eamd")
	logger.Printf("version %s", buildinfo.VersionString())

	cfg, err := config.Load(os.Getenv("EAM_CONFIG_FILE"), logger)
	if err != nil {
		logger.Fatalf("loading configuration: %v", err)
	}
	snap := cfg.Snapshot()

	fs := fslayout.New(snap.ApplicationsDir, logger)
	if err := fs.SanityCheck(snap.PrimaryStorage, snap.SecondaryStorage); err != nil {
		logger.Fatalf("sanity check failed: %v", err)
	}

	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		logger.Fatalf("connecting to system bus: %v", err)
	}
	defer conn.Close()

	opsCfg := bundleops.DefaultConfig()
	opsCfg.GpgKeyring = snap.GpgKeyring
	env := &transaction.Env{
		Config: snap,
		Fs:     fs,
		Ops:    bundleops.New(opsCfg, logger),
		Logger: logger,
	}

	authz := &auth.Authorizer{
		AdminGroup:     adminGroup,
		AppManagerUser: appManagerUser,
		Oracle:         &auth.PolkitOracle{Conn: conn},
	}

	d := daemon.New(conn, cfg, fs, env, authz, logger)
	logger.Printf("starting, applications_dir=%s", snap.ApplicationsDir)
	if err := d.Run(context.Background()); err != nil {
		logger.Fatalf("daemon exited with error: %v", err)
	}
	logger.Printf("shut down cleanly")
}
