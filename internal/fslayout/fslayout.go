// Package fslayout owns the on-disk layout: bundle storage prefixes, the
// applications_dir symlink farm, sanity checks, and the atomic
// deploy/backup/prune primitives every Transaction step is built from.
// FsLayout itself is stateless; every method takes the paths it needs by
// reference, following the teacher's shared/fs.Fs interface split
// between stateless helpers and a thin struct.
package fslayout

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"

	petname "github.com/dustinkirkland/golang-petname"
	"github.com/google/renameio"
	"github.com/pkg/errors"

	"github.com/endlessm/eam/internal/manifest"
	"github.com/endlessm/eam/pkg/appid"
)

// FarmDirs is the fixed set of symlink-farm subdirectories populated
// under ApplicationsDir, exactly spec's SymlinkFarm set.
var FarmDirs = []string{
	"bin",
	"share/applications",
	"share/applications/games",
	"share/icons",
	"share/dbus-1/services",
	"share/glib-2.0/schemas",
	"share/ekn/data",
	"share/ekn/manifest",
	"share/help",
	"share/gnome-shell/search-providers",
	"share/kde4",
	"etc/xdg/autostart",
}

// ErrNotInstalled is returned by ResolveInstalledPrefix when none of the
// given storage prefixes holds a valid <prefix>/<app_id> app directory.
var ErrNotInstalled = errors.New("app is not installed")

// FsLayout implements the C2 component. It is safe for concurrent use:
// all state it touches is addressed by caller-supplied paths, never
// stored on the receiver.
type FsLayout struct {
	ApplicationsDir string
	Logger          *log.Logger
}

// New builds an FsLayout rooted at applicationsDir.
func New(applicationsDir string, logger *log.Logger) *FsLayout {
	return &FsLayout{ApplicationsDir: applicationsDir, Logger: logger}
}

// SanityCheck ensures ApplicationsDir exists as a real directory backed
// by /var (creating the backing directory and the symlink if absent),
// ensures every farm subdirectory exists, and fixes owner-other
// permissions on any top-level app directory under each storage prefix
// that lacks o+rx. storagePrefixes lists the bundle prefixes (primary,
// secondary) whose top-level app directories are subject to the
// permission sweep.
func (f *FsLayout) SanityCheck(storagePrefixes ...string) error {
	if err := f.ensureApplicationsDirBacking(); err != nil {
		return errors.Wrap(err, "sanity check: applications_dir backing")
	}
	for _, sub := range FarmDirs {
		dir := filepath.Join(f.ApplicationsDir, sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "sanity check: creating farm dir %s", dir)
		}
	}
	for _, prefix := range storagePrefixes {
		if err := f.fixPermissionsUnderPrefix(prefix); err != nil {
			return errors.Wrapf(err, "sanity check: fixing permissions under %s", prefix)
		}
	}
	return nil
}

// ensureApplicationsDirBacking makes sure ApplicationsDir resolves to a
// real directory under /var, creating "/var" + ApplicationsDir and
// symlinking ApplicationsDir to it if the symlink is missing.
func (f *FsLayout) ensureApplicationsDirBacking() error {
	info, err := os.Lstat(f.ApplicationsDir)
	if err == nil {
		if info.Mode()&os.ModeSymlink != 0 {
			target, rerr := os.Readlink(f.ApplicationsDir)
			if rerr != nil {
				return errors.Wrap(rerr, "reading applications_dir symlink")
			}
			return os.MkdirAll(target, 0o755)
		}
		if info.IsDir() {
			return nil
		}
		return errors.Errorf("%s exists and is neither a directory nor a symlink", f.ApplicationsDir)
	}
	if !os.IsNotExist(err) {
		return errors.Wrap(err, "stat applications_dir")
	}

	backing := filepath.Join("/var", f.ApplicationsDir)
	if err := os.MkdirAll(backing, 0o755); err != nil {
		return errors.Wrapf(err, "creating backing dir %s", backing)
	}
	if err := os.MkdirAll(filepath.Dir(f.ApplicationsDir), 0o755); err != nil {
		return errors.Wrap(err, "creating applications_dir parent")
	}
	if err := os.Symlink(backing, f.ApplicationsDir); err != nil {
		return errors.Wrap(err, "symlinking applications_dir")
	}
	return nil
}

// fixPermissionsUnderPrefix applies the owner-other permission sweep to
// every top-level app directory in prefix, grounded on the original
// daemon's fix_application_permissions_if_needed: only directories
// is_app_dir reports as apps are touched, and only when the top-level
// directory itself is missing o+rx.
func (f *FsLayout) fixPermissionsUnderPrefix(prefix string) error {
	entries, err := os.ReadDir(prefix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		appDir := filepath.Join(prefix, e.Name())
		if !f.IsAppDir(appDir) {
			continue
		}
		info, err := os.Stat(appDir)
		if err != nil {
			return err
		}
		if hasOtherReadExec(info.Mode()) {
			continue
		}
		if f.Logger != nil {
			f.Logger.Printf("fixing owner-other permissions under %s", appDir)
		}
		if err := fixPermissionsRecursive(appDir); err != nil {
			return err
		}
	}
	return nil
}

func hasOtherReadExec(mode fs.FileMode) bool {
	const oRX = 0o005
	return mode.Perm()&oRX == oRX
}

// fixPermissionsRecursive propagates u+rx onto o+rx for every entry
// under root, children before parent.
func fixPermissionsRecursive(root string) error {
	entries, err := os.ReadDir(root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		child := filepath.Join(root, e.Name())
		if e.IsDir() {
			if err := fixPermissionsRecursive(child); err != nil {
				return err
			}
		}
		if err := propagateOwnerExec(child); err != nil {
			return err
		}
	}
	return propagateOwnerExec(root)
}

func propagateOwnerExec(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil
	}
	mode := info.Mode().Perm()
	addend := (mode & 0o500) >> 6 // owner r-x mapped onto other
	newMode := mode | addend
	if newMode == mode {
		return nil
	}
	return os.Chmod(path, newMode)
}

// IsAppDir reports whether path/.info exists and declares an app_id
// equal to path's basename.
func (f *FsLayout) IsAppDir(path string) bool {
	m, err := manifest.LoadDir(path)
	if err != nil {
		return false
	}
	return m.AppID == appid.AppID(filepath.Base(path))
}

// ListApps returns every AppID with a valid app directory directly under
// any of storagePrefixes, in prefix order with no further sort.
func (f *FsLayout) ListApps(storagePrefixes ...string) ([]appid.AppID, error) {
	var apps []appid.AppID
	for _, prefix := range storagePrefixes {
		entries, err := os.ReadDir(prefix)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "reading %s", prefix)
		}
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			dir := filepath.Join(prefix, e.Name())
			if f.IsAppDir(dir) {
				apps = append(apps, appid.AppID(e.Name()))
			}
		}
	}
	return apps, nil
}

// DeployApp atomically moves srcPrefix/appID to dstPrefix/appID: a
// rename when both are on the same filesystem, else a recursive copy
// followed by a recursive delete of the source. The destination
// directory is fsynced before returning.
func (f *FsLayout) DeployApp(srcPrefix, dstPrefix string, app appid.AppID) error {
	src := filepath.Join(srcPrefix, string(app))
	dst := filepath.Join(dstPrefix, string(app))

	if err := os.MkdirAll(dstPrefix, 0o755); err != nil {
		return errors.Wrap(err, "creating destination prefix")
	}

	sameFS, err := sameFilesystem(srcPrefix, dstPrefix)
	if err != nil {
		return errors.Wrap(err, "checking filesystem identity")
	}

	if sameFS {
		if err := os.Rename(src, dst); err != nil {
			return errors.Wrap(err, "renaming app directory")
		}
	} else {
		if err := copyTree(src, dst); err != nil {
			_ = os.RemoveAll(dst)
			return errors.Wrap(err, "copying app directory")
		}
		if err := os.RemoveAll(src); err != nil {
			return errors.Wrap(err, "removing source after copy")
		}
	}

	return fsyncDir(dstPrefix)
}

func sameFilesystem(a, b string) (bool, error) {
	var sa, sb syscall.Stat_t
	if err := syscall.Stat(a, &sa); err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(a, 0o755); err != nil {
				return false, err
			}
			if err := syscall.Stat(a, &sa); err != nil {
				return false, err
			}
		} else {
			return false, err
		}
	}
	if err := syscall.Stat(b, &sb); err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(b, 0o755); err != nil {
				return false, err
			}
			if err := syscall.Stat(b, &sb); err != nil {
				return false, err
			}
		} else {
			return false, err
		}
	}
	return sa.Dev == sb.Dev, nil
}

func fsyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

// copyTree recursively copies src to dst, preserving mode bits and
// symlinks.
func copyTree(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}

	switch {
	case info.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		return os.Symlink(target, dst)
	case info.IsDir():
		if err := os.MkdirAll(dst, info.Mode().Perm()); err != nil {
			return err
		}
		entries, err := os.ReadDir(src)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := copyTree(filepath.Join(src, e.Name()), filepath.Join(dst, e.Name())); err != nil {
				return err
			}
		}
		return os.Chmod(dst, info.Mode().Perm())
	default:
		return copyFile(src, dst, info.Mode().Perm())
	}
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	w, err := renameio.TempFile("", dst)
	if err != nil {
		return err
	}
	defer w.Cleanup()

	if _, err := w.ReadFrom(in); err != nil {
		return err
	}
	if err := w.Chmod(mode); err != nil {
		return err
	}
	return w.CloseAtomicallyReplace()
}

// BackupApp renames prefix/appID to a sibling ".<appID>.bak.<nonce>"
// directory and returns its path.
func (f *FsLayout) BackupApp(prefix string, app appid.AppID) (string, error) {
	src := filepath.Join(prefix, string(app))
	backup := filepath.Join(prefix, "."+string(app)+".bak."+nonce())
	if err := os.Rename(src, backup); err != nil {
		return "", errors.Wrap(err, "backing up app directory")
	}
	return backup, nil
}

// RestoreApp reverses BackupApp: renames backupDir back to
// prefix/appID, removing whatever (partially deployed) directory may
// already sit there.
func (f *FsLayout) RestoreApp(prefix string, app appid.AppID, backupDir string) error {
	dst := filepath.Join(prefix, string(app))
	_ = os.RemoveAll(dst)
	if err := os.Rename(backupDir, dst); err != nil {
		return errors.Wrap(err, "restoring app directory from backup")
	}
	return nil
}

// PruneDir recursively deletes prefix/appID.
func (f *FsLayout) PruneDir(prefix string, app appid.AppID) error {
	dir := filepath.Join(prefix, string(app))
	if err := os.RemoveAll(dir); err != nil {
		return errors.Wrapf(err, "pruning %s", dir)
	}
	return nil
}

// nonce returns a unique, human-readable suffix for a backup directory
// name: a petname word pair (for a reader scanning `ls` output) plus a
// pid-and-counter value that actually guarantees uniqueness, following
// the teacher's petname.Generate(3, "-") + numeric-suffix pattern from
// api/routes/site.go.
func nonce() string {
	unique := strconv.FormatInt(int64(os.Getpid())<<20+int64(nonceCounter.add()), 36)
	return petname.Generate(2, "-") + "-" + unique
}

var nonceCounter counter

type counter struct{ n int64 }

func (c *counter) add() int64 {
	return atomic.AddInt64(&c.n, 1)
}

// ResolveInstalledPrefix returns the first of storagePrefixes under which
// <prefix>/<app> is a directory that IsAppDir accepts (the storage prefix
// the app is installed under). The symlink farm is not consulted.
// Distinguishes "nothing found" via ErrNotInstalled instead of silently
// reporting not-installed as an empty string.
func (f *FsLayout) ResolveInstalledPrefix(app appid.AppID, storagePrefixes ...string) (string, error) {
	for _, prefix := range storagePrefixes {
		dir := filepath.Join(prefix, string(app))
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			if f.IsAppDir(dir) {
				return prefix, nil
			}
		}
	}
	return "", errors.Wrapf(ErrNotInstalled, "app %s", app)
}

// CreateSymlinks walks FarmDirs; for each subdir present under
// prefix/appID, it creates a relative symlink at
// ApplicationsDir/<subdir>/<basename>. An existing symlink at that
// target is left alone if it already resolves into a different app's
// tree (never clobbered); same-app re-links are idempotent.
func (f *FsLayout) CreateSymlinks(prefix string, app appid.AppID) error {
	appDir := filepath.Join(prefix, string(app))
	for _, sub := range FarmDirs {
		srcDir := filepath.Join(appDir, sub)
		entries, err := os.ReadDir(srcDir)
		if err != nil {
			continue // subdir absent in this app's payload: nothing to link
		}
		farmDir := filepath.Join(f.ApplicationsDir, sub)
		if err := os.MkdirAll(farmDir, 0o755); err != nil {
			return errors.Wrapf(err, "ensuring farm dir %s", farmDir)
		}
		for _, e := range entries {
			linkPath := filepath.Join(farmDir, e.Name())
			target := filepath.Join(srcDir, e.Name())
			if err := f.linkOne(linkPath, target, appDir); err != nil {
				return err
			}
		}
	}
	return nil
}

func (f *FsLayout) linkOne(linkPath, target, appDir string) error {
	rel, err := filepath.Rel(filepath.Dir(linkPath), target)
	if err != nil {
		return errors.Wrap(err, "computing relative symlink target")
	}

	if existing, err := os.Lstat(linkPath); err == nil {
		if existing.Mode()&os.ModeSymlink == 0 {
			return errors.Errorf("%s exists and is not a symlink", linkPath)
		}
		resolved, err := filepath.EvalSymlinks(linkPath)
		if err != nil {
			// dangling link: safe to replace
			if err := os.Remove(linkPath); err != nil {
				return err
			}
		} else if !withinDir(resolved, appDir) {
			if f.Logger != nil {
				f.Logger.Printf("not overwriting %s: owned by a different app", linkPath)
			}
			return nil
		} else {
			if err := os.Remove(linkPath); err != nil {
				return err
			}
		}
	}

	return os.Symlink(rel, linkPath)
}

func withinDir(path, dir string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "")
}

// PruneSymlinks walks the farm and removes every link whose resolved
// target lies inside prefix/appID.
func (f *FsLayout) PruneSymlinks(prefix string, app appid.AppID) error {
	appDir := filepath.Join(prefix, string(app))
	for _, sub := range FarmDirs {
		farmDir := filepath.Join(f.ApplicationsDir, sub)
		entries, err := os.ReadDir(farmDir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			linkPath := filepath.Join(farmDir, e.Name())
			info, err := os.Lstat(linkPath)
			if err != nil || info.Mode()&os.ModeSymlink == 0 {
				continue
			}
			resolved, err := filepath.EvalSymlinks(linkPath)
			if err != nil {
				continue
			}
			if withinDir(resolved, appDir) {
				if err := os.Remove(linkPath); err != nil {
					return errors.Wrapf(err, "removing stale symlink %s", linkPath)
				}
			}
		}
	}
	return nil
}
