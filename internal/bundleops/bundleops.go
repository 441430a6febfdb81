// Package bundleops implements the C3 component: signature verification,
// archive extraction, external-asset fetch, and post-deploy hooks. The
// archive-extraction code is adapted from the teacher's utils/archive.go
// (same mholt/archiver dependency, same zip-slip guard), generalized to
// preserve symlinks and to poll a cancel token between entries instead of
// running the loop to completion unconditionally.
package bundleops

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/mholt/archiver"
	"github.com/pkg/errors"

	"github.com/endlessm/eam/internal/busproto"
	"github.com/endlessm/eam/internal/cancel"
	"github.com/endlessm/eam/internal/manifest"
	"github.com/endlessm/eam/internal/procexec"
	"github.com/endlessm/eam/pkg/appid"
)

// maxRedirects bounds the external-asset download's redirect chain.
const maxRedirects = 5

// Config is the subset of the configuration snapshot BundleOps needs.
type Config struct {
	GpgvPath          string
	GpgKeyring        string
	DeltaApplyPath    string
	PythonInterps     []string // e.g. []string{"python3", "python3.11"}
	SchemaCompiler    string
	IconCacheUpdater  string
	DesktopDBUpdater  string
}

// DefaultConfig returns the standard tool names used on the target OS.
func DefaultConfig() Config {
	return Config{
		GpgvPath:         "gpgv",
		DeltaApplyPath:   "eam-delta-apply",
		PythonInterps:    []string{"python3"},
		SchemaCompiler:   "glib-compile-schemas",
		IconCacheUpdater: "gtk-update-icon-cache",
		DesktopDBUpdater: "update-desktop-database",
	}
}

// Ops bundles the tool configuration and logger used by every BundleOps
// operation.
type Ops struct {
	Cfg    Config
	Logger *log.Logger
	HTTP   *http.Client
}

// New builds an Ops with a redirect-capped HTTP client, grounded on the
// teacher's shared/utils/functions.go client-construction idiom.
func New(cfg Config, logger *log.Logger) *Ops {
	return &Ops{
		Cfg:    cfg,
		Logger: logger,
		HTTP: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errors.New("stopped after too many redirects")
				}
				return nil
			},
		},
	}
}

// VerifySignature shells out to gpgv with the configured keyring. Exit
// code 0 means valid; anything else is reported as InvalidFile.
func (o *Ops) VerifySignature(ctx context.Context, sigPath, bundlePath string) error {
	_, err := procexec.Run(ctx, o.Logger, o.Cfg.GpgvPath,
		"--keyring", o.Cfg.GpgKeyring,
		"--logger-fd", "1",
		"--quiet",
		sigPath, bundlePath)
	if err != nil {
		return busproto.NewError(busproto.ErrInvalidFile, errors.Wrap(err, "signature verification failed"))
	}
	return nil
}

// ExtractArchive streams bundlePath into destDir, validating the
// bundle's .info manifest (app_id must match) and polling tok between
// entries. Returns the parsed manifest on success.
func (o *Ops) ExtractArchive(tok *cancel.Token, bundlePath string, destDir string, app appid.AppID) (*manifest.Manifest, error) {
	ar, err := archiver.ByExtension(bundlePath)
	if err != nil {
		// Not a known archive extension (e.g. ".bundle"): sniff the zip or tar magic.
		head := make([]byte, 262)
		if hf, oerr := os.Open(bundlePath); oerr == nil {
			n, _ := io.ReadFull(hf, head)
			hf.Close()
			if n >= 4 && string(head[:4]) == "PK\x03\x04" {
				ar, err = archiver.NewZip(), nil
			} else if n >= 262 && string(head[257:262]) == "ustar" {
				ar, err = archiver.NewTar(), nil
			}
		}
	}
	if err != nil {
		return nil, busproto.NewError(busproto.ErrInvalidFile, errors.Wrap(err, "unrecognized bundle format"))
	}
	reader, ok := ar.(archiver.Reader)
	if !ok {
		return nil, busproto.NewError(busproto.ErrInvalidFile, errors.New("archive format does not support streamed extraction"))
	}

	f, err := os.Open(bundlePath)
	if err != nil {
		return nil, errors.Wrap(err, "opening bundle")
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat bundle")
	}

	if err := reader.Open(f, stat.Size()); err != nil {
		return nil, busproto.NewError(busproto.ErrInvalidFile, errors.Wrap(err, "opening bundle archive"))
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating extraction directory")
	}

	for {
		if err := tok.Check(); err != nil {
			return nil, err
		}

		entry, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, busproto.NewError(busproto.ErrInvalidFile, errors.Wrap(err, "reading archive entry"))
		}
		err = extractEntry(destDir, entry)
		entry.Close()
		if err != nil {
			return nil, err
		}
	}

	m, err := manifest.LoadDir(destDir)
	if err != nil {
		return nil, busproto.NewError(busproto.ErrInvalidFile, errors.Wrap(err, "bundle is missing a valid .info"))
	}
	if err := m.VerifyAppID(app); err != nil {
		return nil, busproto.NewError(busproto.ErrInvalidFile, err)
	}
	return m, nil
}

func extractEntry(destDir string, entry archiver.File) error {
	name := entryName(entry)
	if name == "" || strings.HasPrefix(name, "__MACOSX") {
		return nil
	}

	target := filepath.Join(destDir, name)
	if !withinDestination(target, destDir) {
		return busproto.NewError(busproto.ErrInvalidFile, fmt.Errorf("illegal archive entry path: %s", name))
	}

	if th, ok := entry.Header.(*tar.Header); ok && th.Typeflag == tar.TypeSymlink {
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		_ = os.Remove(target)
		return os.Symlink(th.Linkname, target)
	}

	if entry.IsDir() {
		return os.MkdirAll(target, entry.Mode().Perm()|0o700)
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	mode := entry.Mode()
	if mode == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, entry)
	closeErr := out.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// entryName reads the archive-format-specific header's Name field
// directly via reflection rather than calling entry.Name(): for a zip
// or rar entry, entry.FileInfo().Name() returns only path.Base(...),
// silently flattening directory structure on extraction. Every header
// type mholt/archiver produces (tar.Header, zip.FileHeader, rar
// headers) carries the full path in a string field named Name.
func entryName(entry archiver.File) string {
	if th, ok := entry.Header.(*tar.Header); ok {
		return th.Name
	}

	val := reflect.ValueOf(entry.Header)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return entry.Name()
	}
	nameField := val.FieldByName("Name")
	if !nameField.IsValid() || nameField.Kind() != reflect.String {
		return entry.Name()
	}
	return nameField.String()
}

func withinDestination(target, destDir string) bool {
	clean := filepath.Clean(destDir)
	return target == clean || strings.HasPrefix(target, clean+string(os.PathSeparator))
}

// FetchExternalAsset implements the §4.3 External asset fetch algorithm:
// download into cacheDir/<app>/external/<filename>, verify its sha256,
// run .script.install, and always remove the external/ directory
// afterward regardless of outcome.
func (o *Ops) FetchExternalAsset(ctx context.Context, tok *cancel.Token, cacheAppDir string, app appid.AppID, asset *manifest.ExternalAsset) error {
	externalDir := filepath.Join(cacheAppDir, "external")
	if err := os.MkdirAll(externalDir, 0o755); err != nil {
		return errors.Wrap(err, "creating external staging dir")
	}
	defer os.RemoveAll(externalDir)

	destPath := filepath.Join(externalDir, asset.Filename)
	if err := o.download(ctx, tok, asset.URL, destPath); err != nil {
		return err
	}

	sum, err := sha256File(destPath)
	if err != nil {
		return errors.Wrap(err, "hashing downloaded asset")
	}
	if !strings.EqualFold(sum, asset.SHA256) {
		return busproto.NewError(busproto.ErrInvalidFile, fmt.Errorf("external asset checksum mismatch: got %s want %s", sum, asset.SHA256))
	}

	scriptPath := filepath.Join(cacheAppDir, ".script.install")
	info, err := os.Stat(scriptPath)
	if err != nil {
		return busproto.NewError(busproto.ErrInvalidFile, errors.Wrap(err, "missing .script.install"))
	}
	if info.Mode()&0o100 == 0 {
		return busproto.NewError(busproto.ErrInvalidFile, errors.New(".script.install is not executable"))
	}

	if _, err := procexec.Run(ctx, o.Logger, scriptPath, string(app), cacheAppDir); err != nil {
		return busproto.NewError(busproto.ErrFailed, errors.Wrap(err, "external install script failed"))
	}
	return nil
}

func (o *Ops) download(ctx context.Context, tok *cancel.Token, url, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "building download request")
	}

	resp, err := o.HTTP.Do(req)
	if err != nil {
		return busproto.NewError(busproto.ErrNoNetwork, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return busproto.NewError(busproto.ErrNoNetwork, fmt.Errorf("unexpected status %d fetching %s", resp.StatusCode, url))
	}

	out, err := os.Create(destPath)
	if err != nil {
		return errors.Wrap(err, "creating download destination")
	}
	defer out.Close()

	buf := make([]byte, 64*1024)
	for {
		if err := tok.Check(); err != nil {
			return err
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return errors.Wrap(werr, "writing downloaded chunk")
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return busproto.NewError(busproto.ErrNoNetwork, rerr)
		}
	}
	return nil
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// RunPostDeployHooks runs the best-effort post-deploy hooks: python
// byte-compile over any payload site-packages trees, then a desktop
// cache refresh. Failures are logged, never returned.
func (o *Ops) RunPostDeployHooks(ctx context.Context, appDir string, applicationsDir string) {
	o.byteCompilePython(ctx, appDir)
	o.refreshDesktopCaches(ctx, applicationsDir)
}

func (o *Ops) byteCompilePython(ctx context.Context, appDir string) {
	dirs, err := findPythonPackageDirs(appDir)
	if err != nil || len(dirs) == 0 {
		return
	}
	for _, interp := range o.Cfg.PythonInterps {
		ok := true
		for _, dir := range dirs {
			if _, err := procexec.Run(ctx, o.Logger, interp, "-m", "compileall", "-q", dir); err != nil {
				ok = false
			}
		}
		if ok {
			return
		}
	}
	if o.Logger != nil {
		o.Logger.Printf("all python interpreters failed to byte-compile %s", appDir)
	}
}

func findPythonPackageDirs(appDir string) ([]string, error) {
	base := filepath.Join(appDir, "lib")
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "python") {
			continue
		}
		for _, pkgs := range []string{"dist-packages", "site-packages"} {
			d := filepath.Join(base, e.Name(), pkgs)
			if info, err := os.Stat(d); err == nil && info.IsDir() {
				dirs = append(dirs, d)
			}
		}
	}
	return dirs, nil
}

func (o *Ops) refreshDesktopCaches(ctx context.Context, applicationsDir string) {
	any := false
	if _, err := procexec.Run(ctx, o.Logger, o.Cfg.SchemaCompiler, filepath.Join(applicationsDir, "share", "glib-2.0", "schemas")); err == nil {
		any = true
	}
	if _, err := procexec.Run(ctx, o.Logger, o.Cfg.IconCacheUpdater, filepath.Join(applicationsDir, "share", "icons")); err == nil {
		any = true
	}
	if _, err := procexec.Run(ctx, o.Logger, o.Cfg.DesktopDBUpdater, filepath.Join(applicationsDir, "share", "applications")); err == nil {
		any = true
	}
	if !any && o.Logger != nil {
		o.Logger.Printf("desktop cache refresh: all tools failed")
	}
}

// DeltaApplicator applies a delta bundle against a previously-installed
// app tree, producing the updated tree at destDir.
type DeltaApplicator interface {
	Apply(ctx context.Context, backupDir, deltaBundle, destDir string) error
}

// ExternalDeltaApplicator shells out to an external delta-apply tool,
// the same hygienic child-process model signature verification uses.
type ExternalDeltaApplicator struct {
	Path   string
	Logger *log.Logger
}

func (a *ExternalDeltaApplicator) Apply(ctx context.Context, backupDir, deltaBundle, destDir string) error {
	path := a.Path
	if path == "" {
		path = "eam-delta-apply"
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return errors.Wrap(err, "creating delta destination")
	}
	if _, err := procexec.Run(ctx, a.Logger, path, backupDir, deltaBundle, destDir); err != nil {
		return busproto.NewError(busproto.ErrFailed, errors.Wrap(err, "delta applicator failed"))
	}
	return nil
}
