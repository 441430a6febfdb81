// Package manifest parses a bundle's embedded ".info" file: an INI file
// carrying at minimum [Bundle] app_id/version, and optionally an
// [External] group describing a post-install asset to fetch.
package manifest

import (
	"path/filepath"

	"github.com/go-ini/ini"
	"github.com/pkg/errors"

	"github.com/endlessm/eam/pkg/appid"
	"github.com/endlessm/eam/pkg/version"
)

// InfoFileName is the manifest's basename inside a bundle or app directory.
const InfoFileName = ".info"

// ExternalAsset describes the [External] group of a manifest: a
// post-extraction download plus its integrity hash and install script.
type ExternalAsset struct {
	URL      string
	Filename string
	SHA256   string
}

// Manifest is the parsed contents of an ".info" file.
type Manifest struct {
	AppID    appid.AppID
	Version  version.Version
	External *ExternalAsset // nil if the bundle has no [External] group
}

// ErrAppIDMismatch is returned by VerifyAppID when the manifest's
// declared app_id doesn't match the caller-supplied expectation.
var ErrAppIDMismatch = errors.New("manifest app_id does not match expected app id")

// LoadFile parses the ".info" file at path.
func LoadFile(path string) (*Manifest, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading manifest %s", path)
	}
	return fromINI(cfg)
}

// LoadDir parses "<dir>/.info".
func LoadDir(dir string) (*Manifest, error) {
	return LoadFile(filepath.Join(dir, InfoFileName))
}

func fromINI(cfg *ini.File) (*Manifest, error) {
	bundleSec, err := cfg.GetSection("Bundle")
	if err != nil {
		return nil, errors.Wrap(err, "manifest is missing [Bundle] group")
	}

	rawID := bundleSec.Key("app_id").String()
	if rawID == "" {
		return nil, errors.New("manifest [Bundle] is missing app_id")
	}
	id, err := appid.Parse(rawID)
	if err != nil {
		return nil, errors.Wrap(err, "manifest app_id is not legal")
	}

	rawVer := bundleSec.Key("version").String()
	var ver version.Version
	if rawVer != "" {
		ver, err = version.Parse(rawVer)
		if err != nil {
			return nil, errors.Wrap(err, "manifest version is malformed")
		}
	}

	m := &Manifest{AppID: id, Version: ver}

	if cfg.HasSection("External") {
		extSec, err := cfg.GetSection("External")
		if err != nil {
			return nil, err
		}
		url := extSec.Key("url").String()
		filename := extSec.Key("filename").String()
		sum := extSec.Key("sha256sum").String()
		if url == "" || filename == "" || sum == "" {
			return nil, errors.New("manifest [External] group requires url, filename and sha256sum")
		}
		m.External = &ExternalAsset{URL: url, Filename: filename, SHA256: sum}
	}

	return m, nil
}

// VerifyAppID returns ErrAppIDMismatch if m's app_id doesn't equal expected.
func (m *Manifest) VerifyAppID(expected appid.AppID) error {
	if m.AppID != expected {
		return errors.Wrapf(ErrAppIDMismatch, "manifest declares %q, expected %q", m.AppID, expected)
	}
	return nil
}
