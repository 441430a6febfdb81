// Package config loads and mutates the daemon's single INI configuration
// file, following the teacher's viper-based LoadConfig idiom
// (shared/utils/config.go) generalized to this daemon's key table and to
// the comment-preserving rewrite set_key/reset_key require.
package config

import (
	"sync/atomic"
	"time"

	"github.com/go-ini/ini"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// DefaultConfigFile is used when EAM_CONFIG_FILE is unset.
const DefaultConfigFile = "/etc/eos-app-manager/eam.conf"

// Snapshot is an immutable view of the configuration at a point in time.
type Snapshot struct {
	ApplicationsDir    string
	CacheDir           string
	PrimaryStorage     string
	SecondaryStorage   string
	GpgKeyring         string
	InactivityTimeout  time.Duration
	ServerURL          string
	APIVersion         string
	EnableDeltaUpdates bool
}

type keyDefault struct {
	group, key string
	def        interface{}
}

var keyTable = []keyDefault{
	{"Directories", "ApplicationsDir", "/endless"},
	{"Directories", "CacheDir", "/var/cache/eos-app-manager"},
	{"Directories", "PrimaryStorage", "/var/endless"},
	{"Directories", "SecondaryStorage", "/var/endless-extra"},
	{"Directories", "GpgKeyring", "/usr/share/eos-app-manager/eos-keyring.gpg"},
	{"Daemon", "InactivityTimeout", 300},
	{"Repository", "ServerUrl", "https://appupdates.endlessm.com"},
	{"Repository", "ApiVersion", "v1"},
	{"Repository", "EnableDeltaUpdates", true},
}

func envVar(group, key string) string {
	return "EAM_" + upper(group) + "_" + upper(key)
}

func upper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// Config owns the live, hot-reloadable configuration snapshot plus the
// on-disk path it was (and will be) rewritten at.
type Config struct {
	path string
	cur  atomic.Pointer[Snapshot]
}

// Load resolves path (DefaultConfigFile if empty), parses it with
// go-ini/ini for strict per-key diagnostics, seeds viper with the key
// table's defaults and EAM_* environment overrides, and returns a Config
// holding the resulting Snapshot.
func Load(path string, logger interface{ Printf(string, ...interface{}) }) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	for _, kd := range keyTable {
		fq := kd.group + "." + kd.key
		v.SetDefault(fq, kd.def)
		v.BindEnv(fq, envVar(kd.group, kd.key))
	}

	iniFile, iniErr := ini.Load(path)
	if iniErr != nil {
		if logger != nil {
			logger.Printf("config: %s unreadable, using defaults: %v", path, iniErr)
		}
	} else {
		applyValidatedKeys(v, iniFile, logger)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if logger != nil {
				logger.Printf("config: ignoring malformed %s: %v", path, err)
			}
		}
	}

	c := &Config{path: path}
	c.cur.Store(snapshotFromViper(v))
	return c, nil
}

// applyValidatedKeys re-sets each key's default to the go-ini-parsed
// value, and pins a key with an unparsable type (e.g.
// InactivityTimeout = "banana") to its documented default so the raw
// file value viper later reads cannot shadow it.
func applyValidatedKeys(v *viper.Viper, f *ini.File, logger interface{ Printf(string, ...interface{}) }) {
	for _, kd := range keyTable {
		sec, err := f.GetSection(kd.group)
		if err != nil || !sec.HasKey(kd.key) {
			continue
		}
		raw := sec.Key(kd.key).String()
		fq := kd.group + "." + kd.key
		switch kd.def.(type) {
		case int:
			n, err := sec.Key(kd.key).Int()
			if err != nil {
				if logger != nil {
					logger.Printf("config: %s.%s=%q is not an integer, using default", kd.group, kd.key, raw)
				}
				v.Set(fq, kd.def)
				continue
			}
			v.SetDefault(fq, n)
		case bool:
			b, err := sec.Key(kd.key).Bool()
			if err != nil {
				if logger != nil {
					logger.Printf("config: %s.%s=%q is not a bool, using default", kd.group, kd.key, raw)
				}
				v.Set(fq, kd.def)
				continue
			}
			v.SetDefault(fq, b)
		default:
			v.SetDefault(fq, raw)
		}
	}
}

func snapshotFromViper(v *viper.Viper) *Snapshot {
	return &Snapshot{
		ApplicationsDir:    v.GetString("Directories.ApplicationsDir"),
		CacheDir:           v.GetString("Directories.CacheDir"),
		PrimaryStorage:     v.GetString("Directories.PrimaryStorage"),
		SecondaryStorage:   v.GetString("Directories.SecondaryStorage"),
		GpgKeyring:         v.GetString("Directories.GpgKeyring"),
		InactivityTimeout:  time.Duration(v.GetInt("Daemon.InactivityTimeout")) * time.Second,
		ServerURL:          v.GetString("Repository.ServerUrl"),
		APIVersion:         v.GetString("Repository.ApiVersion"),
		EnableDeltaUpdates: v.GetBool("Repository.EnableDeltaUpdates"),
	}
}

// Snapshot returns the currently active, immutable configuration.
func (c *Config) Snapshot() *Snapshot {
	return c.cur.Load()
}

// SetKey rewrites group.key = value in the on-disk INI file, preserving
// comments and unrelated keys via go-ini/ini's in-place SaveTo, then
// reloads and atomically swaps in a fresh Snapshot.
func (c *Config) SetKey(group, key, value string) error {
	f, err := ini.LooseLoad(c.path)
	if err != nil {
		return errors.Wrapf(err, "loading %s for rewrite", c.path)
	}
	f.Section(group).Key(key).SetValue(value)
	if err := f.SaveTo(c.path); err != nil {
		return errors.Wrapf(err, "saving %s", c.path)
	}
	return c.reload()
}

// ResetKey removes group.key from the on-disk file (reverting it to its
// compiled-in default on next read) and reloads.
func (c *Config) ResetKey(group, key string) error {
	f, err := ini.LooseLoad(c.path)
	if err != nil {
		return errors.Wrapf(err, "loading %s for rewrite", c.path)
	}
	if f.HasSection(group) {
		f.Section(group).DeleteKey(key)
	}
	if err := f.SaveTo(c.path); err != nil {
		return errors.Wrapf(err, "saving %s", c.path)
	}
	return c.reload()
}

func (c *Config) reload() error {
	fresh, err := Load(c.path, nil)
	if err != nil {
		return err
	}
	c.cur.Store(fresh.Snapshot())
	return nil
}
