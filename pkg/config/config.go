// Package config loads and saves the per-profile config.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the config file inside a profile directory.
const FileName = "config.toml"

// Defaults applied by validation when a field is left empty.
const (
	DefaultBranch           = "main"
	DefaultDirectory        = "bookmarks"
	DefaultRemoteTimeout    = 30 * time.Second
	DefaultInterval         = 30 * time.Minute
	DefaultDebounce         = 5 * time.Second
	DefaultRevisionWindow   = 10 * time.Minute
	DefaultRetentionDays    = 30
	DefaultSnapshotCapacity = 10
	DefaultCacheTTL         = 30 * time.Second
	DefaultDownloadTimeout  = 30 * time.Second
	DefaultPullMode         = "overwrite"
)

// Duration is a time.Duration written as a string such as "10m".
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// IPCConfig defines socket settings.
type IPCConfig struct {
	SocketPath string `toml:"socketPath"`
}

// StorageConfig defines SQLite settings.
type StorageConfig struct {
	DBPath string `toml:"dbPath"`
}

// VCSRemote config.
type VCSRemote struct {
	URL           string `toml:"url"`
	CredentialRef string `toml:"credentialRef,omitempty"`
}

// VCSConfig defines the local history journal.
type VCSConfig struct {
	Enabled  bool      `toml:"enabled"`
	Branch   string    `toml:"branch"`
	AutoPush bool      `toml:"autoPush"`
	Remote   VCSRemote `toml:"remote"`
}

// LoggingConfig defines logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level"`
	FilePath    string `toml:"filePath,omitempty"`
	FileMaxSize int    `toml:"fileMaxSizeMB"`
	FileBackups int    `toml:"fileMaxBackups"`
	FileMaxAge  int    `toml:"fileMaxAgeDays"`
}

// RemoteConfig points at the WebDAV server holding backups.
type RemoteConfig struct {
	URL       string   `toml:"url"`
	Username  string   `toml:"username"`
	Password  string   `toml:"password"`
	Directory string   `toml:"directory"`
	Timeout   Duration `toml:"timeout"`
}

// SyncConfig tunes the sync engine and its triggers.
type SyncConfig struct {
	AutoSync         bool     `toml:"autoSync"`
	Interval         Duration `toml:"interval"`
	Debounce         Duration `toml:"debounce"`
	RevisionWindow   Duration `toml:"revisionWindow"`
	RetentionDays    int      `toml:"retentionDays"`
	SnapshotCapacity int      `toml:"snapshotCapacity"`
	CacheTTL         Duration `toml:"cacheTTL"`
	DownloadTimeout  Duration `toml:"downloadTimeout"`
	PullMode         string   `toml:"pullMode"`
}

// ProfileConfig aggregates service configuration for a profile.
type ProfileConfig struct {
	ProfileName string        `toml:"profileName"`
	BrowserName string        `toml:"browserName"`
	Storage     StorageConfig `toml:"storage"`
	IPC         IPCConfig     `toml:"ipc"`
	Logging     LoggingConfig `toml:"logging"`
	VCS         VCSConfig     `toml:"vcs"`
	Remote      RemoteConfig  `toml:"remote"`
	Sync        SyncConfig    `toml:"sync"`
}

// DefaultProfile returns the configuration written by "davmark init".
func DefaultProfile(name string) *ProfileConfig {
	return &ProfileConfig{
		ProfileName: name,
		BrowserName: "davmark",
		Storage:     StorageConfig{DBPath: "state.db"},
		IPC:         IPCConfig{SocketPath: "bmd.sock"},
		Logging:     LoggingConfig{Level: "info", FileMaxSize: 10, FileBackups: 3, FileMaxAge: 28},
		VCS:         VCSConfig{Branch: DefaultBranch},
		Remote: RemoteConfig{
			Directory: DefaultDirectory,
			Timeout:   Duration{DefaultRemoteTimeout},
		},
		Sync: SyncConfig{
			AutoSync:         true,
			Interval:         Duration{DefaultInterval},
			Debounce:         Duration{DefaultDebounce},
			RevisionWindow:   Duration{DefaultRevisionWindow},
			RetentionDays:    DefaultRetentionDays,
			SnapshotCapacity: DefaultSnapshotCapacity,
			CacheTTL:         Duration{DefaultCacheTTL},
			DownloadTimeout:  Duration{DefaultDownloadTimeout},
			PullMode:         DefaultPullMode,
		},
	}
}

// FilePath returns the config file path for a profile directory.
func FilePath(profileDir string) string {
	return filepath.Join(profileDir, FileName)
}

// Load reads config.toml from the provided path.
func Load(path string) (*ProfileConfig, error) {
	var cfg ProfileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadProfile reads the config.toml inside profileDir.
func LoadProfile(profileDir string) (*ProfileConfig, error) {
	return Load(FilePath(profileDir))
}

// Save writes cfg to path. The file may hold the remote password, so it is
// only readable by the owner.
func Save(path string, cfg *ProfileConfig) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("encode config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// ResolvePath makes a profile-relative path absolute.
func ResolvePath(profileDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(profileDir, p)
}

// RemoteConfigured reports whether a WebDAV endpoint is set.
func (cfg *ProfileConfig) RemoteConfigured() bool {
	return strings.TrimSpace(cfg.Remote.URL) != ""
}

func (cfg *ProfileConfig) validate() error {
	if cfg.ProfileName == "" {
		return fmt.Errorf("profileName required")
	}
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.dbPath required")
	}
	if cfg.IPC.SocketPath == "" {
		return fmt.Errorf("ipc.socketPath required")
	}
	if cfg.BrowserName == "" {
		cfg.BrowserName = "davmark"
	}
	if cfg.VCS.Branch == "" {
		cfg.VCS.Branch = DefaultBranch
	}
	if cfg.Remote.URL != "" && !strings.HasPrefix(cfg.Remote.URL, "http://") && !strings.HasPrefix(cfg.Remote.URL, "https://") {
		return fmt.Errorf("remote.url must be http or https")
	}
	if cfg.Remote.Directory == "" {
		cfg.Remote.Directory = DefaultDirectory
	}
	cfg.Remote.Directory = strings.Trim(cfg.Remote.Directory, "/")
	defaultDuration(&cfg.Remote.Timeout, DefaultRemoteTimeout)

	s := &cfg.Sync
	defaultDuration(&s.Interval, DefaultInterval)
	defaultDuration(&s.Debounce, DefaultDebounce)
	defaultDuration(&s.RevisionWindow, DefaultRevisionWindow)
	defaultDuration(&s.CacheTTL, DefaultCacheTTL)
	defaultDuration(&s.DownloadTimeout, DefaultDownloadTimeout)
	if s.RetentionDays == 0 {
		s.RetentionDays = DefaultRetentionDays
	}
	if s.SnapshotCapacity <= 0 {
		s.SnapshotCapacity = DefaultSnapshotCapacity
	}
	switch s.PullMode {
	case "":
		s.PullMode = DefaultPullMode
	case "overwrite", "merge":
	default:
		return fmt.Errorf("sync.pullMode must be overwrite or merge, got %q", s.PullMode)
	}
	if s.Interval.Duration < time.Minute {
		return fmt.Errorf("sync.interval must be at least 1m")
	}
	return nil
}

func defaultDuration(d *Duration, def time.Duration) {
	if d.Duration <= 0 {
		d.Duration = def
	}
}
