package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSaveAndLoadProfile(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultProfile("laptop")
	cfg.Remote.URL = "https://dav.example.com/remote.php/dav/files/me"
	cfg.Remote.Username = "me"
	cfg.Remote.Password = "hunter2"
	cfg.Sync.Debounce = Duration{2 * time.Second}

	if err := Save(FilePath(dir), cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(FilePath(dir))
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected 0600, got %v", info.Mode().Perm())
	}
	raw, _ := os.ReadFile(FilePath(dir))
	if !strings.Contains(string(raw), `debounce = "2s"`) {
		t.Fatalf("durations must be written as strings:\n%s", raw)
	}

	got, err := LoadProfile(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.ProfileName != "laptop" || got.Remote.Password != "hunter2" {
		t.Fatalf("unexpected config %+v", got)
	}
	if got.Sync.Debounce.Duration != 2*time.Second || got.Sync.RevisionWindow.Duration != DefaultRevisionWindow {
		t.Fatalf("durations not round-tripped: %+v", got.Sync)
	}
	if !got.RemoteConfigured() {
		t.Fatal("remote should be configured")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	body := `profileName = "min"
[storage]
dbPath = "state.db"
[ipc]
socketPath = "bmd.sock"
[remote]
url = "http://localhost:8080/"
directory = "/backups/"
[sync]
revisionWindow = "5m"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cases := []struct {
		name string
		got  any
		want any
	}{
		{"branch", cfg.VCS.Branch, DefaultBranch},
		{"directory", cfg.Remote.Directory, "backups"},
		{"timeout", cfg.Remote.Timeout.Duration, DefaultRemoteTimeout},
		{"interval", cfg.Sync.Interval.Duration, DefaultInterval},
		{"revisionWindow", cfg.Sync.RevisionWindow.Duration, 5 * time.Minute},
		{"retention", cfg.Sync.RetentionDays, DefaultRetentionDays},
		{"capacity", cfg.Sync.SnapshotCapacity, DefaultSnapshotCapacity},
		{"pullMode", cfg.Sync.PullMode, DefaultPullMode},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.got != tc.want {
				t.Fatalf("got %v, want %v", tc.got, tc.want)
			}
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	base := "profileName = \"x\"\n[storage]\ndbPath = \"s.db\"\n[ipc]\nsocketPath = \"s.sock\"\n"
	cases := map[string]string{
		"missing profile": "[storage]\ndbPath = \"s.db\"\n",
		"bad duration":    base + "[sync]\ndebounce = \"soon\"\n",
		"bad pull mode":   base + "[sync]\npullMode = \"replace\"\n",
		"bad scheme":      base + "[remote]\nurl = \"ftp://host\"\n",
		"short interval":  base + "[sync]\ninterval = \"10s\"\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), FileName)
			if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestResolvePath(t *testing.T) {
	if got := ResolvePath("/p", "state.db"); got != filepath.Join("/p", "state.db") {
		t.Fatalf("relative: %s", got)
	}
	if got := ResolvePath("/p", "/abs/state.db"); got != "/abs/state.db" {
		t.Fatalf("absolute: %s", got)
	}
}
