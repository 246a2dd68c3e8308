package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Addr != "127.0.0.1:8765" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.Store.Backend != BackendSQLite {
		t.Errorf("Store.Backend = %q", cfg.Store.Backend)
	}
	if filepath.Base(cfg.Store.Path) != "stats.db" {
		t.Errorf("Store.Path = %q, want default stats.db", cfg.Store.Path)
	}
	if cfg.Store.WriteDelay != 5*time.Second {
		t.Errorf("Store.WriteDelay = %v", cfg.Store.WriteDelay)
	}
	if cfg.Tracker.TickInterval != time.Second || cfg.Tracker.SaveInterval != 5*time.Second || cfg.Tracker.EnrichTimeout != 10*time.Second {
		t.Errorf("Tracker = %+v", cfg.Tracker)
	}
	if cfg.Cache.Capacity != 500 || cfg.Cache.TTL != 24*time.Hour {
		t.Errorf("Cache = %+v", cfg.Cache)
	}
	if cfg.Sync.Cooldown != time.Hour || cfg.Sync.Concurrency != 5 {
		t.Errorf("Sync = %+v", cfg.Sync)
	}
	if cfg.LogLevel() != slog.LevelInfo {
		t.Errorf("LogLevel = %v", cfg.LogLevel())
	}
	if cfg.Location() != time.Local {
		t.Errorf("Location = %v", cfg.Location())
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
addr: ":9000"
timezone: UTC
store:
  backend: dir
  path: /tmp/listening
  write_delay: 2s
tracker:
  tick_interval: 500ms
cache:
  capacity: 50
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Addr != ":9000" {
		t.Errorf("Addr = %q", cfg.Addr)
	}
	if cfg.Store.Backend != BackendDir || cfg.Store.Path != "/tmp/listening" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Store.WriteDelay != 2*time.Second {
		t.Errorf("WriteDelay = %v", cfg.Store.WriteDelay)
	}
	if cfg.Tracker.TickInterval != 500*time.Millisecond {
		t.Errorf("TickInterval = %v", cfg.Tracker.TickInterval)
	}
	if cfg.Tracker.SaveInterval != 5*time.Second {
		t.Errorf("SaveInterval default lost: %v", cfg.Tracker.SaveInterval)
	}
	if cfg.Cache.Capacity != 50 {
		t.Errorf("Capacity = %d", cfg.Cache.Capacity)
	}
	if cfg.Location() != time.UTC {
		t.Errorf("Location = %v", cfg.Location())
	}
	if cfg.LogLevel() != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel())
	}
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("LISTENING_TRACKER_STORE_BACKEND", "postgres")
	t.Setenv("LISTENING_TRACKER_STORE_DATABASE_URL", "postgres://localhost/tracker")
	t.Setenv("LISTENING_TRACKER_SOUNDCLOUD_CLIENT_ID", "sc-id")
	t.Setenv("LISTENING_TRACKER_SYNC_COOLDOWN", "15m")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Backend != BackendPostgres || cfg.Store.DatabaseURL != "postgres://localhost/tracker" {
		t.Errorf("Store = %+v", cfg.Store)
	}
	if cfg.Store.Path != "" {
		t.Errorf("postgres backend should not get a path, got %q", cfg.Store.Path)
	}
	if cfg.SoundCloud.ClientID != "sc-id" {
		t.Errorf("SoundCloud.ClientID = %q", cfg.SoundCloud.ClientID)
	}
	if cfg.Sync.Cooldown != 15*time.Minute {
		t.Errorf("Sync.Cooldown = %v", cfg.Sync.Cooldown)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{
			name:    "unknown backend",
			env:     map[string]string{"LISTENING_TRACKER_STORE_BACKEND": "redis"},
			wantErr: ErrUnknownBackend,
		},
		{
			name:    "postgres without url",
			env:     map[string]string{"LISTENING_TRACKER_STORE_BACKEND": "postgres"},
			wantErr: ErrMissingDatabaseURL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Run("bad timezone", func(t *testing.T) {
		t.Setenv("LISTENING_TRACKER_STORE_BACKEND", "memory")
		t.Setenv("LISTENING_TRACKER_TIMEZONE", "Mars/Olympus")
		if _, err := Load(""); err == nil {
			t.Error("expected timezone error")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error for missing config file")
		}
	})
}
