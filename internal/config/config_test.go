package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
listen: "127.0.0.1:9000"
log_level: debug
output: plain
shutdown_timeout: 10s
blocks:
  - service: cups
  - service: sshd
    active_format: " ssh up "
    inactive_format: " ssh DOWN "
    inactive_state: warning
    notify: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Normalize(); err != nil {
		t.Fatalf("Normalize: %v", err)
	}

	if cfg.Listen != "127.0.0.1:9000" {
		t.Errorf("listen = %q", cfg.Listen)
	}
	if cfg.LogLevel != "debug" || cfg.Output != "plain" {
		t.Errorf("log_level = %q, output = %q", cfg.LogLevel, cfg.Output)
	}
	if time.Duration(cfg.ShutdownTimeout) != 10*time.Second {
		t.Errorf("shutdown_timeout = %v", time.Duration(cfg.ShutdownTimeout))
	}
	if len(cfg.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(cfg.Blocks))
	}

	// First block got all defaults.
	b := cfg.Blocks[0]
	if b.Driver != DriverSystemd {
		t.Errorf("driver = %q, want systemd", b.Driver)
	}
	if b.ActiveFormat != DefaultActiveFormat || b.InactiveFormat != DefaultInactiveFormat {
		t.Errorf("formats = %q / %q, want defaults", b.ActiveFormat, b.InactiveFormat)
	}
	if b.ActiveState != "idle" || b.InactiveState != "critical" {
		t.Errorf("states = %q / %q, want idle/critical", b.ActiveState, b.InactiveState)
	}

	// Second block keeps overrides.
	b = cfg.Blocks[1]
	if b.ActiveFormat != " ssh up " || b.InactiveState != "warning" || !b.Notify {
		t.Errorf("second block = %+v, overrides lost", b)
	}
}

func TestLoadMissingFileReturnsEmptyConfig(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Blocks) != 0 {
		t.Errorf("blocks = %d, want 0", len(cfg.Blocks))
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "blocks: [unterminated")
	if _, err := Load(path); err == nil {
		t.Fatal("Load succeeded on malformed YAML")
	}
}

func TestNormalizeErrors(t *testing.T) {
	tests := []struct {
		name  string
		block Block
	}{
		{"missing service", Block{}},
		{"unknown driver", Block{Service: "cups", Driver: "runit"}},
		{"invalid active state", Block{Service: "cups", ActiveState: "blinking"}},
		{"invalid inactive state", Block{Service: "cups", InactiveState: "red"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Blocks: []Block{tt.block}}
			if err := cfg.Normalize(); err == nil {
				t.Errorf("Normalize accepted %+v", tt.block)
			}
		})
	}
}

func TestDurationRejectsGarbage(t *testing.T) {
	path := writeConfig(t, "shutdown_timeout: soon\n")
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted invalid duration")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	want := "/tmp/xdg/unitbar/config.yaml"
	if got := DefaultPath(); got != want {
		t.Errorf("DefaultPath() = %q, want %q", got, want)
	}
}
