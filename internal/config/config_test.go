package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"github.com/bryanchriswhite/FocusMirror/internal/pump"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "focusmirror", "config.yaml")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestNewManagerWritesDefaults(t *testing.T) {
	m := newManager(t)
	data, err := os.ReadFile(m.GetConfigPath())
	if err != nil {
		t.Fatalf("defaults not written: %v", err)
	}
	if !strings.Contains(string(data), "frame_rate: 60") {
		t.Fatalf("unexpected config file:\n%s", data)
	}
	if got := m.Get(); *got != *Defaults() {
		t.Fatalf("Get = %+v", got)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("frame_rate: 90\nserver:\n  enabled: true\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg := m.Get()
	if cfg.FrameRate != 90 || !cfg.Server.Enabled || cfg.Server.Port != 8080 || cfg.Preview.Quality != 80 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("frame_rate: 7\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewManager(path); !errors.Is(err, pump.ErrInvalidFrameRate) {
		t.Fatalf("err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(*Config) {}, true},
		{"max rate", func(c *Config) { c.FrameRate = 0 }, true},
		{"rate too low", func(c *Config) { c.FrameRate = 29 }, false},
		{"rate too high", func(c *Config) { c.FrameRate = 121 }, false},
		{"unknown backend", func(c *Config) { c.Backend = "wayland" }, false},
		{"sim backend", func(c *Config) { c.Backend = "sim" }, true},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, false},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, false},
		{"quality over", func(c *Config) { c.Preview.Quality = 101 }, false},
		{"negative fps", func(c *Config) { c.Preview.MaxFPS = -1 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			if err := cfg.Validate(); (err == nil) != tt.ok {
				t.Fatalf("Validate = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestSetAndValue(t *testing.T) {
	m := newManager(t)

	if err := m.Set("server.port", "9090"); err != nil {
		t.Fatal(err)
	}
	if err := m.Set("no_disturb", "true"); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.Value("server.port"); v != "9090" {
		t.Fatalf("server.port = %q", v)
	}

	reloaded, err := NewManager(m.GetConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if cfg := reloaded.Get(); cfg.Server.Port != 9090 || !cfg.NoDisturb {
		t.Fatalf("not persisted: %+v", cfg)
	}

	for _, bad := range [][2]string{
		{"frame_rate", "500"},
		{"frame_rate", "fast"},
		{"notify", "maybe"},
		{"colour", "red"},
	} {
		if err := m.Set(bad[0], bad[1]); err == nil {
			t.Errorf("Set(%q, %q) succeeded", bad[0], bad[1])
		}
	}
	if cfg := m.Get(); cfg.FrameRate != 60 {
		t.Fatalf("rejected Set changed config: %+v", cfg)
	}
	if _, err := m.Value("colour"); err == nil {
		t.Fatal("Value of unknown key succeeded")
	}
}

func TestResolveAppliesViperOverrides(t *testing.T) {
	m := newManager(t)
	v := viper.New()
	v.Set("frame_rate", 0)
	v.Set("preview.enabled", true)

	cfg, err := m.Resolve(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FrameRate != 0 || !cfg.Preview.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}
	if m.Get().FrameRate != 60 {
		t.Fatal("Resolve modified the stored config")
	}
}

func TestResolveReadsEnvironment(t *testing.T) {
	m := newManager(t)
	t.Setenv("FOCUSMIRROR_FRAME_RATE", "120")
	t.Setenv("FOCUSMIRROR_SERVER_PORT", "7000")

	v := viper.New()
	BindEnv(v)
	cfg, err := m.Resolve(v)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FrameRate != 120 || cfg.Server.Port != 7000 {
		t.Fatalf("cfg = %+v", cfg)
	}

	t.Setenv("FOCUSMIRROR_FRAME_RATE", "10")
	if _, err := m.Resolve(v); !errors.Is(err, pump.ErrInvalidFrameRate) {
		t.Fatalf("invalid env rate: err = %v", err)
	}
}

func TestEffectsDescriptor(t *testing.T) {
	cfg := Defaults()
	cfg.Effects = "- effect: invert"
	if d, err := cfg.EffectsDescriptor(); err != nil || d != cfg.Effects {
		t.Fatalf("inline descriptor = %q, %v", d, err)
	}

	path := filepath.Join(t.TempDir(), "effects.yaml")
	if err := os.WriteFile(path, []byte("- effect: grayscale\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg.EffectsFile = path
	if d, err := cfg.EffectsDescriptor(); err != nil || d != "- effect: grayscale\n" {
		t.Fatalf("file descriptor = %q, %v", d, err)
	}

	cfg.EffectsFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := cfg.EffectsDescriptor(); err == nil {
		t.Fatal("missing effects file accepted")
	}
}

func TestKeysSorted(t *testing.T) {
	keys := Keys()
	if len(keys) != len(fields) {
		t.Fatalf("Keys = %v", keys)
	}
	for i := 1; i < len(keys); i++ {
		if keys[i-1] >= keys[i] {
			t.Fatalf("not sorted: %v", keys)
		}
	}
}
