package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/bryanchriswhite/FocusMirror/internal/logger"
	"github.com/bryanchriswhite/FocusMirror/internal/pump"
)

// EnvPrefix prefixes environment overrides, e.g. FOCUSMIRROR_FRAME_RATE.
const EnvPrefix = "FOCUSMIRROR"

// Config represents the application configuration
type Config struct {
	// FrameRate is the capture rate in frames per second; 0 means as fast
	// as the message loop allows.
	FrameRate uint32 `json:"frame_rate" yaml:"frame_rate"`
	NoDisturb bool   `json:"no_disturb" yaml:"no_disturb"`
	// Effects is an inline effect descriptor. EffectsFile wins when set.
	Effects     string `json:"effects" yaml:"effects"`
	EffectsFile string `json:"effects_file" yaml:"effects_file"`

	Backend   string `json:"backend" yaml:"backend"`
	LogLevel  string `json:"log_level" yaml:"log_level"`
	LogPretty bool   `json:"log_pretty" yaml:"log_pretty"`
	Notify    bool   `json:"notify" yaml:"notify"`

	Server  ServerConfig  `json:"server" yaml:"server"`
	Preview PreviewConfig `json:"preview" yaml:"preview"`
}

// ServerConfig configures the status API.
type ServerConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"`
}

// PreviewConfig configures the MJPEG preview stream.
type PreviewConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Quality int  `json:"quality" yaml:"quality"`
	MaxFPS  int  `json:"max_fps" yaml:"max_fps"`
}

// Defaults returns the default configuration.
func Defaults() *Config {
	return &Config{
		FrameRate: 60,
		Backend:   "auto",
		LogLevel:  "info",
		Notify:    true,
		Server: ServerConfig{
			Enabled: false,
			Port:    8080,
		},
		Preview: PreviewConfig{
			Enabled: false,
			Quality: 80,
			MaxFPS:  15,
		},
	}
}

var (
	backends  = map[string]bool{"": true, "auto": true, "sim": true, "x11": true, "win32": true}
	logLevels = map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
)

// Validate checks every field.
func (c *Config) Validate() error {
	if err := pump.ValidateRate(c.FrameRate); err != nil {
		return fmt.Errorf("frame_rate: %w", err)
	}
	if !backends[c.Backend] {
		return fmt.Errorf("backend: unknown backend %q (use auto, sim, x11 or win32)", c.Backend)
	}
	if !logLevels[c.LogLevel] {
		return fmt.Errorf("log_level: invalid level %q (use trace, debug, info, warn or error)", c.LogLevel)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Preview.Quality < 1 || c.Preview.Quality > 100 {
		return fmt.Errorf("preview.quality: %d out of range 1..100", c.Preview.Quality)
	}
	if c.Preview.MaxFPS < 0 {
		return fmt.Errorf("preview.max_fps: must not be negative")
	}
	return nil
}

// EffectsDescriptor returns the effect descriptor, reading EffectsFile when
// it is set.
func (c *Config) EffectsDescriptor() (string, error) {
	if c.EffectsFile == "" {
		return c.Effects, nil
	}
	data, err := os.ReadFile(c.EffectsFile)
	if err != nil {
		return "", fmt.Errorf("failed to read effects file: %w", err)
	}
	return string(data), nil
}

type field struct {
	get func(*Config) string
	set func(*Config, string) error
}

func stringField(p func(*Config) *string) field {
	return field{
		get: func(c *Config) string { return *p(c) },
		set: func(c *Config, v string) error { *p(c) = v; return nil },
	}
}

func boolField(p func(*Config) *bool) field {
	return field{
		get: func(c *Config) string { return strconv.FormatBool(*p(c)) },
		set: func(c *Config, v string) error {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid boolean: %s (use: true or false)", v)
			}
			*p(c) = b
			return nil
		},
	}
}

func intField(p func(*Config) *int) field {
	return field{
		get: func(c *Config) string { return strconv.Itoa(*p(c)) },
		set: func(c *Config, v string) error {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("invalid number: %s", v)
			}
			*p(c) = n
			return nil
		},
	}
}

var fields = map[string]field{
	"frame_rate": {
		get: func(c *Config) string { return strconv.FormatUint(uint64(c.FrameRate), 10) },
		set: func(c *Config, v string) error {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid frame rate: %s", v)
			}
			c.FrameRate = uint32(n)
			return nil
		},
	},
	"no_disturb":      boolField(func(c *Config) *bool { return &c.NoDisturb }),
	"effects":         stringField(func(c *Config) *string { return &c.Effects }),
	"effects_file":    stringField(func(c *Config) *string { return &c.EffectsFile }),
	"backend":         stringField(func(c *Config) *string { return &c.Backend }),
	"log_level":       stringField(func(c *Config) *string { return &c.LogLevel }),
	"log_pretty":      boolField(func(c *Config) *bool { return &c.LogPretty }),
	"notify":          boolField(func(c *Config) *bool { return &c.Notify }),
	"server.enabled":  boolField(func(c *Config) *bool { return &c.Server.Enabled }),
	"server.port":     intField(func(c *Config) *int { return &c.Server.Port }),
	"preview.enabled": boolField(func(c *Config) *bool { return &c.Preview.Enabled }),
	"preview.quality": intField(func(c *Config) *int { return &c.Preview.Quality }),
	"preview.max_fps": intField(func(c *Config) *int { return &c.Preview.MaxFPS }),
}

// Keys lists the settable keys in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// BindEnv makes v resolve every key from FOCUSMIRROR_* environment
// variables, with dots replaced by underscores.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Manager handles configuration
type Manager struct {
	configPath string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns $HOME/.config/focusmirror/config.yaml.
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "focusmirror", "config.yaml"), nil
}

// NewManager loads configFile (or the default path), writing defaults on
// first run.
func NewManager(configFile string) (*Manager, error) {
	path := configFile
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	m := &Manager{configPath: path}

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = Defaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Uint32("frame_rate", m.config.FrameRate).
		Str("backend", m.config.Backend).
		Msg("Config loaded")
	return m, nil
}

// load reads the configuration from disk. Keys missing from the file keep
// their defaults.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

// Get returns a copy of the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return Defaults()
	}
	cfg := *m.config
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	cfg := m.Get()

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		logger.WithComponent("config").Error().
			Err(err).
			Str("path", m.configPath).
			Msg("Failed to write config")
		return err
	}

	logger.WithComponent("config").Debug().
		Str("path", m.configPath).
		Msg("Config saved")
	return nil
}

// Update validates cfg, replaces the configuration and saves it.
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	c := *cfg
	m.mu.Lock()
	m.config = &c
	m.mu.Unlock()
	return m.Save()
}

// Set parses value into key, validates the result and saves it.
func (m *Manager) Set(key, value string) error {
	cfg := m.Get()
	if err := set(cfg, key, value); err != nil {
		return err
	}
	return m.Update(cfg)
}

// Value returns key's current value as text.
func (m *Manager) Value(key string) (string, error) {
	f, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("configuration key not found: %s", key)
	}
	return f.get(m.Get()), nil
}

// Resolve returns the file configuration with every key that v has set
// (flags bound with BindPFlag, FOCUSMIRROR_* variables, explicit Set)
// applied on top. The result is validated but not saved.
func (m *Manager) Resolve(v *viper.Viper) (*Config, error) {
	cfg := m.Get()
	for _, key := range Keys() {
		if !v.IsSet(key) {
			continue
		}
		if err := set(cfg, key, v.GetString(key)); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func set(cfg *Config, key, value string) error {
	f, ok := fields[key]
	if !ok {
		return fmt.Errorf("configuration key not found: %s", key)
	}
	return f.set(cfg, strings.TrimSpace(value))
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}
