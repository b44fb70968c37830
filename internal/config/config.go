package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML unmarshalling for human-readable strings.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Defaults for block fields left empty, matching the upstream block
// conventions bars expect.
const (
	DriverSystemd = "systemd"

	DefaultActiveFormat   = " $service active "
	DefaultInactiveFormat = " $service inactive "
	DefaultActiveState    = "idle"
	DefaultInactiveState  = "critical"
)

// validStates are the classifications the presentation layer understands.
var validStates = map[string]bool{
	"idle":     true,
	"info":     true,
	"good":     true,
	"warning":  true,
	"critical": true,
}

// Block configures one monitored service.
type Block struct {
	Service        string `yaml:"service"`
	Driver         string `yaml:"driver"`
	ActiveFormat   string `yaml:"active_format"`
	InactiveFormat string `yaml:"inactive_format"`
	ActiveState    string `yaml:"active_state"`
	InactiveState  string `yaml:"inactive_state"`
	Notify         bool   `yaml:"notify"`
}

// Normalize fills defaults and validates the block.
func (b *Block) Normalize() error {
	if b.Service == "" {
		return errors.New("block is missing a service name")
	}
	if b.Driver == "" {
		b.Driver = DriverSystemd
	}
	if b.Driver != DriverSystemd {
		return fmt.Errorf("service %s: unknown driver %q", b.Service, b.Driver)
	}
	if b.ActiveFormat == "" {
		b.ActiveFormat = DefaultActiveFormat
	}
	if b.InactiveFormat == "" {
		b.InactiveFormat = DefaultInactiveFormat
	}
	if b.ActiveState == "" {
		b.ActiveState = DefaultActiveState
	}
	if b.InactiveState == "" {
		b.InactiveState = DefaultInactiveState
	}
	if !validStates[b.ActiveState] {
		return fmt.Errorf("service %s: invalid active_state %q", b.Service, b.ActiveState)
	}
	if !validStates[b.InactiveState] {
		return fmt.Errorf("service %s: invalid inactive_state %q", b.Service, b.InactiveState)
	}
	return nil
}

// Config is the top-level configuration file structure.
type Config struct {
	Listen          string   `yaml:"listen"`
	LogLevel        string   `yaml:"log_level"`
	LogFormat       string   `yaml:"log_format"`
	Output          string   `yaml:"output"`
	BusAddress      string   `yaml:"bus_address"`
	Notifications   *bool    `yaml:"notifications"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
	Blocks          []Block  `yaml:"blocks"`
}

// Normalize validates and fills defaults for all blocks.
func (c *Config) Normalize() error {
	for i := range c.Blocks {
		if err := c.Blocks[i].Normalize(); err != nil {
			return err
		}
	}
	return nil
}

// DefaultPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "unitbar", "config.yaml")
}

// Load reads and parses a YAML config file. If the file does not exist,
// it returns an empty Config and a nil error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return &cfg, nil
}
