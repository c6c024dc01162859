package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"

	"stratline/internal/domain"
	"stratline/internal/graph"
	"stratline/internal/logging"
	"stratline/internal/wire"
)

const FileName = "stratline.yml"

// Config models stratline.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Layout   graph.Layout `yaml:"layout"`
	Strategy struct {
		Schedules            []string             `yaml:"schedules"`
		DefaultSchedule      string               `yaml:"default_schedule"`
		DefaultStatus        string               `yaml:"default_status"`
		DefaultAsset         string               `yaml:"default_asset"`
		DefaultConditionType domain.ConditionType `yaml:"default_condition_type"`
	} `yaml:"strategy"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with sl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Layout.RowHeight <= 0 {
		return fmt.Errorf("config.layout.row_height must be positive")
	}
	if c.Layout.ColumnWidth <= 0 {
		return fmt.Errorf("config.layout.column_width must be positive")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("config.log.level: %w", err)
	}
	if len(c.Strategy.Schedules) == 0 {
		return fmt.Errorf("config.strategy.schedules is required")
	}
	for _, s := range c.Strategy.Schedules {
		if s == "" {
			return fmt.Errorf("config.strategy.schedules contains an empty entry")
		}
	}
	if !slices.Contains(c.Strategy.Schedules, c.Strategy.DefaultSchedule) {
		return fmt.Errorf("config.strategy.default_schedule %q is not in schedules", c.Strategy.DefaultSchedule)
	}
	switch c.Strategy.DefaultStatus {
	case domain.StatusActive, domain.StatusPaused:
	default:
		return fmt.Errorf("config.strategy.default_status must be active or paused")
	}
	if c.Strategy.DefaultAsset == "" {
		return fmt.Errorf("config.strategy.default_asset is required")
	}
	if !c.Strategy.DefaultConditionType.Known() {
		return fmt.Errorf("config.strategy.default_condition_type %q is not a supported condition type", c.Strategy.DefaultConditionType)
	}
	return nil
}

// WireOptions returns the validation options implied by the config.
func (c *Config) WireOptions() wire.Options {
	return wire.Options{Schedules: slices.Clone(c.Strategy.Schedules)}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes. Keys missing from data keep
// their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

log:
  level: info

layout:
  row_height: 180
  column_width: 320

strategy:
  schedules: [1m, 5m, 1h, 24h]
  default_schedule: 1m
  default_status: paused
  default_asset: BTC
  default_condition_type: technical_indicator
`
