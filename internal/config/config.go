package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models floorline.yml.
type Config struct {
	Shop struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"shop"`
	Completion struct {
		// MaxRetries bounds the internal retry loop when a concurrent
		// submission wins the race on an item's counters.
		MaxRetries int `yaml:"max_retries"`
		// Overage decides what happens to reported quantity beyond the
		// remaining assigned total: "discard" drops it silently, "flag"
		// drops it but records the discarded amount on the ledger delta.
		Overage string `yaml:"overage"`
	} `yaml:"completion"`
	Auth struct {
		AllowLegacyActorHeader bool `yaml:"allow_legacy_actor_header"`
	} `yaml:"auth"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret,omitempty"`
	Kinds          []string `yaml:"kinds,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

const (
	OverageDiscard = "discard"
	OverageFlag    = "flag"
)

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run fl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(filepath.Base(abs(workspace))), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

func abs(p string) string {
	if a, err := filepath.Abs(p); err == nil {
		return a
	}
	return p
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Shop.ID == "" {
		return fmt.Errorf("config.shop.id is required")
	}
	if c.Completion.MaxRetries < 0 {
		return fmt.Errorf("config.completion.max_retries must be >= 0")
	}
	switch c.Completion.Overage {
	case OverageDiscard, OverageFlag:
	default:
		return fmt.Errorf("config.completion.overage must be %q or %q", OverageDiscard, OverageFlag)
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		for _, kind := range hook.Kinds {
			if kind == "" {
				return fmt.Errorf("webhook %d has empty kind filter", i)
			}
		}
	}
	return nil
}

// MaxRetries returns the configured retry bound with the default applied.
func (c *Config) MaxRetries() int {
	if c == nil || c.Completion.MaxRetries == 0 {
		return 3
	}
	return c.Completion.MaxRetries
}

// FlagOverage reports whether discarded overage should be recorded on deltas.
func (c *Config) FlagOverage() bool {
	return c != nil && c.Completion.Overage == OverageFlag
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "floorline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(shopID string) string {
	return fmt.Sprintf(defaultTemplate, shopID)
}

// Default returns the default Config struct for a shop.
func Default(shopID string) *Config {
	var cfg Config
	cfg.Shop.ID = shopID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, shopID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `shop:
  id: %s
  name: ""

completion:
  max_retries: 3
  overage: flag

auth:
  allow_legacy_actor_header: false
`
