package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models metricline.yml.
type Config struct {
	Workspace string `yaml:"workspace"`
	Server    struct {
		Listen    string `yaml:"listen"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"server"`
	Core struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"core"`
	Ingest struct {
		Retries   int    `yaml:"retries"`
		Backoff   string `yaml:"backoff"`
		LogWindow string `yaml:"log_window"`
	} `yaml:"ingest"`
	Cache struct {
		Size int `yaml:"size"`
	} `yaml:"cache"`
}

// LoadOptional returns the default config when the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.Workspace = workspace
			return cfg, nil
		}
		return nil, err
	}
	cfg, err := FromYAML(data)
	if err != nil {
		return nil, err
	}
	if cfg.Workspace == "" {
		cfg.Workspace = workspace
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("config.server.listen is required")
	}
	if c.Ingest.Retries < 0 {
		return fmt.Errorf("config.ingest.retries must not be negative")
	}
	for name, v := range map[string]string{
		"config.core.timeout":      c.Core.Timeout,
		"config.ingest.backoff":    c.Ingest.Backoff,
		"config.ingest.log_window": c.Ingest.LogWindow,
	} {
		if v == "" {
			continue
		}
		if _, err := time.ParseDuration(v); err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, v)
		}
	}
	if c.Cache.Size < 0 {
		return fmt.Errorf("config.cache.size must not be negative")
	}
	return nil
}

// CoreTimeout returns the parsed core request timeout, zero when unset.
func (c *Config) CoreTimeout() time.Duration { return duration(c.Core.Timeout) }

// IngestBackoff returns the parsed retry backoff, zero when unset.
func (c *Config) IngestBackoff() time.Duration { return duration(c.Ingest.Backoff) }

// IngestLogWindow returns the parsed fault-log window, zero when unset.
func (c *Config) IngestLogWindow() time.Duration { return duration(c.Ingest.LogWindow) }

func duration(v string) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "metricline.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

const defaultTemplate = `workspace: .

server:
  listen: ":8085"
  jwt_secret: ""

core:
  url: ""
  timeout: 2s

ingest:
  retries: 3
  backoff: 5s
  log_window: 5m

cache:
  size: 256
`
