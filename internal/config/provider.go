package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-acme/lego/v4/platform/config/env"
	"github.com/joho/godotenv"
	"go.yaml.in/yaml/v3"
)

// Environment variables read by the hook.
const (
	EnvConfigPath         = "ACME_HOOK_CONFIG"
	EnvEnvFile            = "ACME_HOOK_ENV_FILE"
	EnvLogLevel           = "ACME_HOOK_LOG_LEVEL"
	EnvMetricsDir         = "ACME_HOOK_METRICS_DIR"
	EnvToken              = "LINODE_TOKEN"
	EnvTTL                = "LINODE_TTL"
	EnvPropagationTimeout = "LINODE_PROPAGATION_TIMEOUT"
	EnvPollingInterval    = "LINODE_POLLING_INTERVAL"
)

// DefaultPath is read when ACME_HOOK_CONFIG is unset. It may be absent.
const DefaultPath = "/etc/yk-acme-hook/config.yaml"

// Config holds the DNS provider type, provider-specific connection settings
// and the hook's own options.
type Config struct {
	Provider    string            `yaml:"provider"`
	Settings    map[string]string `yaml:"settings"`
	Propagation PropagationConfig `yaml:"propagation"`
	Zones       map[string]string `yaml:"zones"`
	Logging     LoggingConfig     `yaml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// PropagationConfig controls how long deploy_challenge waits for the TXT
// value to be served.
type PropagationConfig struct {
	Disabled    bool          `yaml:"disabled"`
	Nameservers []string      `yaml:"nameservers"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// MetricsConfig holds the node_exporter textfile collector directory;
// empty disables metrics.
type MetricsConfig struct {
	TextfileDir string `yaml:"textfile_dir"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Provider: "linode",
		Settings: map[string]string{},
		Propagation: PropagationConfig{
			Nameservers: []string{
				"ns1.linode.com:53",
				"ns2.linode.com:53",
				"ns3.linode.com:53",
				"ns4.linode.com:53",
				"ns5.linode.com:53",
			},
			Timeout:  20 * time.Minute,
			Interval: 15 * time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadEnvFile loads the dotenv file named by ACME_HOOK_ENV_FILE, if any.
// Variables already present in the environment are not overridden.
func LoadEnvFile() error {
	path := os.Getenv(EnvEnvFile)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// Load reads the configuration from the path in ACME_HOOK_CONFIG, falling
// back to DefaultPath, then applies environment overrides and validates the
// result. A missing file is only an error when the path was set explicitly.
func Load() (*Config, error) {
	path := os.Getenv(EnvConfigPath)
	explicit := path != ""
	if !explicit {
		path = DefaultPath
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		cfg = Default()
	}

	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromPath reads the configuration from the given file path. Unset
// fields keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if cfg.Provider == "" {
		cfg.Provider = "linode"
	}
	if cfg.Settings == nil {
		cfg.Settings = map[string]string{}
	}

	// Expand ${ENV_VAR} references in setting values.
	for k, v := range cfg.Settings {
		cfg.Settings[k] = os.ExpandEnv(v)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides file settings with environment variables.
func (c *Config) ApplyEnv() {
	if token := env.GetOrFile(EnvToken); token != "" {
		c.Settings["api_token"] = token
	}
	if ttl := env.GetOrDefaultInt(EnvTTL, 0); ttl > 0 {
		c.Settings["default_ttl"] = fmt.Sprint(ttl)
	}
	c.Propagation.Timeout = env.GetOrDefaultSecond(EnvPropagationTimeout, c.Propagation.Timeout)
	c.Propagation.Interval = env.GetOrDefaultSecond(EnvPollingInterval, c.Propagation.Interval)
	c.Logging.Level = env.GetOrDefaultString(EnvLogLevel, c.Logging.Level)
	c.Metrics.TextfileDir = env.GetOrDefaultString(EnvMetricsDir, c.Metrics.TextfileDir)
}

// Validate checks the fields that have no sensible fallback.
func (c *Config) Validate() error {
	if c.Propagation.Disabled {
		return nil
	}
	if len(c.Propagation.Nameservers) == 0 {
		return fmt.Errorf("config: propagation.nameservers must not be empty")
	}
	if c.Propagation.Interval <= 0 || c.Propagation.Timeout <= 0 {
		return fmt.Errorf("config: propagation interval and timeout must be positive")
	}
	if c.Propagation.Interval > c.Propagation.Timeout {
		return fmt.Errorf("config: propagation interval %s exceeds timeout %s", c.Propagation.Interval, c.Propagation.Timeout)
	}
	return nil
}

// ZoneMap returns the configured zone pins.
func (c *Config) ZoneMap() *ZoneMap {
	return NewZoneMap(c.Zones)
}
