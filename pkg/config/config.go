package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for metakernel
type Config struct {
	Basedir  string         `mapstructure:"basedir"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Manifest ManifestConfig `mapstructure:"manifest"`
}

// ArchiveConfig points at the kernel archive
type ArchiveConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// HTTPConfig holds network deadlines
type HTTPConfig struct {
	ListTimeout     time.Duration `mapstructure:"list_timeout"`
	TransferTimeout time.Duration `mapstructure:"transfer_timeout"`
	HeaderTimeout   time.Duration `mapstructure:"header_timeout"`
}

// FetchConfig holds transfer settings
type FetchConfig struct {
	Workers      int   `mapstructure:"workers"`
	FallbackSize int64 `mapstructure:"fallback_size"`
}

// CatalogConfig names an optional catalog overlay
type CatalogConfig struct {
	File string `mapstructure:"file"`
}

// ManifestConfig shapes the generated manifest
type ManifestConfig struct {
	HeaderTemplate string   `mapstructure:"header_template"`
	Exclude        []string `mapstructure:"exclude"`
}

const (
	minWorkers = 1
	maxWorkers = 8
)

var defaultConfig = Config{
	Basedir: ".",
	Archive: ArchiveConfig{
		BaseURL: "https://naif.jpl.nasa.gov/pub/naif/",
	},
	HTTP: HTTPConfig{
		ListTimeout:     30 * time.Second,
		TransferTimeout: 30 * time.Minute,
		HeaderTimeout:   60 * time.Second,
	},
	Fetch: FetchConfig{
		Workers:      4,
		FallbackSize: 1 << 20,
	},
	Manifest: ManifestConfig{
		Exclude: []string{"**/*.lbl", "**/*.LBL", "**/*.xml"},
	},
}

// Default returns a copy of the built-in configuration
func Default() *Config {
	c := defaultConfig
	c.Manifest.Exclude = append([]string(nil), defaultConfig.Manifest.Exclude...)
	return &c
}

// LoadConfig loads configuration from defaults, the config file and
// METAKERNEL_* environment variables, in increasing precedence. An empty
// configFile searches for metakernel.yaml in the working directory and the
// metakernel home; a missing file there is not an error. An explicit
// configFile must exist.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("basedir", defaultConfig.Basedir)
	v.SetDefault("archive.base_url", defaultConfig.Archive.BaseURL)
	v.SetDefault("http.list_timeout", defaultConfig.HTTP.ListTimeout)
	v.SetDefault("http.transfer_timeout", defaultConfig.HTTP.TransferTimeout)
	v.SetDefault("http.header_timeout", defaultConfig.HTTP.HeaderTimeout)
	v.SetDefault("fetch.workers", defaultConfig.Fetch.Workers)
	v.SetDefault("fetch.fallback_size", defaultConfig.Fetch.FallbackSize)
	v.SetDefault("catalog.file", "")
	v.SetDefault("manifest.header_template", "")
	v.SetDefault("manifest.exclude", defaultConfig.Manifest.Exclude)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("metakernel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := GetHome(); err == nil {
			v.AddConfigPath(home)
		}
	}

	// Environment variables
	v.SetEnvPrefix("METAKERNEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.normalize()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) normalize() {
	if c.Fetch.Workers <= 0 {
		c.Fetch.Workers = defaultConfig.Fetch.Workers
	}
	c.Fetch.Workers = ClampWorkers(c.Fetch.Workers)
	if c.Fetch.FallbackSize <= 0 {
		c.Fetch.FallbackSize = defaultConfig.Fetch.FallbackSize
	}
	if c.Basedir == "" {
		c.Basedir = defaultConfig.Basedir
	}
}

// Validate rejects settings no run could succeed with
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.Archive.BaseURL, "http://") && !strings.HasPrefix(c.Archive.BaseURL, "https://") {
		return fmt.Errorf("archive.base_url must be an http(s) URL, got %q", c.Archive.BaseURL)
	}
	for key, d := range map[string]time.Duration{
		"http.list_timeout":     c.HTTP.ListTimeout,
		"http.transfer_timeout": c.HTTP.TransferTimeout,
		"http.header_timeout":   c.HTTP.HeaderTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", key, d)
		}
	}
	return nil
}

// ClampWorkers bounds a worker count to the supported range
func ClampWorkers(n int) int {
	if n < minWorkers {
		return minWorkers
	}
	if n > maxWorkers {
		return maxWorkers
	}
	return n
}

// GetHome returns the metakernel home directory
func GetHome() (string, error) {
	// Check environment variable first
	if home := os.Getenv("METAKERNEL_HOME"); home != "" {
		return home, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %v", err)
	}

	return filepath.Join(homeDir, ".metakernel"), nil
}
