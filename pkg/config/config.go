// Package config provides configuration management for the vmti agent and CLI.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	apperrors "github.com/vmti/pkg/errors"
)

// Config holds all configuration for the application.
type Config struct {
	Agent    AgentConfig    `mapstructure:"agent"`
	Heap     HeapConfig     `mapstructure:"heap"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
}

// AgentConfig holds the observer's settings.
type AgentConfig struct {
	Name         string   `mapstructure:"name"`
	Capabilities []string `mapstructure:"capabilities"` // requested at attach
	Prohibited   []string `mapstructure:"prohibited"`   // never grantable
	TagBuckets   int      `mapstructure:"tag_buckets"`  // power of two
}

// HeapConfig holds heap traversal settings.
type HeapConfig struct {
	ClassFilter string   `mapstructure:"class_filter"` // class name, empty for all
	HeapFilter  []string `mapstructure:"heap_filter"`  // tagged, untagged, class_tagged, class_untagged
	MaxEdges    int      `mapstructure:"max_edges"`    // 0 for unlimited
	Format      string   `mapstructure:"format"`       // json or gzip
}

// StorageConfig holds snapshot export configuration.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`     // e.g., "myqcloud.com"
	Scheme    string `mapstructure:"scheme"`     // e.g., "https" or "http"
	LocalPath string `mapstructure:"local_path"` // for local storage
	Prefix    string `mapstructure:"prefix"`     // key prefix for snapshots
}

// DatabaseConfig holds snapshot persistence configuration.
type DatabaseConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Type     string `mapstructure:"type"` // sqlite, postgres or mysql
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"` // file path for sqlite
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"` // empty for stderr
}

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("vmti")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vmti")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// no file, defaults only
		} else if os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// VMTI_HEAP_MAX_EDGES overrides heap.max_edges
	v.SetEnvPrefix("vmti")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from an io.Reader (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg, err := LoadFromReader("yaml", nil)
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.name", "vmti")
	v.SetDefault("agent.capabilities", []string{"can_tag_objects"})
	v.SetDefault("agent.tag_buckets", 4096)

	v.SetDefault("heap.max_edges", 0)
	v.SetDefault("heap.format", "json")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./snapshots")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.database", "vmti.db")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("log.level", "info")
}

var heapFilters = map[string]bool{
	"tagged":         true,
	"untagged":       true,
	"class_tagged":   true,
	"class_untagged": true,
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if n := c.Agent.TagBuckets; n <= 0 || n&(n-1) != 0 {
		return apperrors.Newf(apperrors.CodeConfigError, "agent.tag_buckets must be a positive power of two, got %d", n)
	}
	if c.Heap.MaxEdges < 0 {
		return apperrors.Newf(apperrors.CodeConfigError, "heap.max_edges must not be negative")
	}
	for _, f := range c.Heap.HeapFilter {
		if !heapFilters[f] {
			return apperrors.Newf(apperrors.CodeConfigError, "unknown heap filter: %s", f)
		}
	}
	if c.Heap.Format != "json" && c.Heap.Format != "gzip" {
		return apperrors.Newf(apperrors.CodeConfigError, "unsupported snapshot format: %s", c.Heap.Format)
	}

	// Storage config validation is delegated to storage package

	if c.Database.Enabled {
		switch c.Database.Type {
		case "sqlite":
		case "postgres", "mysql":
			if c.Database.Host == "" {
				return apperrors.New(apperrors.CodeConfigError, "database host is required")
			}
		default:
			return apperrors.Newf(apperrors.CodeConfigError, "unsupported database type: %s", c.Database.Type)
		}
	}

	return nil
}

// SnapshotKey returns the storage key for a snapshot file.
func (c *Config) SnapshotKey(name string) string {
	ext := ".json"
	if c.Heap.Format == "gzip" {
		ext = ".json.gz"
	}
	if c.Storage.Prefix == "" {
		return name + ext
	}
	return strings.TrimSuffix(c.Storage.Prefix, "/") + "/" + name + ext
}
