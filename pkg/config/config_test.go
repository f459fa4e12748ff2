package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/vmti/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "vmti.yaml")
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	return configFile
}

func TestLoad_DefaultValues(t *testing.T) {
	configFile := writeConfig(t, `
storage:
  type: local
`)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, "vmti", cfg.Agent.Name)
	assert.Equal(t, []string{"can_tag_objects"}, cfg.Agent.Capabilities)
	assert.Equal(t, 4096, cfg.Agent.TagBuckets)
	assert.Equal(t, 0, cfg.Heap.MaxEdges)
	assert.Equal(t, "json", cfg.Heap.Format)
	assert.Equal(t, "./snapshots", cfg.Storage.LocalPath)
	assert.False(t, cfg.Database.Enabled)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_CustomValues(t *testing.T) {
	configFile := writeConfig(t, `
agent:
  name: probe
  capabilities: [can_tag_objects, can_suspend]
  prohibited: [can_pop_frame]
  tag_buckets: 256
heap:
  class_filter: app/Node
  heap_filter: [untagged, class_untagged]
  max_edges: 1000
  format: gzip
database:
  enabled: true
  type: postgres
  host: db.example.com
  port: 5432
  database: vmti
  user: admin
  password: secret
storage:
  type: local
  local_path: /tmp/snapshots
  prefix: dumps/
`)

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, "probe", cfg.Agent.Name)
	assert.Equal(t, []string{"can_tag_objects", "can_suspend"}, cfg.Agent.Capabilities)
	assert.Equal(t, []string{"can_pop_frame"}, cfg.Agent.Prohibited)
	assert.Equal(t, 256, cfg.Agent.TagBuckets)
	assert.Equal(t, "app/Node", cfg.Heap.ClassFilter)
	assert.Equal(t, []string{"untagged", "class_untagged"}, cfg.Heap.HeapFilter)
	assert.Equal(t, 1000, cfg.Heap.MaxEdges)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "/tmp/snapshots", cfg.Storage.LocalPath)
	assert.Equal(t, "dumps/heap.json.gz", cfg.SnapshotKey("heap"))
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	configFile := writeConfig(t, `
heap:
  max_edges: 10
`)
	t.Setenv("VMTI_HEAP_MAX_EDGES", "25")

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Heap.MaxEdges)
}

func TestLoad_InvalidDatabaseType(t *testing.T) {
	configFile := writeConfig(t, `
database:
  enabled: true
  type: oracle
  host: localhost
`)

	_, err := Load(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

// Note: Storage validation tests live in internal/storage

func TestLoad_COSWithCredentials(t *testing.T) {
	configFile := writeConfig(t, `
storage:
  type: cos
  bucket: test-bucket
  region: ap-guangzhou
  secret_id: test-id
  secret_key: test-key
`)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.Equal(t, "cos", cfg.Storage.Type)
	assert.Equal(t, "test-bucket", cfg.Storage.Bucket)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Agent: AgentConfig{TagBuckets: 64},
			Heap:  HeapConfig{Format: "json"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"sqlite needs no host", func(c *Config) {
			c.Database = DatabaseConfig{Enabled: true, Type: "sqlite"}
		}, ""},
		{"disabled database is not checked", func(c *Config) {
			c.Database = DatabaseConfig{Type: "oracle"}
		}, ""},
		{"tag buckets not a power of two", func(c *Config) {
			c.Agent.TagBuckets = 100
		}, "power of two"},
		{"zero tag buckets", func(c *Config) {
			c.Agent.TagBuckets = 0
		}, "power of two"},
		{"negative max edges", func(c *Config) {
			c.Heap.MaxEdges = -1
		}, "max_edges"},
		{"unknown heap filter", func(c *Config) {
			c.Heap.HeapFilter = []string{"tagged", "reachable"}
		}, "unknown heap filter: reachable"},
		{"unknown format", func(c *Config) {
			c.Heap.Format = "hprof"
		}, "unsupported snapshot format"},
		{"postgres without host", func(c *Config) {
			c.Database = DatabaseConfig{Enabled: true, Type: "postgres"}
		}, "database host is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, apperrors.CodeConfigError, apperrors.GetErrorCode(err))
		})
	}
}

func TestSnapshotKey(t *testing.T) {
	cfg := &Config{Heap: HeapConfig{Format: "json"}}
	assert.Equal(t, "heap.json", cfg.SnapshotKey("heap"))

	cfg.Storage.Prefix = "prod"
	assert.Equal(t, "prod/heap.json", cfg.SnapshotKey("heap"))
}

func TestLoad_FileNotFound(t *testing.T) {
	cfg, err := Load("/nonexistent/path/vmti.yaml")
	// Should not return error, use defaults
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "local", cfg.Storage.Type)
}

func TestLoadFromReader(t *testing.T) {
	content := []byte(`
database:
  enabled: true
  type: mysql
  host: mysql.local
`)
	cfg, err := LoadFromReader("yaml", content)
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Database.Type)
	assert.Equal(t, "mysql.local", cfg.Database.Host)
}
