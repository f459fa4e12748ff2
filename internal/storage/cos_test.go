package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmti/pkg/config"
	apperrors "github.com/vmti/pkg/errors"
)

func TestNewCOSStorage_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *COSConfig
		wantErr string
	}{
		{
			name:    "MissingBucket",
			cfg:     &COSConfig{Region: "ap-guangzhou", SecretID: "id", SecretKey: "key"},
			wantErr: "bucket and region are required",
		},
		{
			name:    "MissingRegion",
			cfg:     &COSConfig{Bucket: "snapshots-1250000000", SecretID: "id", SecretKey: "key"},
			wantErr: "bucket and region are required",
		},
		{
			name:    "MissingCredentials",
			cfg:     &COSConfig{Bucket: "snapshots-1250000000", Region: "ap-guangzhou"},
			wantErr: "credentials are required",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewCOSStorage(tt.cfg)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCOSStorage_GetURL(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		s, err := NewCOSStorage(&COSConfig{
			Bucket:    "snapshots-1250000000",
			Region:    "ap-guangzhou",
			SecretID:  "id",
			SecretKey: "key",
		})
		require.NoError(t, err)
		assert.Equal(t,
			"https://snapshots-1250000000.cos.ap-guangzhou.myqcloud.com/heap/a.json",
			s.GetURL("heap/a.json"))
	})

	t.Run("CustomDomainAndScheme", func(t *testing.T) {
		s, err := NewCOSStorage(&COSConfig{
			Bucket:    "snap",
			Region:    "local",
			SecretID:  "id",
			SecretKey: "key",
			Domain:    "example.internal",
			Scheme:    "http",
		})
		require.NoError(t, err)
		assert.Equal(t, "http://snap.cos.local.example.internal/a.json", s.GetURL("a.json"))
	})
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.StorageConfig
		wantErr string
	}{
		{name: "Nil", cfg: nil, wantErr: "storage config is nil"},
		{name: "LocalOK", cfg: &config.StorageConfig{Type: "local", LocalPath: "/tmp/x"}},
		{name: "EmptyTypeIsLocal", cfg: &config.StorageConfig{LocalPath: "/tmp/x"}},
		{name: "LocalMissingPath", cfg: &config.StorageConfig{Type: "local"}, wantErr: "local storage path is required"},
		{name: "COSMissingBucket", cfg: &config.StorageConfig{Type: "cos", Region: "r", SecretID: "i", SecretKey: "k"}, wantErr: "COS bucket is required"},
		{name: "COSMissingRegion", cfg: &config.StorageConfig{Type: "cos", Bucket: "b", SecretID: "i", SecretKey: "k"}, wantErr: "COS region is required"},
		{name: "COSMissingCredentials", cfg: &config.StorageConfig{Type: "cos", Bucket: "b", Region: "r"}, wantErr: "COS credentials are required"},
		{name: "COSOK", cfg: &config.StorageConfig{Type: "cos", Bucket: "b", Region: "r", SecretID: "i", SecretKey: "k"}},
		{name: "Unsupported", cfg: &config.StorageConfig{Type: "s3"}, wantErr: "unsupported storage type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
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

func TestNewStorage(t *testing.T) {
	t.Run("Local", func(t *testing.T) {
		s, err := NewStorage(&config.StorageConfig{Type: "local", LocalPath: t.TempDir()})
		require.NoError(t, err)
		assert.IsType(t, &LocalStorage{}, s)
	})

	t.Run("COS", func(t *testing.T) {
		s, err := NewStorage(&config.StorageConfig{
			Type: "cos", Bucket: "b", Region: "r", SecretID: "i", SecretKey: "k",
		})
		require.NoError(t, err)
		assert.IsType(t, &COSStorage{}, s)
	})

	t.Run("Invalid", func(t *testing.T) {
		s, err := NewStorage(&config.StorageConfig{Type: "ftp"})
		assert.Error(t, err)
		assert.Nil(t, s)
	})
}
