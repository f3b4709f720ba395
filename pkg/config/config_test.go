package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	t.Run("Should apply defaults for missing keys", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))
		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Retrieval.TopK)
		assert.Equal(t, 20, cfg.Retrieval.MaxTopK)
		assert.Equal(t, 45*time.Second, cfg.Pipeline.TurnTimeout)
		assert.Equal(t, 2*time.Minute, cfg.Cache.ResponseTTL)
		assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 0.3, cfg.Retrieval.SufficiencyThreshold)
		assert.Equal(t, 500, cfg.Knowledge.ChunkSize)
		assert.Empty(t, cfg.Knowledge.SeedPath)
	})

	t.Run("Should read yaml and environment overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		yaml := "retrieval:\n  topK: 3\ncache:\n  resultTTL: 30s\nowner:\n  email: me@example.com\n"
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
		t.Setenv("RESUMEMATE_PIPELINE_MAXCONCURRENT", "2")

		cfg, err := LoadFile(path)
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.Retrieval.TopK)
		assert.Equal(t, 30*time.Second, cfg.Cache.ResultTTL)
		assert.Equal(t, "me@example.com", cfg.Owner.Email)
		assert.Equal(t, 2, cfg.Pipeline.MaxConcurrent)
	})

	t.Run("Should reject non-positive capacities", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cache:\n  resultCapacity: 0\n"), 0o600))
		_, err := LoadFile(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cache.resultCapacity")
	})
}
