package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Embedding.APIKey = "sk-test"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1536, cfg.Store.Dimension)
	assert.Equal(t, "openai", cfg.Embedding.Provider)
	assert.Equal(t, "text-embedding-3-small", cfg.Embedding.Model)
	assert.Equal(t, 0.5, cfg.Search.VectorWeight)
	assert.Equal(t, 0.5, cfg.Search.TextWeight)
	assert.Equal(t, 5, cfg.Search.DefaultLimit)
	assert.Equal(t, "*/30 * * * *", cfg.Reconcile.Schedule)
	assert.True(t, cfg.Logging.Redaction)
}

func TestConfigValidate(t *testing.T) {
	t.Run("default with api key is valid", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("rejects non-positive dimension", func(t *testing.T) {
		cfg := validConfig()
		cfg.Store.Dimension = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("openai requires an api key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Embedding.APIKey = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("openai rejects a malformed api key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Embedding.APIKey = "not-an-openai-key"
		assert.Error(t, cfg.Validate())
	})

	t.Run("onnx requires a model path", func(t *testing.T) {
		cfg := validConfig()
		cfg.Embedding.Provider = "onnx"
		assert.Error(t, cfg.Validate())

		cfg.Embedding.ModelPath = "/models/all-MiniLM-L6-v2.onnx"
		assert.NoError(t, cfg.Validate())
	})

	t.Run("mock needs nothing extra", func(t *testing.T) {
		cfg := validConfig()
		cfg.Embedding.Provider = "mock"
		cfg.Embedding.APIKey = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("rejects unknown provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.Embedding.Provider = "cohere"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects zeroed search weights", func(t *testing.T) {
		cfg := validConfig()
		cfg.Search.VectorWeight = 0
		cfg.Search.TextWeight = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects a negative weight", func(t *testing.T) {
		cfg := validConfig()
		cfg.Search.VectorWeight = -0.1
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects a bad reconcile schedule", func(t *testing.T) {
		cfg := validConfig()
		cfg.Reconcile.Schedule = "every thursday"
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects an unknown log level", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Level = "verbose"
		assert.Error(t, cfg.Validate())
	})

	t.Run("empty log level is allowed", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Level = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("disabled reconcile skips the schedule", func(t *testing.T) {
		cfg := validConfig()
		cfg.Reconcile.Enabled = false
		cfg.Reconcile.Schedule = ""
		assert.NoError(t, cfg.Validate())
	})
}
