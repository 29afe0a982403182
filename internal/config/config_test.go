package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigLoad(t *testing.T) {
	t.Run("loads with defaults", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "postgres://localhost/replica_test")
		t.Setenv("REDIS_URL", "redis://localhost:6379")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, 8080, cfg.Port)
		assert.Equal(t, ":8080", cfg.Addr())
		assert.Equal(t, 500, cfg.DefaultPageSize)
		assert.Equal(t, 60, cfg.DefaultRateLimitPerMin)
		assert.Equal(t, 30, cfg.ChannelTimeoutSeconds)
	})

	t.Run("fails without DATABASE_URL", func(t *testing.T) {
		t.Setenv("DATABASE_URL", "")
		t.Setenv("REDIS_URL", "redis://localhost:6379")

		_, err := Load()
		assert.Error(t, err)
	})
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		DefaultPageSize:        500,
		DefaultRateLimitPerMin: 60,
		ChannelTimeoutSeconds:  30,
	}

	t.Run("accepts sane values", func(t *testing.T) {
		assert.NoError(t, valid.Validate())
	})

	t.Run("rejects non-positive page size", func(t *testing.T) {
		cfg := valid
		cfg.DefaultPageSize = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects non-positive channel timeout", func(t *testing.T) {
		cfg := valid
		cfg.ChannelTimeoutSeconds = -1
		assert.Error(t, cfg.Validate())
	})
}

func TestPairingCodeAlphabet(t *testing.T) {
	t.Run("excludes ambiguous characters", func(t *testing.T) {
		for _, c := range "0O1IL" {
			assert.NotContains(t, PairingCodeAlphabet, string(c))
		}
	})

	t.Run("has 31 characters", func(t *testing.T) {
		assert.Len(t, PairingCodeAlphabet, 31)
	})
}
