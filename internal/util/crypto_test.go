package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateToken(t *testing.T) {
	t.Run("generates 64 hex characters", func(t *testing.T) {
		token, err := GenerateToken()
		require.NoError(t, err)
		assert.Len(t, token, 64)
	})

	t.Run("generates unique tokens", func(t *testing.T) {
		a, err := GenerateToken()
		require.NoError(t, err)
		b, err := GenerateToken()
		require.NoError(t, err)
		assert.NotEqual(t, a, b)
	})
}

func TestHashToken(t *testing.T) {
	t.Run("is deterministic", func(t *testing.T) {
		assert.Equal(t, HashToken("secret"), HashToken("secret"))
	})

	t.Run("differs per input", func(t *testing.T) {
		assert.NotEqual(t, HashToken("secret"), HashToken("secret2"))
	})
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("abc", "abc"))
	assert.False(t, ConstantTimeEqual("abc", "abd"))
	assert.False(t, ConstantTimeEqual("abc", "abcd"))
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	assert.True(t, CheckPasswordHash("hunter2", hash))
	assert.False(t, CheckPasswordHash("hunter3", hash))
}

func TestMaskCode(t *testing.T) {
	assert.Equal(t, "ABCD****", MaskCode("ABCDEFGH"))
	assert.Equal(t, "****", MaskCode("AB"))
}
