package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureWipe(t *testing.T) {
	key := []byte("0123456789abcdef")

	require.NoError(t, SecureWipe(key))
	assert.Equal(t, make([]byte, KeySize), key)

	assert.ErrorIs(t, SecureWipe(nil), ErrNilBuffer)
}

func TestZeroBytes(t *testing.T) {
	psk, err := DeriveKey([]byte("secret"), nil, "test", 32)
	require.NoError(t, err)

	ZeroBytes(psk)
	assert.Equal(t, make([]byte, 32), psk)

	assert.NotPanics(t, func() { ZeroBytes(nil) })
}
