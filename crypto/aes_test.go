package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("whist-test-key16")

func TestEncryptDecryptRoundTrip(t *testing.T) {
	sizes := []int{0, 1, 36, 1285, 64 * 1024}

	for _, size := range sizes {
		plaintext := bytes.Repeat([]byte{0xab}, size)

		meta, ciphertext, err := EncryptPacket(plaintext, testKey)
		require.NoError(t, err)
		assert.Equal(t, int32(size), meta.EncryptedLen)
		assert.Len(t, ciphertext, size)

		decrypted, err := DecryptPacket(meta, ciphertext, testKey)
		require.NoError(t, err)
		assert.True(t, bytes.Equal(plaintext, decrypted), "size %d", size)
	}
}

func TestEncryptPacketFreshIV(t *testing.T) {
	m1, _, err := EncryptPacket([]byte("frame"), testKey)
	require.NoError(t, err)
	m2, _, err := EncryptPacket([]byte("frame"), testKey)
	require.NoError(t, err)

	assert.NotEqual(t, m1.IV, m2.IV)
}

func TestDecryptPacketRejectsTampering(t *testing.T) {
	meta, ciphertext, err := EncryptPacket([]byte("authenticated payload"), testKey)
	require.NoError(t, err)

	t.Run("flipped ciphertext bit", func(t *testing.T) {
		bad := append([]byte(nil), ciphertext...)
		bad[0] ^= 1
		_, err := DecryptPacket(meta, bad, testKey)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("flipped tag bit", func(t *testing.T) {
		badMeta := meta
		badMeta.Tag[3] ^= 0x80
		_, err := DecryptPacket(badMeta, ciphertext, testKey)
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("wrong key", func(t *testing.T) {
		_, err := DecryptPacket(meta, ciphertext, []byte("another-key-16by"))
		assert.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("length mismatch", func(t *testing.T) {
		_, err := DecryptPacket(meta, ciphertext[:len(ciphertext)-1], testKey)
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})
}

func TestEncryptPacketInvalidKey(t *testing.T) {
	_, _, err := EncryptPacket([]byte("x"), []byte("short"))
	assert.ErrorIs(t, err, ErrInvalidKeySize)
}

func TestAESMetadataEncoding(t *testing.T) {
	meta, _, err := EncryptPacket([]byte("metadata"), testKey)
	require.NoError(t, err)

	buf := make([]byte, AESMetadataSize)
	require.NoError(t, meta.Encode(buf))

	decoded, err := DecodeAESMetadata(buf)
	require.NoError(t, err)
	assert.Equal(t, meta, decoded)

	_, err = DecodeAESMetadata(buf[:AESMetadataSize-1])
	assert.ErrorIs(t, err, ErrShortMetadata)
	assert.ErrorIs(t, meta.Encode(make([]byte, 10)), ErrShortMetadata)
}
