package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

const (
	// KeySize is the size of the pre-shared private key and of derived session keys (AES-128).
	KeySize = 16

	// IVSize is the size of the GCM nonce carried in AESMetadata.
	IVSize = 16

	// TagSize is the size of the GCM authentication tag.
	TagSize = 16

	// AESMetadataSize is the encoded size of AESMetadata.
	AESMetadataSize = TagSize + IVSize + 4
)

// AESMetadata is the header that precedes every encrypted payload on the wire:
// tag[16], iv[16], int32 encrypted_len (little-endian).
type AESMetadata struct {
	Tag          [TagSize]byte
	IV           [IVSize]byte
	EncryptedLen int32
}

// Encode writes the metadata into b, which must hold at least AESMetadataSize bytes.
func (m *AESMetadata) Encode(b []byte) error {
	if len(b) < AESMetadataSize {
		return fmt.Errorf("%w: have %d bytes", ErrShortMetadata, len(b))
	}
	copy(b[0:TagSize], m.Tag[:])
	copy(b[TagSize:TagSize+IVSize], m.IV[:])
	binary.LittleEndian.PutUint32(b[TagSize+IVSize:AESMetadataSize], uint32(m.EncryptedLen))
	return nil
}

// DecodeAESMetadata parses AESMetadata from the start of b.
func DecodeAESMetadata(b []byte) (AESMetadata, error) {
	var m AESMetadata
	if len(b) < AESMetadataSize {
		return m, fmt.Errorf("%w: have %d bytes", ErrShortMetadata, len(b))
	}
	copy(m.Tag[:], b[0:TagSize])
	copy(m.IV[:], b[TagSize:TagSize+IVSize])
	m.EncryptedLen = int32(binary.LittleEndian.Uint32(b[TagSize+IVSize : AESMetadataSize]))
	return m, nil
}

// GenerateIV returns a fresh random IV.
func GenerateIV() ([IVSize]byte, error) {
	var iv [IVSize]byte
	if _, err := rand.Read(iv[:]); err != nil {
		return iv, fmt.Errorf("failed to generate iv: %w", err)
	}
	return iv, nil
}

// newGCM builds an AES-GCM AEAD with a 16-byte nonce.
func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrInvalidKeySize, len(key), KeySize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCMWithNonceSize(block, IVSize)
}

// lengthAAD binds the encrypted length into the GCM tag.
func lengthAAD(n int) []byte {
	var aad [4]byte
	binary.LittleEndian.PutUint32(aad[:], uint32(n))
	return aad[:]
}

// EncryptPacket encrypts plaintext with AES-GCM under key using a fresh IV.
//
// Parameters:
//   - plaintext: The serialized packet to protect
//   - key: The KeySize-byte private or session key
//
// Returns:
//   - AESMetadata: Tag, IV and ciphertext length to send ahead of the ciphertext
//   - []byte: The ciphertext, the same length as plaintext
//   - error: ErrInvalidKeySize or an IV generation failure
func EncryptPacket(plaintext, key []byte) (AESMetadata, []byte, error) {
	var meta AESMetadata

	aead, err := newGCM(key)
	if err != nil {
		return meta, nil, err
	}

	meta.IV, err = GenerateIV()
	if err != nil {
		return meta, nil, err
	}

	sealed := aead.Seal(nil, meta.IV[:], plaintext, lengthAAD(len(plaintext)))
	ciphertext := sealed[:len(sealed)-TagSize]
	copy(meta.Tag[:], sealed[len(sealed)-TagSize:])
	meta.EncryptedLen = int32(len(ciphertext))

	return meta, ciphertext, nil
}

// DecryptPacket verifies and decrypts a ciphertext produced by EncryptPacket.
// A failed tag check returns ErrDecryptionFailed and no plaintext.
func DecryptPacket(meta AESMetadata, ciphertext, key []byte) ([]byte, error) {
	if int(meta.EncryptedLen) != len(ciphertext) {
		return nil, fmt.Errorf("%w: metadata says %d, got %d", ErrLengthMismatch, meta.EncryptedLen, len(ciphertext))
	}

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(ciphertext)+TagSize)
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, meta.Tag[:]...)

	plaintext, err := aead.Open(nil, meta.IV[:], sealed, lengthAAD(len(ciphertext)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
