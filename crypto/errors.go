package crypto

import "errors"

// Key and metadata errors.
var (
	// ErrInvalidKeySize indicates a key that is not KeySize bytes long.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrShortMetadata indicates a buffer too small to hold AESMetadata.
	ErrShortMetadata = errors.New("buffer too short for aes metadata")

	// ErrNilBuffer indicates SecureWipe was handed a nil slice.
	ErrNilBuffer = errors.New("cannot wipe nil buffer")
)

// Decryption errors.
var (
	// ErrLengthMismatch indicates the ciphertext length disagrees with the metadata.
	ErrLengthMismatch = errors.New("ciphertext length does not match metadata")

	// ErrDecryptionFailed indicates the GCM tag did not verify.
	ErrDecryptionFailed = errors.New("decryption failed")
)
