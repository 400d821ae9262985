// Package crypto implements the cryptographic building blocks of the Whist
// transport: AES-GCM packet protection, the truncated HMAC used by the
// private-key handshake, HKDF key derivation and secure memory wiping.
//
// # Packet Encryption
//
// Every packet on the wire is preceded by an AESMetadata header carrying the
// GCM tag, the 16-byte IV and the ciphertext length:
//
//	meta, ciphertext, err := crypto.EncryptPacket(plaintext, key)
//	...
//	plaintext, err := crypto.DecryptPacket(meta, ciphertext, key)
//	if errors.Is(err, crypto.ErrDecryptionFailed) {
//	    // drop the packet
//	}
//
// The ciphertext length is bound into the tag as additional data so a peer
// cannot truncate a frame without detection.
//
// # Signatures
//
// HMAC returns HMAC-SHA256 truncated to HMACSize (16) bytes. VerifyHMAC
// compares in constant time.
//
// # Key Derivation
//
// DeriveKey wraps golang.org/x/crypto/hkdf and is used to derive per-session
// AES keys and the Noise pre-shared key from the 16-byte private key.
//
// # Logging
//
// LoggerHelper attaches "package" and "function" fields to every line of
// an operation; the noise upgrade and the transport handshake log through
// it. SecureFieldHash previews key-adjacent values without exposing them.
package crypto
