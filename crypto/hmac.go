package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
)

// HMACSize is the size of a truncated HMAC-SHA256 signature.
const HMACSize = 16

// HMAC computes HMAC-SHA256 of data keyed by key, truncated to HMACSize bytes.
func HMAC(data, key []byte) [HMACSize]byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)

	var out [HMACSize]byte
	copy(out[:], mac.Sum(nil))
	return out
}

// VerifyHMAC reports whether signature is the truncated HMAC of data under key.
// The comparison runs in constant time.
func VerifyHMAC(data, signature, key []byte) bool {
	if len(signature) != HMACSize {
		return false
	}
	expected := HMAC(data, key)
	return subtle.ConstantTimeCompare(expected[:], signature) == 1
}
