package crypto

import "runtime"

// SecureWipe zeroes a buffer that held key material. It fails on nil so
// that callers notice when they wipe the wrong variable.
func SecureWipe(data []byte) error {
	if data == nil {
		return ErrNilBuffer
	}
	clear(data)
	// Keeps the store from being elided as dead.
	runtime.KeepAlive(data)
	return nil
}

// ZeroBytes is SecureWipe for deferred calls where nil is acceptable.
func ZeroBytes(data []byte) {
	if data != nil {
		_ = SecureWipe(data)
	}
}
