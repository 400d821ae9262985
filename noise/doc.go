// Package noise upgrades an authenticated Whist connection to a per-session key.
//
// Whist peers share a long-lived 16-byte private key. Encrypting every
// connection with that key directly means a single key protects all traffic
// ever sent. SessionUpgrade runs the Noise NNpsk0 pattern from the
// flynn/noise library (Curve25519, AES-GCM, SHA256) with a pre-shared key
// derived from the private key, then derives a fresh AES key from the
// handshake hash.
//
// Message flow (1 round trip):
//
//	Initiator                     Responder
//	    |-------- psk, e ------------>|
//	    |<------- e, ee --------------|
//
// Typical use over an established connection:
//
//	key, err := noise.Upgrade(conn, privateKey, noise.Initiator)
//	if err != nil {
//	    conn.Close()
//	}
//
// A peer holding a different private key cannot decrypt the first message,
// so the upgrade fails closed.
package noise
