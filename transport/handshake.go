package transport

import (
	"crypto/subtle"
	"fmt"
	"io"
	"time"

	"github.com/opd-ai/whistcore/crypto"
	"github.com/sirupsen/logrus"
)

// PrivateKeyDataSize is the encoded size of PrivateKeyData.
const PrivateKeyDataSize = crypto.IVSize + 32

// PrivateKeyData is the record exchanged by the private key handshake.
// The requester fills IV and leaves Signature zeroed; the signer puts the
// truncated HMAC of iv||private_key in the first crypto.HMACSize bytes.
type PrivateKeyData struct {
	IV        [crypto.IVSize]byte
	Signature [32]byte
}

// Encode serializes the record as iv followed by signature.
func (d *PrivateKeyData) Encode() []byte {
	out := make([]byte, PrivateKeyDataSize)
	copy(out, d.IV[:])
	copy(out[crypto.IVSize:], d.Signature[:])
	return out
}

// DecodePrivateKeyData parses a record produced by Encode.
func DecodePrivateKeyData(b []byte) (PrivateKeyData, error) {
	var d PrivateKeyData
	if len(b) != PrivateKeyDataSize {
		return d, fmt.Errorf("%w: private key data is %d bytes", ErrHandshakeFailed, len(b))
	}
	copy(d.IV[:], b[:crypto.IVSize])
	copy(d.Signature[:], b[crypto.IVSize:])
	return d, nil
}

func signedMaterial(iv [crypto.IVSize]byte, key []byte) []byte {
	data := make([]byte, 0, crypto.IVSize+len(key))
	data = append(data, iv[:]...)
	return append(data, key...)
}

// Sign fills the signature of a peer's request with our HMAC.
func (d *PrivateKeyData) Sign(key []byte) {
	mac := crypto.HMAC(signedMaterial(d.IV, key), key)
	d.Signature = [32]byte{}
	copy(d.Signature[:], mac[:])
}

// Confirm checks that d is our own request signed with the same key.
func (d *PrivateKeyData) Confirm(ours PrivateKeyData, key []byte) bool {
	if subtle.ConstantTimeCompare(d.IV[:], ours.IV[:]) != 1 {
		return false
	}
	var zero [32 - crypto.HMACSize]byte
	if subtle.ConstantTimeCompare(d.Signature[crypto.HMACSize:], zero[:]) != 1 {
		return false
	}
	return crypto.VerifyHMAC(signedMaterial(d.IV, key), d.Signature[:crypto.HMACSize], key)
}

// deadlineReadWriter is the part of a connection the handshake needs.
// Each Write must carry one whole record and each Read must return one.
type deadlineReadWriter interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
}

// handshakePrivateKey proves to the peer that we hold key and checks that
// the peer does too. Both sides run the same sequence: send our request,
// sign the peer's request and send it back, then confirm our signed request.
//
// Parameters:
//   - conn: A stream or connected datagram socket
//   - key: The shared private key
//   - timeout: Upper bound for each read
//
// Returns:
//   - error: ErrHandshakeFailed wrapping the failing step
func handshakePrivateKey(conn deadlineReadWriter, key []byte, timeout time.Duration) error {
	logger := logrus.WithFields(logrus.Fields{
		"function": "handshakePrivateKey",
		"timeout":  timeout,
	})

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %v", ErrHandshakeFailed, err)
	}
	defer conn.SetReadDeadline(time.Time{})

	iv, err := crypto.GenerateIV()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	ours := PrivateKeyData{IV: iv}

	if _, err := conn.Write(ours.Encode()); err != nil {
		return fmt.Errorf("%w: send request: %v", ErrHandshakeFailed, err)
	}

	theirs, err := readPrivateKeyData(conn)
	if err != nil {
		logger.WithError(err).Warn("Did not receive the peer's private key request")
		return fmt.Errorf("%w: receive request: %v", ErrHandshakeFailed, err)
	}

	theirs.Sign(key)
	if _, err := conn.Write(theirs.Encode()); err != nil {
		return fmt.Errorf("%w: send signature: %v", ErrHandshakeFailed, err)
	}

	signed, err := readPrivateKeyData(conn)
	if err != nil {
		logger.WithError(err).Warn("Did not receive our signed private key request")
		return fmt.Errorf("%w: receive signature: %v", ErrHandshakeFailed, err)
	}

	if !signed.Confirm(ours, key) {
		logger.WithFields(crypto.SecureFieldHash(signed.IV[:], "iv")).Warn("Peer failed to prove the private key")
		return fmt.Errorf("%w: signature mismatch", ErrHandshakeFailed)
	}

	logger.Debug("Private key confirmed")
	return nil
}

// readPrivateKeyData reads one record. Zero-length reads, such as a
// repeated UDP ack, are skipped by io.ReadFull.
func readPrivateKeyData(conn io.Reader) (PrivateKeyData, error) {
	buf := make([]byte, PrivateKeyDataSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return PrivateKeyData{}, err
	}
	return DecodePrivateKeyData(buf)
}
