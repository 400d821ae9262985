// Package noise provides the optional per-session key upgrade for Whist
// socket contexts. Both peers already share a 16-byte private key; the upgrade
// runs a Noise NNpsk0 handshake keyed by that private key so that every
// connection ends up encrypting with a fresh, forward-secret AES key.
package noise

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/flynn/noise"
	"github.com/opd-ai/whistcore/crypto"
)

var (
	// ErrHandshakeNotComplete indicates handshake is still in progress
	ErrHandshakeNotComplete = errors.New("handshake not complete")
	// ErrInvalidMessage indicates received message is invalid for current state
	ErrInvalidMessage = errors.New("invalid message for current handshake state")
	// ErrHandshakeComplete indicates handshake is already complete
	ErrHandshakeComplete = errors.New("handshake already complete")
)

const (
	pskInfo        = "whist noise psk"
	sessionKeyInfo = "whist session key"

	// maxHandshakeMessage bounds a single framed handshake message.
	maxHandshakeMessage = 1024
)

// HandshakeRole defines whether we're initiating or responding to handshake
type HandshakeRole uint8

const (
	// Initiator sends the first handshake message (the client side)
	Initiator HandshakeRole = iota
	// Responder answers the first message (the server side)
	Responder
)

// SessionUpgrade runs the Noise NNpsk0 pattern:
//
//	-> psk, e
//	<- e, ee
//
// A peer that does not hold the same private key fails to read the first
// message, so the upgrade also re-confirms key possession.
type SessionUpgrade struct {
	role       HandshakeRole
	state      *noise.HandshakeState
	sendCipher *noise.CipherState
	recvCipher *noise.CipherState
	complete   bool
}

// NewSessionUpgrade creates a session upgrade for the given role.
// privateKey is the pre-shared Whist private key (crypto.KeySize bytes).
func NewSessionUpgrade(privateKey []byte, role HandshakeRole) (*SessionUpgrade, error) {
	if len(privateKey) != crypto.KeySize {
		return nil, fmt.Errorf("%w: private key must be %d bytes, got %d", crypto.ErrInvalidKeySize, crypto.KeySize, len(privateKey))
	}

	psk, err := crypto.DeriveKey(privateKey, nil, pskInfo, 32)
	if err != nil {
		return nil, fmt.Errorf("failed to derive psk: %w", err)
	}
	defer crypto.ZeroBytes(psk)

	cipherSuite := noise.NewCipherSuite(noise.DH25519, noise.CipherAESGCM, noise.HashSHA256)
	config := noise.Config{
		CipherSuite:           cipherSuite,
		Random:                rand.Reader,
		Pattern:               noise.HandshakeNN,
		Initiator:             role == Initiator,
		PresharedKey:          psk,
		PresharedKeyPlacement: 0,
	}

	state, err := noise.NewHandshakeState(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create handshake state: %w", err)
	}

	return &SessionUpgrade{role: role, state: state}, nil
}

// WriteMessage produces the next outgoing handshake message.
func (s *SessionUpgrade) WriteMessage() ([]byte, error) {
	if s.complete {
		return nil, ErrHandshakeComplete
	}

	message, cs1, cs2, err := s.state.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: write failed: %v", ErrInvalidMessage, err)
	}
	s.finish(cs1, cs2)
	return message, nil
}

// ReadMessage consumes an incoming handshake message.
func (s *SessionUpgrade) ReadMessage(message []byte) error {
	if s.complete {
		return ErrHandshakeComplete
	}

	_, cs1, cs2, err := s.state.ReadMessage(nil, message)
	if err != nil {
		return fmt.Errorf("%w: read failed: %v", ErrInvalidMessage, err)
	}
	s.finish(cs1, cs2)
	return nil
}

// finish records the cipher states once the final message has been processed.
func (s *SessionUpgrade) finish(cs1, cs2 *noise.CipherState) {
	if cs1 == nil || cs2 == nil {
		return
	}
	if s.role == Initiator {
		s.sendCipher, s.recvCipher = cs1, cs2
	} else {
		s.sendCipher, s.recvCipher = cs2, cs1
	}
	s.complete = true
}

// IsComplete returns true if handshake is finished and the session key is available.
func (s *SessionUpgrade) IsComplete() bool {
	return s.complete
}

// SessionKey derives the AES session key from the handshake hash.
// Both peers obtain the same key.
func (s *SessionUpgrade) SessionKey() ([]byte, error) {
	if !s.complete {
		return nil, ErrHandshakeNotComplete
	}
	return crypto.DeriveKey(s.state.ChannelBinding(), nil, sessionKeyInfo, crypto.KeySize)
}

// Upgrade runs the whole exchange over rw and returns the session key.
// Messages are framed with a 2-byte little-endian length. The caller is
// responsible for deadlines on the underlying connection.
func Upgrade(rw io.ReadWriter, privateKey []byte, role HandshakeRole) ([]byte, error) {
	logger := crypto.NewPackageLogger("noise", "Upgrade").WithField("initiator", role == Initiator)
	logger.Entry("session upgrade")

	s, err := NewSessionUpgrade(privateKey, role)
	if err != nil {
		logger.WithError(err, "setup").Error("Session upgrade setup failed")
		return nil, err
	}

	steps := []func(io.ReadWriter) error{s.send, s.receive}
	if role == Responder {
		steps[0], steps[1] = steps[1], steps[0]
	}
	for _, step := range steps {
		if err := step(rw); err != nil {
			logger.WithError(err, "exchange").Warn("Session upgrade failed")
			return nil, err
		}
	}

	key, err := s.SessionKey()
	if err != nil {
		return nil, err
	}
	logger.Exit()
	return key, nil
}

// send writes the next handshake message to w.
func (s *SessionUpgrade) send(w io.ReadWriter) error {
	msg, err := s.WriteMessage()
	if err != nil {
		return err
	}
	frame := make([]byte, 2+len(msg))
	binary.LittleEndian.PutUint16(frame, uint16(len(msg)))
	copy(frame[2:], msg)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("failed to send handshake message: %w", err)
	}
	return nil
}

// receive reads one framed handshake message from r and processes it.
func (s *SessionUpgrade) receive(r io.ReadWriter) error {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return fmt.Errorf("failed to read handshake header: %w", err)
	}
	n := int(binary.LittleEndian.Uint16(header[:]))
	if n > maxHandshakeMessage {
		return fmt.Errorf("%w: message of %d bytes", ErrInvalidMessage, n)
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(r, msg); err != nil {
		return fmt.Errorf("failed to read handshake message: %w", err)
	}
	return s.ReadMessage(msg)
}
