package noise

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	sharedKey = []byte("0123456789abcdef")
	otherKey  = []byte("fedcba9876543210")
)

func TestNewSessionUpgradeValidation(t *testing.T) {
	_, err := NewSessionUpgrade([]byte("short"), Initiator)
	assert.Error(t, err)

	s, err := NewSessionUpgrade(sharedKey, Responder)
	require.NoError(t, err)
	assert.False(t, s.IsComplete())

	_, err = s.SessionKey()
	assert.ErrorIs(t, err, ErrHandshakeNotComplete)
}

func TestSessionUpgradeMessages(t *testing.T) {
	initiator, err := NewSessionUpgrade(sharedKey, Initiator)
	require.NoError(t, err)
	responder, err := NewSessionUpgrade(sharedKey, Responder)
	require.NoError(t, err)

	msg1, err := initiator.WriteMessage()
	require.NoError(t, err)
	require.NoError(t, responder.ReadMessage(msg1))

	msg2, err := responder.WriteMessage()
	require.NoError(t, err)
	assert.True(t, responder.IsComplete())

	require.NoError(t, initiator.ReadMessage(msg2))
	assert.True(t, initiator.IsComplete())

	k1, err := initiator.SessionKey()
	require.NoError(t, err)
	k2, err := responder.SessionKey()
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, sharedKey, k1)

	_, err = initiator.WriteMessage()
	assert.ErrorIs(t, err, ErrHandshakeComplete)
	assert.ErrorIs(t, responder.ReadMessage(msg1), ErrHandshakeComplete)
}

func TestSessionUpgradeMismatchedKeys(t *testing.T) {
	initiator, err := NewSessionUpgrade(sharedKey, Initiator)
	require.NoError(t, err)
	responder, err := NewSessionUpgrade(otherKey, Responder)
	require.NoError(t, err)

	msg1, err := initiator.WriteMessage()
	require.NoError(t, err)
	assert.ErrorIs(t, responder.ReadMessage(msg1), ErrInvalidMessage)
	assert.False(t, responder.IsComplete())
}

func TestUpgradeOverConnection(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	type result struct {
		key []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		key, err := Upgrade(server, sharedKey, Responder)
		done <- result{key, err}
	}()

	clientKey, err := Upgrade(client, sharedKey, Initiator)
	require.NoError(t, err)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, clientKey, res.key)
}

func TestUpgradeFreshKeyPerSession(t *testing.T) {
	run := func() []byte {
		client, server := net.Pipe()
		defer client.Close()
		defer server.Close()

		go func() { _, _ = Upgrade(server, sharedKey, Responder) }()
		key, err := Upgrade(client, sharedKey, Initiator)
		require.NoError(t, err)
		return key
	}

	assert.NotEqual(t, run(), run())
}
