package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testKey = []byte("whist-test-key16")

// MockTimeProvider is a test implementation of TimeProvider for deterministic testing.
type MockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func newMockTimeProvider() *MockTimeProvider {
	return &MockTimeProvider{currentTime: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the mock time.
func (m *MockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

// SetTime sets the mock time.
func (m *MockTimeProvider) SetTime(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = t
}

// Advance advances the mock time by the specified duration.
func (m *MockTimeProvider) Advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

func testOptions(key []byte) *Options {
	opts := NewOptions()
	opts.PrivateKey = key
	opts.ReceiveTimeout = 200 * time.Millisecond
	return opts
}

// tcpPair connects a client and a server TCP context over loopback.
func tcpPair(t *testing.T, clientOpts, serverOpts *Options) (client, server *TCPContext) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		c   *TCPContext
		err error
	}
	accepted := make(chan result, 1)
	go func() {
		c, err := AcceptTCP(ctx, ln, serverOpts)
		accepted <- result{c, err}
	}()

	client, err = DialTCP(ctx, ln.Addr().String(), clientOpts)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	r := <-accepted
	require.NoError(t, r.err)
	t.Cleanup(func() { r.c.Close() })
	return client, r.c
}

// udpPair connects a client and a server UDP context over loopback.
func udpPair(t *testing.T, clientOpts, serverOpts *Options) (client, server *UDPContext) {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		c   *UDPContext
		err error
	}
	accepted := make(chan result, 1)
	go func() {
		c, err := AcceptUDP(ctx, pc, serverOpts)
		accepted <- result{c, err}
	}()

	client, err = DialUDP(ctx, pc.LocalAddr().String(), clientOpts)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	r := <-accepted
	require.NoError(t, r.err)
	t.Cleanup(func() { r.c.Close() })
	return client, r.c
}

// readSegment polls ctx until a segment arrives or the attempts run out.
func readSegment(t *testing.T, ctx SocketContext) *Segment {
	t.Helper()
	for i := 0; i < 25; i++ {
		seg, err := ctx.ReadPacket(true)
		require.NoError(t, err)
		if seg != nil {
			return seg
		}
	}
	t.Fatal("no segment received")
	return nil
}
