package receiver

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/whistcore/netsim"
	"github.com/opd-ai/whistcore/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("whist-test-key16")

// fakeUDP is an in-memory UDPSocket.
type fakeUDP struct {
	mu       sync.Mutex
	segments chan *transport.Segment
	messages []*transport.ClientMessage
	closed   chan struct{}
	once     sync.Once
}

func newFakeUDP() *fakeUDP {
	return &fakeUDP{
		segments: make(chan *transport.Segment, 64),
		closed:   make(chan struct{}),
	}
}

func (f *fakeUDP) ReadPacket(shouldRecv bool) (*transport.Segment, error) {
	select {
	case seg := <-f.segments:
		return seg, nil
	case <-f.closed:
		return nil, transport.ErrContextClosed
	case <-time.After(time.Millisecond):
		return nil, nil
	}
}

func (f *fakeUDP) SendClientMessage(msg *transport.ClientMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeUDP) takeMessages() []*transport.ClientMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.messages
	f.messages = nil
	return m
}

func (f *fakeUDP) NetworkSettings() transport.NetworkSettings {
	return transport.DefaultNetworkSettings()
}

func (f *fakeUDP) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func testOptions() *Options {
	opts := NewOptions("127.0.0.1:0")
	opts.Transport.PrivateKey = testKey
	opts.AudioRingSize = 32
	opts.VideoRingSize = 32
	return opts
}

func newFakeReceiver(t *testing.T, opts *Options) (*Receiver, *fakeUDP) {
	t.Helper()
	udp := newFakeUDP()
	r, err := NewWithSockets(udp, nil, opts)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, udp
}

func segment(packetType transport.PacketType, id, index, numIndices int, data string) *transport.Segment {
	return &transport.Segment{
		Type:       packetType,
		ID:         id,
		Index:      index,
		NumIndices: numIndices,
		Data:       []byte(data),
	}
}

func TestNewRequiresAddress(t *testing.T) {
	_, err := New(context.Background(), nil)
	assert.ErrorIs(t, err, ErrMissingAddress)

	_, err = New(context.Background(), &Options{})
	assert.ErrorIs(t, err, ErrMissingAddress)
}

func TestRenderNextInOrder(t *testing.T) {
	r, _ := newFakeReceiver(t, testOptions())

	_, err := r.RenderNext(transport.PacketVideo)
	assert.ErrorIs(t, err, ErrNoFrame)
	_, err = r.RenderNext(transport.PacketMessage)
	assert.ErrorIs(t, err, ErrUnsupportedType)

	r.route(segment(transport.PacketVideo, 0, 0, 2, "he"))
	r.route(segment(transport.PacketVideo, 1, 0, 1, "world"))
	_, err = r.RenderNext(transport.PacketVideo)
	assert.ErrorIs(t, err, ErrNoFrame, "frame 1 waits for frame 0")

	r.route(segment(transport.PacketVideo, 0, 1, 2, "llo"))
	frame, err := r.RenderNext(transport.PacketVideo)
	require.NoError(t, err)
	assert.Equal(t, 0, frame.ID)
	assert.Equal(t, []byte("hello"), frame.Data)

	frame, err = r.RenderNext(transport.PacketVideo)
	require.NoError(t, err)
	assert.Equal(t, 1, frame.ID)

	r.route(segment(transport.PacketAudio, 4, 0, 1, "pcm"))
	frame, err = r.RenderNext(transport.PacketAudio)
	require.NoError(t, err)
	assert.Equal(t, 4, frame.ID)
}

func TestRenderNextSurvivesConcurrentRingResets(t *testing.T) {
	opts := testOptions()
	opts.VideoRingSize = 4
	opts.StrictAssertions = true
	r, _ := newFakeReceiver(t, opts)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for id := 0; id < 2000; id++ {
			r.route(segment(transport.PacketVideo, id, 0, 1, "f"))
			if id%7 == 0 {
				// lands on an unrendered slot and resets the whole ring
				r.route(segment(transport.PacketVideo, id+opts.VideoRingSize, 0, 2, "x"))
			}
		}
	}()

	assert.NotPanics(t, func() {
		for {
			select {
			case <-done:
				return
			default:
			}
			if _, err := r.RenderNext(transport.PacketVideo); err != nil {
				assert.ErrorIs(t, err, ErrNoFrame)
			}
		}
	})
}

func TestFramesChannel(t *testing.T) {
	opts := testOptions()
	opts.FrameQueueSize = 1
	r, _ := newFakeReceiver(t, opts)

	r.route(segment(transport.PacketAudio, 0, 0, 1, "a"))
	r.route(segment(transport.PacketAudio, 1, 0, 1, "b"))

	select {
	case f := <-r.Frames():
		assert.Equal(t, Frame{Type: transport.PacketAudio, ID: 0, Data: []byte("a")}, f)
	default:
		t.Fatal("no frame announced")
	}
	assert.Equal(t, 1, r.Statistics().FramesDropped)
}

func TestNacksAreSentAsClientMessages(t *testing.T) {
	opts := testOptions()
	opts.Latency = time.Second
	r, udp := newFakeReceiver(t, opts)

	r.route(segment(transport.PacketVideo, 0, 1, 3, "b"))
	r.route(segment(transport.PacketVideo, 0, 2, 3, "c"))
	r.recover()
	assert.Empty(t, udp.takeMessages(), "reordering within a frame is tolerated")

	r.route(segment(transport.PacketVideo, 1, 0, 1, "next"))
	r.recover()
	assert.Equal(t, []*transport.ClientMessage{transport.NackMessage(transport.PacketVideo, 0, 0)}, udp.takeMessages())
	assert.Equal(t, 1, r.Statistics().Video.PacketsNacked)
}

func TestStreamResetJump(t *testing.T) {
	r, udp := newFakeReceiver(t, testOptions())

	r.route(segment(transport.PacketVideo, 0, 0, 2, "x"))
	for id := 1; id <= 6; id++ {
		r.route(segment(transport.PacketVideo, id, 0, 1, "frame"))
	}
	r.recover()

	var resets []*transport.ClientMessage
	for _, msg := range udp.takeMessages() {
		if msg.Type == transport.MessageStreamResetRequest {
			resets = append(resets, msg)
		}
	}
	require.Equal(t, []*transport.ClientMessage{transport.StreamResetMessage(transport.PacketVideo, 5)}, resets)

	frame, err := r.RenderNext(transport.PacketVideo)
	require.NoError(t, err)
	assert.Equal(t, 6, frame.ID)

	stats := r.Statistics()
	assert.Equal(t, 1, stats.StreamResetJumps)
	assert.Equal(t, 6, stats.Video.FramesSkipped)
	assert.Equal(t, 1, stats.Video.StreamResetRequests)

	_, err = r.RenderNext(transport.PacketVideo)
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestLatencyFallback(t *testing.T) {
	opts := testOptions()
	opts.Latency = 42 * time.Millisecond
	r, _ := newFakeReceiver(t, opts)
	assert.Equal(t, 42*time.Millisecond, r.Latency())
}

func TestRunStopsOnCancel(t *testing.T) {
	r, udp := newFakeReceiver(t, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	udp.segments <- segment(transport.PacketAudio, 0, 0, 1, "pcm")
	select {
	case f := <-r.Frames():
		assert.Equal(t, 0, f.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("frame not delivered")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestRunReportsSocketFailure(t *testing.T) {
	r, udp := newFakeReceiver(t, testOptions())
	udp.Close()

	err := r.Run(context.Background())
	assert.ErrorIs(t, err, transport.ErrContextClosed)
}

// loopbackServer accepts a receiver on a lossy loopback socket and serves
// its client messages.
type loopbackServer struct {
	udp    *transport.UDPContext
	lossy  *netsim.LossyPacketConn
	mu     sync.Mutex
	resets []int
}

func (s *loopbackServer) serve(ctx context.Context) {
	for ctx.Err() == nil {
		seg, err := s.udp.ReadPacket(true)
		if err != nil || seg == nil || seg.Type != transport.PacketMessage {
			continue
		}
		msg, err := transport.DecodeClientMessage(seg.Data)
		if err != nil {
			continue
		}
		s.udp.HandleClientMessage(msg, func(_ transport.PacketType, lastFailedID int) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.resets = append(s.resets, lastFailedID)
		})
	}
}

func startLoopback(t *testing.T, configure func(*transport.Options)) (*loopbackServer, *Receiver) {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	lossy := netsim.NewLossyPacketConn(pc, 1)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	serverOpts := transport.NewOptions()
	serverOpts.PrivateKey = testKey
	serverOpts.ReceiveTimeout = 20 * time.Millisecond
	if configure != nil {
		configure(serverOpts)
	}

	type result struct {
		udp *transport.UDPContext
		err error
	}
	accepted := make(chan result, 1)
	go func() {
		udp, err := transport.AcceptUDP(ctx, lossy, serverOpts)
		accepted <- result{udp, err}
	}()

	opts := testOptions()
	opts.UDPAddress = pc.LocalAddr().String()
	r, err := New(ctx, opts)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	res := <-accepted
	require.NoError(t, res.err)
	t.Cleanup(func() { res.udp.Close() })

	server := &loopbackServer{udp: res.udp, lossy: lossy}
	go server.serve(ctx)
	go r.Run(ctx)
	return server, r
}

func waitForFrame(t *testing.T, r *Receiver, id int) Frame {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case f := <-r.Frames():
			if f.ID == id {
				return f
			}
		case <-deadline:
			t.Fatalf("frame %d never arrived", id)
		}
	}
}

func TestLoopbackNackRecovery(t *testing.T) {
	server, r := startLoopback(t, nil)

	payload := bytes.Repeat([]byte("whist"), 700)
	server.lossy.DropNext(1)
	require.NoError(t, server.udp.SendPacket(transport.PacketVideo, payload, 0))
	require.NoError(t, server.udp.SendPacket(transport.PacketVideo, []byte("next"), 1))

	f := waitForFrame(t, r, 0)
	assert.Equal(t, payload, f.Data)
	assert.Equal(t, 1, server.lossy.Stats().Dropped)

	require.Eventually(t, func() bool {
		frame, err := r.RenderNext(transport.PacketVideo)
		return err == nil && frame.ID == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestLoopbackStreamReset(t *testing.T) {
	server, r := startLoopback(t, func(o *transport.Options) { o.VideoNackBuffers = 0 })

	// The server cannot answer nacks, so losing part of frame 0 stalls
	// the stream until a reset lets the renderer jump ahead.
	server.lossy.DropNext(1)
	require.NoError(t, server.udp.SendPacket(transport.PacketVideo, bytes.Repeat([]byte{1}, 3000), 0))
	for id := 1; id <= 7; id++ {
		require.NoError(t, server.udp.SendPacket(transport.PacketVideo, []byte{byte(id)}, id))
	}
	waitForFrame(t, r, 7)

	require.Eventually(t, func() bool {
		frame, err := r.RenderNext(transport.PacketVideo)
		return err == nil && frame.ID == 7
	}, 2*time.Second, 5*time.Millisecond)

	server.mu.Lock()
	assert.NotEmpty(t, server.resets)
	server.mu.Unlock()
	assert.Equal(t, 1, r.Statistics().StreamResetJumps)
}
