package receiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/whistcore/ringbuffer"
	"github.com/opd-ai/whistcore/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// UDPSocket is the media connection a Receiver reads segments from and
// sends nacks and stream reset requests over.
type UDPSocket interface {
	ReadPacket(shouldRecv bool) (*transport.Segment, error)
	SendClientMessage(msg *transport.ClientMessage) error
	NetworkSettings() transport.NetworkSettings
	Close() error
}

// TCPSocket is the optional control connection. It keeps the session alive
// and supplies the round trip estimate.
type TCPSocket interface {
	ReadPacket(shouldRecv bool) (*transport.Segment, error)
	UpdatePing() error
	Latency() time.Duration
	Close() error
}

// Frame is a reassembled frame delivered on the Frames channel.
type Frame struct {
	Type transport.PacketType
	ID   int
	Data []byte
}

// Statistics aggregates the receiver's counters since the last call.
type Statistics struct {
	Audio ringbuffer.Statistics
	Video ringbuffer.Statistics

	// FramesDropped counts ready frames that did not fit in the Frames channel.
	FramesDropped    int
	ServerMessages   int
	MessagesFailed   int
	StreamResetJumps int
}

// pendingReset records an outstanding stream reset request.
type pendingReset struct {
	active       bool
	lastFailedID int
}

// Receiver is the client side of a Whist media session. It owns the socket
// contexts and one ring buffer per stream, runs the network loop and
// exposes a render API.
type Receiver struct {
	opts         Options
	timeProvider transport.TimeProvider

	udp UDPSocket
	tcp TCPSocket

	audio *ringbuffer.RingBuffer
	video *ringbuffer.RingBuffer

	frames chan Frame

	mu     sync.Mutex
	resets map[transport.PacketType]*pendingReset
	stats  Statistics

	closeOnce sync.Once
}

// New connects to the server described by opts and builds a Receiver.
//
// Parameters:
//   - ctx: Bounds dialing and the handshakes
//   - opts: Receiver configuration, UDPAddress is required
//
// Returns:
//   - *Receiver: The connected receiver
//   - error: Dial, handshake or configuration failure
func New(ctx context.Context, opts *Options) (*Receiver, error) {
	if opts == nil || opts.UDPAddress == "" {
		return nil, ErrMissingAddress
	}

	udp, err := transport.DialUDP(ctx, opts.UDPAddress, opts.Transport)
	if err != nil {
		return nil, fmt.Errorf("failed to connect udp: %w", err)
	}

	var tcp TCPSocket
	if opts.TCPAddress != "" {
		tcpCtx, err := transport.DialTCP(ctx, opts.TCPAddress, opts.Transport)
		if err != nil {
			udp.Close()
			return nil, fmt.Errorf("failed to connect tcp: %w", err)
		}
		tcp = tcpCtx
	}

	r, err := NewWithSockets(udp, tcp, opts)
	if err != nil {
		udp.Close()
		if tcp != nil {
			tcp.Close()
		}
		return nil, err
	}
	return r, nil
}

// NewWithSockets builds a Receiver over already established sockets. tcp
// may be nil. The Receiver takes ownership of both.
func NewWithSockets(udp UDPSocket, tcp TCPSocket, opts *Options) (*Receiver, error) {
	r := &Receiver{
		opts:         *opts,
		timeProvider: opts.TimeProvider,
		udp:          udp,
		tcp:          tcp,
		frames:       make(chan Frame, max(opts.FrameQueueSize, 1)),
		resets: map[transport.PacketType]*pendingReset{
			transport.PacketAudio: {},
			transport.PacketVideo: {},
		},
	}
	if r.timeProvider == nil {
		r.timeProvider = transport.RealTimeProvider{}
	}

	var err error
	if r.audio, err = r.newRing(transport.PacketAudio, opts.AudioRingSize); err != nil {
		return nil, err
	}
	if r.video, err = r.newRing(transport.PacketVideo, opts.VideoRingSize); err != nil {
		r.audio.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":   "receiver.NewWithSockets",
		"audio_size": opts.AudioRingSize,
		"video_size": opts.VideoRingSize,
		"tcp":        tcp != nil,
	}).Info("Receiver created")

	return r, nil
}

func (r *Receiver) newRing(packetType transport.PacketType, size int) (*ringbuffer.RingBuffer, error) {
	opts := ringbuffer.NewOptions(packetType)
	opts.Size = size
	opts.StrictAssertions = r.opts.StrictAssertions
	opts.TimeProvider = r.opts.TimeProvider
	opts.OnFrameReady = r.onFrameReady(packetType)
	opts.OnNack = r.sendNack
	opts.OnStreamReset = r.requestStreamReset

	rb, err := ringbuffer.New(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create %v ring buffer: %w", packetType, err)
	}
	return rb, nil
}

func (r *Receiver) ring(packetType transport.PacketType) *ringbuffer.RingBuffer {
	switch packetType {
	case transport.PacketAudio:
		return r.audio
	case transport.PacketVideo:
		return r.video
	default:
		return nil
	}
}

func (r *Receiver) onFrameReady(packetType transport.PacketType) ringbuffer.FrameReadyFunc {
	return func(id int, data []byte) {
		frame := Frame{Type: packetType, ID: id, Data: data}
		select {
		case r.frames <- frame:
		default:
			r.mu.Lock()
			r.stats.FramesDropped++
			r.mu.Unlock()
			logrus.WithFields(logrus.Fields{
				"function": "Receiver.onFrameReady",
				"type":     packetType.String(),
				"id":       id,
			}).Debug("Frame queue full, dropping notification")
		}
	}
}

func (r *Receiver) sendNack(packetType transport.PacketType, id, index int) {
	if err := r.udp.SendClientMessage(transport.NackMessage(packetType, id, index)); err != nil {
		r.mu.Lock()
		r.stats.MessagesFailed++
		r.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.sendNack",
			"type":     packetType.String(),
			"id":       id,
			"index":    index,
			"error":    err.Error(),
		}).Warn("Failed to send nack")
	}
}

func (r *Receiver) requestStreamReset(packetType transport.PacketType, lastFailedID int) {
	r.mu.Lock()
	reset := r.resets[packetType]
	reset.active = true
	reset.lastFailedID = lastFailedID
	r.mu.Unlock()

	if err := r.udp.SendClientMessage(transport.StreamResetMessage(packetType, lastFailedID)); err != nil {
		r.mu.Lock()
		r.stats.MessagesFailed++
		r.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function":       "Receiver.requestStreamReset",
			"type":           packetType.String(),
			"last_failed_id": lastFailedID,
			"error":          err.Error(),
		}).Warn("Failed to send stream reset request")
	}
}

// Frames returns the channel on which frames are announced as soon as they
// are reassembled. When the channel is full, announcements are dropped; the
// frames stay available through RenderNext.
func (r *Receiver) Frames() <-chan Frame {
	return r.frames
}

// Run drives the receiver until ctx is cancelled or a socket fails. It
// reads segments into the ring buffers, nacks missing packets every
// RecoveryInterval and, with TCP, keeps the session alive.
func (r *Receiver) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.receiveLoop(gctx) })
	if r.tcp != nil {
		g.Go(func() error { return r.controlLoop(gctx) })
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *Receiver) receiveLoop(ctx context.Context) error {
	var lastRecovery time.Time
	for ctx.Err() == nil {
		seg, err := r.udp.ReadPacket(true)
		switch {
		case errors.Is(err, transport.ErrMalformedSegment):
		case err != nil:
			return fmt.Errorf("udp receive failed: %w", err)
		case seg != nil:
			r.route(seg)
		}

		now := r.timeProvider.Now()
		if now.Sub(lastRecovery) >= r.opts.RecoveryInterval {
			r.recover()
			lastRecovery = now
		}
	}
	return nil
}

func (r *Receiver) controlLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		if err := r.tcp.UpdatePing(); err != nil {
			return fmt.Errorf("tcp liveness failed: %w", err)
		}
		seg, err := r.tcp.ReadPacket(true)
		if err != nil {
			return fmt.Errorf("tcp receive failed: %w", err)
		}
		if seg != nil {
			r.route(seg)
		}
	}
	return nil
}

func (r *Receiver) route(seg *transport.Segment) {
	rb := r.ring(seg.Type)
	if rb == nil {
		r.mu.Lock()
		r.stats.ServerMessages++
		r.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.route",
			"id":       seg.ID,
			"size":     len(seg.Data),
		}).Debug("Ignoring server message")
		return
	}
	// The ring buffer logs everything it rejects.
	_ = rb.ReceiveSegment(seg)
}

// Latency returns the measured round trip time, or the configured fallback.
func (r *Receiver) Latency() time.Duration {
	if r.tcp != nil {
		if rtt := r.tcp.Latency(); rtt > 0 {
			return rtt
		}
	}
	return r.opts.Latency
}

func (r *Receiver) recover() {
	latency := r.Latency()
	settings := r.udp.NetworkSettings()
	r.audio.TryRecoveringMissingPacketsOrFrames(latency, settings)
	r.video.TryRecoveringMissingPacketsOrFrames(latency, settings)
}

// RenderNext hands out the next frame of the given stream. Frames are
// rendered in ID order. While a stream reset is outstanding, the newest
// ready frame after the failed one is rendered instead and everything
// before it is skipped.
func (r *Receiver) RenderNext(packetType transport.PacketType) (*ringbuffer.FrameData, error) {
	rb := r.ring(packetType)
	if rb == nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedType, packetType)
	}

	next := rb.LastRenderedID() + 1
	if rb.LastRenderedID() == -1 {
		next = rb.MinID()
	}
	if next >= 0 {
		if fd, ok := rb.RenderIfReady(next); ok {
			return fd, nil
		}
	}

	r.mu.Lock()
	reset := *r.resets[packetType]
	r.mu.Unlock()
	if !reset.active {
		return nil, ErrNoFrame
	}

	floor := max(next, reset.lastFailedID+1)
	for id := rb.MaxID(); id >= floor; id-- {
		if !rb.IsReadyToRender(id) {
			continue
		}
		rb.ResetStream(id)
		fd, ok := rb.RenderIfReady(id)
		if !ok {
			// A ring reset on the receive side raced us; retry on the next call.
			return nil, ErrNoFrame
		}
		logrus.WithFields(logrus.Fields{
			"function":       "Receiver.RenderNext",
			"type":           packetType.String(),
			"from":           next,
			"to":             id,
			"last_failed_id": reset.lastFailedID,
		}).Info("Jumped to frame after stream reset")

		r.mu.Lock()
		r.resets[packetType].active = false
		r.stats.StreamResetJumps++
		r.mu.Unlock()
		return fd, nil
	}
	return nil, ErrNoFrame
}

// Statistics returns the counters gathered since the last call and clears them.
func (r *Receiver) Statistics() Statistics {
	r.mu.Lock()
	s := r.stats
	r.stats = Statistics{}
	r.mu.Unlock()

	s.Audio = r.audio.Statistics()
	s.Video = r.video.Statistics()
	return s
}

// Close closes the sockets and releases the ring buffers. Run returns
// shortly after.
func (r *Receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		err = r.udp.Close()
		if r.tcp != nil {
			if tcpErr := r.tcp.Close(); err == nil {
				err = tcpErr
			}
		}
		r.audio.Close()
		r.video.Close()
	})
	return err
}
