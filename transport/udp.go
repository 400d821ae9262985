package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/opd-ai/whistcore/fec"
	"github.com/opd-ai/whistcore/limits"
	"github.com/sirupsen/logrus"
)

// MaxDatagramSize is the largest datagram a UDP context sends or accepts.
const MaxDatagramSize = EnvelopeHeaderSize + SegmentHeaderSize + limits.MaxPayloadSize

// DatagramConn is a datagram socket bound to one peer. A connected
// *net.UDPConn satisfies it; AcceptUDP adapts an unconnected net.PacketConn.
type DatagramConn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	SetReadDeadline(t time.Time) error
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Close() error
}

// peerConn pins an unconnected packet socket to a single peer.
type peerConn struct {
	pc   net.PacketConn
	peer net.Addr
}

func (p *peerConn) Read(b []byte) (int, error) {
	for {
		n, addr, err := p.pc.ReadFrom(b)
		if err != nil {
			return n, err
		}
		if addr.String() == p.peer.String() {
			return n, nil
		}
		logrus.WithFields(logrus.Fields{
			"function": "peerConn.Read",
			"from":     addr.String(),
			"peer":     p.peer.String(),
		}).Debug("Ignoring datagram from unknown address")
	}
}

func (p *peerConn) Write(b []byte) (int, error) { return p.pc.WriteTo(b, p.peer) }
func (p *peerConn) SetReadDeadline(t time.Time) error { return p.pc.SetReadDeadline(t) }
func (p *peerConn) LocalAddr() net.Addr { return p.pc.LocalAddr() }
func (p *peerConn) RemoteAddr() net.Addr { return p.peer }
func (p *peerConn) Close() error { return p.pc.Close() }

// duplicateCounter tracks duplicates sent for the current frame of a type
// so the next frame can report them in prev_frame_num_duplicates.
type duplicateCounter struct {
	id       int
	current  int
	previous int
}

// UDPContext is a SocketContext over UDP. Frames are split into segments
// of at most limits.MaxPayloadSize bytes, optionally protected by fec,
// and each segment travels in its own encrypted datagram.
type UDPContext struct {
	conn     DatagramConn
	isServer bool
	opts     Options
	key      []byte

	writeMu sync.Mutex

	readMu  sync.Mutex
	readBuf []byte

	nackBuffers [numPacketTypes]*nackBuffer

	settingsMu sync.RWMutex
	settings   NetworkSettings

	dupMu      sync.Mutex
	duplicates [numPacketTypes]duplicateCounter

	messageMu sync.Mutex
	messageID int

	closeOnce sync.Once
}

// DialUDP connects to a server, acks so the server learns our address, and
// runs the client side of the handshake.
func DialUDP(ctx context.Context, addr string, opts *Options) (*UDPContext, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	c, err := NewUDPContext(conn, false, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// AcceptUDP waits on pc for a client's empty ack datagram, pins the context
// to that client and runs the server side of the handshake. Cancelling ctx
// aborts the wait. On success the context owns pc.
func AcceptUDP(ctx context.Context, pc net.PacketConn, opts *Options) (*UDPContext, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "AcceptUDP",
		"local":    pc.LocalAddr(),
	})

	stop := context.AfterFunc(ctx, func() { pc.SetReadDeadline(time.Now()) })

	var peer net.Addr
	buf := make([]byte, MaxDatagramSize)
	for peer == nil {
		n, addr, err := pc.ReadFrom(buf)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("failed to wait for ack: %w", err)
		}
		if n != 0 {
			logger.WithFields(logrus.Fields{
				"from": addr.String(),
				"size": n,
			}).Warn(ErrUnexpectedDatagram.Error())
			continue
		}
		peer = addr
	}
	stop()
	pc.SetReadDeadline(time.Time{})

	logger.WithField("peer", peer.String()).Debug("Received ack, starting handshake")
	return NewUDPContext(&peerConn{pc: pc, peer: peer}, true, opts)
}

// NewUDPContext authenticates conn. A client first sends its ack datagram.
// The session upgrade option is ignored; UDP always uses the private key.
func NewUDPContext(conn DatagramConn, isServer bool, opts *Options) (*UDPContext, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	logger := logrus.WithFields(logrus.Fields{
		"function":  "NewUDPContext",
		"is_server": isServer,
		"remote":    conn.RemoteAddr(),
	})

	if !isServer {
		if _, err := conn.Write(nil); err != nil {
			return nil, fmt.Errorf("failed to send ack: %w", err)
		}
	}

	if err := handshakePrivateKey(conn, opts.PrivateKey, opts.HandshakeTimeout); err != nil {
		logger.WithError(err).Warn("UDP handshake failed")
		return nil, err
	}

	c := &UDPContext{
		conn:     conn,
		isServer: isServer,
		opts:     *opts,
		key:      append([]byte(nil), opts.PrivateKey...),
		readBuf:  make([]byte, MaxDatagramSize),
		settings: opts.Network,
	}
	if opts.AudioNackBuffers > 0 {
		c.nackBuffers[PacketAudio] = newNackBuffer(opts.AudioNackBuffers, PacketAudio.MaxPackets())
	}
	if opts.VideoNackBuffers > 0 {
		c.nackBuffers[PacketVideo] = newNackBuffer(opts.VideoNackBuffers, PacketVideo.MaxPackets())
	}
	for i := range c.duplicates {
		c.duplicates[i].id = -1
	}

	logger.Info("UDP context established")
	return c, nil
}

// UpdateNetworkSettings replaces the fec ratios used by later sends.
func (c *UDPContext) UpdateNetworkSettings(settings NetworkSettings) error {
	if err := settings.validate(); err != nil {
		return err
	}
	c.settingsMu.Lock()
	c.settings = settings
	c.settingsMu.Unlock()
	return nil
}

// NetworkSettings returns the settings currently in effect.
func (c *UDPContext) NetworkSettings() NetworkSettings {
	c.settingsMu.RLock()
	defer c.settingsMu.RUnlock()
	return c.settings
}

// SendPacket splits payload into segments and sends each in its own
// datagram. Audio and video frames are kept in the nack buffer for
// retransmission, and are fec encoded when their ratio is positive.
// A failed datagram does not stop the remaining ones; the first error is
// returned after all were attempted.
func (c *UDPContext) SendPacket(packetType PacketType, payload []byte, id int) error {
	if !packetType.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPacketType, int32(packetType))
	}

	segments, err := c.segmentFrame(packetType, payload, id)
	if err != nil {
		return err
	}
	if nb := c.nackBuffers[packetType]; nb != nil {
		nb.store(id, segments)
	}

	var firstErr error
	for i := range segments {
		if err := c.sendSegment(&segments[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *UDPContext) segmentFrame(packetType PacketType, payload []byte, id int) ([]Segment, error) {
	maxPackets := packetType.MaxPackets()
	if nb := c.nackBuffers[packetType]; nb != nil {
		maxPackets = nb.maxIndices
	}

	var pieces [][]byte
	numFEC := 0
	ratio := c.NetworkSettings().FECRatio(packetType)

	if c.nackBuffers[packetType] != nil && ratio > 0 {
		numReal := fec.NumRealBuffers(len(payload), limits.MaxPayloadSize)
		numFEC = fec.NumFECPackets(numReal, ratio)
		if numReal+numFEC > maxPackets {
			return nil, fmt.Errorf("%w: %d bytes need %d+%d %v segments, limit %d",
				ErrPayloadTooLarge, len(payload), numReal, numFEC, packetType, maxPackets)
		}
		enc := fec.NewEncoder(numReal, numFEC, limits.MaxPayloadSize)
		enc.RegisterBuffer(payload)
		pieces = enc.EncodedBuffers()
	} else {
		numIndices := max(1, (len(payload)+limits.MaxPayloadSize-1)/limits.MaxPayloadSize)
		if numIndices > maxPackets {
			return nil, fmt.Errorf("%w: %d bytes need %d %v segments, limit %d",
				ErrPayloadTooLarge, len(payload), numIndices, packetType, maxPackets)
		}
		pieces = make([][]byte, numIndices)
		for i := range pieces {
			start := i * limits.MaxPayloadSize
			end := min(start+limits.MaxPayloadSize, len(payload))
			pieces[i] = append([]byte(nil), payload[start:end]...)
		}
	}

	prevDuplicates := c.startFrame(packetType, id)
	segments := make([]Segment, len(pieces))
	for i, piece := range pieces {
		segments[i] = Segment{
			Type:                   packetType,
			ID:                     id,
			Index:                  i,
			NumIndices:             len(pieces),
			NumFECIndices:          numFEC,
			PrevFrameNumDuplicates: prevDuplicates,
			Data:                   piece,
		}
	}
	return segments, nil
}

// startFrame rolls the duplicate counter over when id is a new frame and
// returns how many duplicates the previous frame received.
func (c *UDPContext) startFrame(packetType PacketType, id int) int {
	c.dupMu.Lock()
	defer c.dupMu.Unlock()

	d := &c.duplicates[packetType]
	if d.id != id {
		d.previous = d.current
		d.current = 0
		d.id = id
	}
	return min(d.previous, 0xffff)
}

func (c *UDPContext) sendSegment(seg *Segment) error {
	plaintext, err := seg.Encode()
	if err != nil {
		return err
	}
	datagram, err := sealEnvelope(plaintext, c.key)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	_, err = c.conn.Write(datagram)
	c.writeMu.Unlock()

	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "UDPContext.sendSegment",
			"type":     seg.Type.String(),
			"id":       seg.ID,
			"index":    seg.Index,
			"error":    err.Error(),
		}).Warn("Failed to send segment")
		if errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("%w: %v", ErrContextClosed, err)
		}
		return err
	}
	return nil
}

// Nack retransmits segment (id, index) from the nack buffer with is_a_nack set.
func (c *UDPContext) Nack(packetType PacketType, id, index int) error {
	if !packetType.Valid() || c.nackBuffers[packetType] == nil {
		return fmt.Errorf("%w: %v", ErrNoNackBuffer, packetType)
	}

	seg, ok := c.nackBuffers[packetType].lookup(id, index)
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "UDPContext.Nack",
			"type":     packetType.String(),
			"id":       id,
			"index":    index,
		}).Warn("Nacked segment is no longer buffered")
		return fmt.Errorf("%w: %v %d/%d", ErrNackedPacketMissing, packetType, id, index)
	}

	seg.IsANack = true
	return c.sendSegment(&seg)
}

// SendDuplicates resends every segment of frame id flagged as a duplicate.
func (c *UDPContext) SendDuplicates(packetType PacketType, id int) error {
	if !packetType.Valid() || c.nackBuffers[packetType] == nil {
		return fmt.Errorf("%w: %v", ErrNoNackBuffer, packetType)
	}

	segments, ok := c.nackBuffers[packetType].frame(id)
	if !ok {
		return fmt.Errorf("%w: %v %d", ErrNackedPacketMissing, packetType, id)
	}

	c.dupMu.Lock()
	if d := &c.duplicates[packetType]; d.id == id {
		d.current += len(segments)
	}
	c.dupMu.Unlock()

	var firstErr error
	for i := range segments {
		segments[i].IsADuplicate = true
		if err := c.sendSegment(&segments[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SendClientMessage sends a control message as a PacketMessage segment.
func (c *UDPContext) SendClientMessage(msg *ClientMessage) error {
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	if err := limits.ValidateMessageSize(payload, MaxClientMessageSize); err != nil {
		return fmt.Errorf("client message: %w", err)
	}
	c.messageMu.Lock()
	c.messageID++
	id := c.messageID
	c.messageMu.Unlock()
	return c.SendPacket(PacketMessage, payload, id)
}

// HandleClientMessage serves a client message on the server side: nacks
// are answered from the nack buffer and stream reset requests are passed
// to onStreamReset, which may be nil.
func (c *UDPContext) HandleClientMessage(msg *ClientMessage, onStreamReset func(PacketType, int)) error {
	switch msg.Type {
	case MessageNack, MessageBitArrayNack:
		var firstErr error
		for _, index := range msg.NackedIndices() {
			if err := c.Nack(msg.PacketType, msg.ID, index); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	case MessageStreamResetRequest:
		logrus.WithFields(logrus.Fields{
			"function":       "UDPContext.HandleClientMessage",
			"type":           msg.PacketType.String(),
			"last_failed_id": msg.LastFailedID,
		}).Info("Client requested a stream reset")
		if onStreamReset != nil {
			onStreamReset(msg.PacketType, msg.LastFailedID)
		}
		return nil
	default:
		return fmt.Errorf("%w: type %v", ErrMalformedClientMessage, msg.Type)
	}
}

// ReadPacket waits up to the receive timeout for one datagram. Acks,
// timeouts and datagrams that fail authentication yield (nil, nil).
// Authenticated segments with inconsistent metadata are logged and
// reported as ErrMalformedSegment. Datagrams are never buffered, so
// shouldRecv false returns immediately.
func (c *UDPContext) ReadPacket(shouldRecv bool) (*Segment, error) {
	if !shouldRecv {
		return nil, nil
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()

	if err := c.conn.SetReadDeadline(deadline(time.Now(), c.opts.ReceiveTimeout)); err != nil {
		return nil, c.classifyError(err)
	}
	n, err := c.conn.Read(c.readBuf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, nil
		}
		return nil, c.classifyError(err)
	}
	if n == 0 {
		return nil, nil
	}

	plaintext, err := openEnvelope(c.readBuf[:n], c.key)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "UDPContext.ReadPacket",
			"size":     n,
			"error":    err.Error(),
		}).Warn("Dropping datagram that failed to decrypt")
		return nil, nil
	}

	seg, err := DecodeSegment(plaintext)
	if err == nil {
		err = seg.Validate()
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "UDPContext.ReadPacket",
			"size":     len(plaintext),
			"error":    err.Error(),
		}).Error("Dropping malformed authenticated segment")
		if !errors.Is(err, ErrMalformedSegment) {
			err = fmt.Errorf("%w: %v", ErrMalformedSegment, err)
		}
		return nil, err
	}
	return seg, nil
}

func (c *UDPContext) classifyError(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrContextClosed, err)
	}
	return err
}

// Ack sends an empty datagram.
func (c *UDPContext) Ack() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.conn.Write(nil)
	return err
}

func (c *UDPContext) LocalAddr() net.Addr { return c.conn.LocalAddr() }
func (c *UDPContext) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close closes the socket.
func (c *UDPContext) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
