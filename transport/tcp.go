package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/opd-ai/whistcore/limits"
	"github.com/opd-ai/whistcore/noise"
	"github.com/sirupsen/logrus"
)

// tcpReadChunk is how many bytes one ReadPacket pulls off the socket.
const tcpReadChunk = 4096

// TCPContext is a SocketContext over a TCP stream. Frames are length
// delimited by the envelope header, so reads may split or merge frames.
type TCPContext struct {
	conn         net.Conn
	isServer     bool
	opts         Options
	timeProvider TimeProvider
	key          []byte

	writeMu sync.Mutex

	readMu  sync.Mutex
	parser  *frameParser
	readBuf []byte

	pingMu         sync.Mutex
	lastPingID     int
	lastPongID     int
	lastPingTime   time.Time
	latency        time.Duration
	connectionLost bool

	closeOnce sync.Once
}

// DialTCP connects to addr and runs the client side of the handshake.
func DialTCP(ctx context.Context, addr string, opts *Options) (*TCPContext, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	c, err := NewTCPContext(conn, false, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// AcceptTCP waits for one connection on ln and runs the server side of the
// handshake. Cancelling ctx aborts the wait.
func AcceptTCP(ctx context.Context, ln net.Listener, opts *Options) (*TCPContext, error) {
	type deadliner interface {
		SetDeadline(t time.Time) error
	}
	if dl, ok := ln.(deadliner); ok {
		stop := context.AfterFunc(ctx, func() { dl.SetDeadline(time.Now()) })
		defer func() {
			stop()
			dl.SetDeadline(time.Time{})
		}()
	}

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("failed to accept: %w", err)
	}

	c, err := NewTCPContext(conn, true, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

// NewTCPContext authenticates an established connection. The caller keeps
// ownership of conn if an error is returned.
//
// Parameters:
//   - conn: The connected stream
//   - isServer: Selects the responder role for the session upgrade
//   - opts: Key, timeouts and liveness settings
//
// Returns:
//   - *TCPContext: The ready context
//   - error: Invalid options, ErrHandshakeFailed or a session upgrade failure
func NewTCPContext(conn net.Conn, isServer bool, opts *Options) (*TCPContext, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	logger := logrus.WithFields(logrus.Fields{
		"function":  "NewTCPContext",
		"is_server": isServer,
		"remote":    conn.RemoteAddr(),
	})

	if err := handshakePrivateKey(conn, opts.PrivateKey, opts.HandshakeTimeout); err != nil {
		logger.WithError(err).Warn("TCP handshake failed")
		return nil, err
	}

	key := append([]byte(nil), opts.PrivateKey...)
	if opts.SessionUpgrade {
		role := noise.Initiator
		if isServer {
			role = noise.Responder
		}
		if err := conn.SetDeadline(time.Now().Add(opts.HandshakeTimeout)); err != nil {
			return nil, err
		}
		sessionKey, err := noise.Upgrade(conn, opts.PrivateKey, role)
		conn.SetDeadline(time.Time{})
		if err != nil {
			logger.WithError(err).Warn("Session key upgrade failed")
			return nil, fmt.Errorf("session upgrade: %w", err)
		}
		key = sessionKey
	}

	logger.WithField("session_upgrade", opts.SessionUpgrade).Info("TCP context established")

	return &TCPContext{
		conn:         conn,
		isServer:     isServer,
		opts:         *opts,
		timeProvider: TimeProviderOrDefault(opts.TimeProvider),
		key:          key,
		parser:       newFrameParser(key),
		readBuf:      make([]byte, tcpReadChunk),
	}, nil
}

// SendPacket sends payload as a single WhistPacket. Frames over TCP are
// never split, so index is 0 and num_indices is 1.
func (c *TCPContext) SendPacket(packetType PacketType, payload []byte, id int) error {
	if !packetType.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidPacketType, int32(packetType))
	}
	if len(payload) > limits.MaxTCPPayloadSize-WhistPacketHeaderSize-4 {
		return fmt.Errorf("%w: %d bytes over tcp", ErrPayloadTooLarge, len(payload))
	}
	return c.sendTCPPacket(&TCPPacket{
		Type: TCPWhistPacket,
		Packet: &WhistPacket{
			Type:       packetType,
			ID:         id,
			Index:      0,
			NumIndices: 1,
			Data:       payload,
		},
	})
}

func (c *TCPContext) sendTCPPacket(pkt *TCPPacket) error {
	plaintext, err := pkt.Encode()
	if err != nil {
		return err
	}
	frame, err := sealEnvelope(plaintext, c.key)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	if _, err := c.conn.Write(frame); err != nil {
		return c.classifyError(err)
	}
	return nil
}

// ReadPacket reads at most one chunk from the socket, then parses buffered
// frames. Pings are answered and pongs recorded internally; the first
// WhistPacket found is returned as a segment.
func (c *TCPContext) ReadPacket(shouldRecv bool) (*Segment, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if shouldRecv {
		if err := c.fill(); err != nil {
			return nil, err
		}
	}

	for plaintext := range c.parser.Frames() {
		pkt, err := DecodeTCPPacket(plaintext)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "TCPContext.ReadPacket",
				"error":    err.Error(),
			}).Warn("Dropping undecodable TCP packet")
			continue
		}

		switch pkt.Type {
		case TCPPing:
			if err := c.sendTCPPacket(&TCPPacket{Type: TCPPong, PingID: pkt.PingID}); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "TCPContext.ReadPacket",
					"ping_id":  pkt.PingID,
					"error":    err.Error(),
				}).Warn("Failed to answer ping")
			}
		case TCPPong:
			c.receivePong(pkt.PingID)
		case TCPReconnect:
			c.markLost("peer requested reconnect")
		case TCPWhistPacket:
			return pkt.Packet.Segment(), nil
		}
	}
	return nil, nil
}

func (c *TCPContext) fill() error {
	if err := c.conn.SetReadDeadline(deadline(time.Now(), c.opts.ReceiveTimeout)); err != nil {
		return c.classifyError(err)
	}
	n, err := c.conn.Read(c.readBuf)
	if n > 0 {
		c.parser.Write(c.readBuf[:n])
	}
	if err == nil || errors.Is(err, os.ErrDeadlineExceeded) {
		return nil
	}
	return c.classifyError(err)
}

func (c *TCPContext) classifyError(err error) error {
	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrContextClosed, err)
	}
	c.markLost(err.Error())
	return fmt.Errorf("%w: %v", ErrConnectionLost, err)
}

// UpdatePing drives client liveness. Once the previous ping has been
// answered a new one is sent every PingInterval; a ping left unanswered
// for PingTimeout marks the connection lost. Servers only answer pings.
func (c *TCPContext) UpdatePing() error {
	if c.isServer {
		return nil
	}

	c.pingMu.Lock()
	if c.connectionLost {
		c.pingMu.Unlock()
		return ErrConnectionLost
	}

	now := c.timeProvider.Now()
	waiting := c.lastPingID != c.lastPongID
	if waiting {
		if now.Sub(c.lastPingTime) > c.opts.PingTimeout {
			c.pingMu.Unlock()
			c.markLost("ping timed out")
			return ErrConnectionLost
		}
		c.pingMu.Unlock()
		return nil
	}
	if !c.lastPingTime.IsZero() && now.Sub(c.lastPingTime) < c.opts.PingInterval {
		c.pingMu.Unlock()
		return nil
	}

	c.lastPingID++
	c.lastPingTime = now
	id := c.lastPingID
	c.pingMu.Unlock()

	return c.sendTCPPacket(&TCPPacket{Type: TCPPing, PingID: id})
}

func (c *TCPContext) receivePong(id int) {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()

	if id != c.lastPingID {
		logrus.WithFields(logrus.Fields{
			"function":     "TCPContext.receivePong",
			"pong_id":      id,
			"last_ping_id": c.lastPingID,
		}).Debug("Ignoring stale pong")
		return
	}
	c.lastPongID = id
	c.latency = c.timeProvider.Now().Sub(c.lastPingTime)
}

func (c *TCPContext) markLost(reason string) {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	if c.connectionLost {
		return
	}
	c.connectionLost = true
	logrus.WithFields(logrus.Fields{
		"function": "TCPContext.markLost",
		"remote":   c.conn.RemoteAddr(),
		"reason":   reason,
	}).Warn("TCP connection lost")
}

// IsConnectionLost reports whether liveness checks have failed.
func (c *TCPContext) IsConnectionLost() bool {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	return c.connectionLost
}

// Latency returns the round trip time of the last answered ping.
func (c *TCPContext) Latency() time.Duration {
	c.pingMu.Lock()
	defer c.pingMu.Unlock()
	return c.latency
}

// SessionKey returns the key protecting this connection. It differs from
// the private key only when the session upgrade ran.
func (c *TCPContext) SessionKey() []byte {
	return append([]byte(nil), c.key...)
}

// Ack is a no-op on TCP; the stream itself keeps the connection open.
func (c *TCPContext) Ack() error {
	return nil
}

func (c *TCPContext) LocalAddr() net.Addr { return c.conn.LocalAddr() }
func (c *TCPContext) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// Close closes the underlying connection.
func (c *TCPContext) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}
