// Package transport provides authenticated, encrypted socket contexts for
// streaming audio, video and control messages between a Whist client and
// server.
//
// # Architecture
//
// Every connection is a SocketContext. The TCP variant carries whole
// WhistPackets over a byte stream; the UDP variant splits frames into
// Segments that fit in one datagram each:
//
//	type SocketContext interface {
//	    SendPacket(packetType PacketType, payload []byte, id int) error
//	    ReadPacket(shouldRecv bool) (*Segment, error)
//	    Ack() error
//	    LocalAddr() net.Addr
//	    RemoteAddr() net.Addr
//	    Close() error
//	}
//
// # Wire Format
//
// Each TCP frame and each UDP datagram is an envelope: 36 bytes of
// AESMetadata (GCM tag, IV, ciphertext length), an int32 payload_size and
// the AES-GCM ciphertext. All integers are little-endian. TCP frames decrypt
// to a TCPPacket (PING, PONG, RECONNECT or a WhistPacket); UDP datagrams
// decrypt to a Segment.
//
// # Handshake
//
// Before any packet flows both peers prove they hold the pre-shared private
// key. Each side sends a random IV, signs the IV it receives with a
// truncated HMAC-SHA256 and checks the signature returned for its own IV:
//
//	client, err := transport.DialTCP(ctx, "server:32263", opts)
//	server, err := transport.AcceptTCP(ctx, listener, opts)
//
// A UDP client first sends an empty ack datagram so the server learns its
// address:
//
//	client, err := transport.DialUDP(ctx, "server:32263", opts)
//	server, err := transport.AcceptUDP(ctx, packetConn, opts)
//
// TCP contexts can additionally run a noise NNpsk0 exchange (Options.SessionUpgrade)
// and switch to a key unique to the session.
//
// # Reliability
//
// UDP contexts keep recently sent audio and video frames in per-type nack
// buffers. A client asks for lost segments with ClientMessages sent as
// PacketMessage segments; the server answers them with HandleClientMessage,
// which resends the stored segments flagged as nacks. When a stream's fec
// ratio is positive, frames are Reed-Solomon encoded by package fec before
// segmentation.
//
// TCP clients call UpdatePing periodically. An unanswered ping older than
// Options.PingTimeout marks the connection lost, and the round trip of the
// last answered ping is exposed through Latency.
//
// # Timeouts
//
// Options.ReceiveTimeout governs ReadPacket: zero polls, a negative value
// blocks, a positive value waits at most that long. Tests inject a
// TimeProvider to drive ping liveness deterministically.
package transport
