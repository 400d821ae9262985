// Package whistcore is the client-side media transport core of Whist.
//
// A Whist client receives audio and video frames from a server over an
// encrypted UDP socket, reassembles them from segments, recovers losses
// with Reed-Solomon parity and NACKs, and asks the server for a fresh
// stream when recovery is no longer possible within the latency budget.
// A parallel TCP socket carries reliable packets and measures round-trip
// time with ping/pong.
//
// # Packages
//
// The module is split by concern:
//
//	limits      Wire size constants shared by every layer
//	crypto      AES-GCM packet protection, HMAC signatures, HKDF, logging helpers
//	noise       Optional Noise NNpsk0 session key upgrade
//	fec         FEC groups over github.com/klauspost/reedsolomon
//	transport   TCP and UDP socket contexts, handshake, framing, NACK buffers
//	ringbuffer  Frame reassembly and the NACK budget governor
//	receiver    Wires sockets and ring buffers into a frame pipeline
//	netsim      Lossy net.PacketConn for tests and the loopback tool
//
// # Getting Started
//
// Connect to a server and render frames as they become ready:
//
//	options := receiver.NewOptions("203.0.113.7:32263")
//	options.TCPAddress = "203.0.113.7:32273"
//	options.Transport.PrivateKey = key
//
//	r, err := receiver.New(ctx, options)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Close()
//
//	go r.Run(ctx)
//
//	for {
//	    frame, err := r.RenderNext(transport.PacketVideo)
//	    if errors.Is(err, receiver.ErrNoFrame) {
//	        time.Sleep(time.Millisecond)
//	        continue
//	    }
//	    decode(frame.Data)
//	}
//
// Frames are also pushed to r.Frames() as soon as they complete, in
// arrival order rather than render order.
//
// # Loss Recovery
//
// Each ring buffer runs a governor every RecoveryInterval. It NACKs missing
// segments within a token budget derived from the current bitrate, cycles
// through recovery passes once a newer frame has arrived, and requests a
// stream reset when the receiver falls too far behind or a frame goes
// stale. See package ringbuffer for the exact rules.
//
// # Logging
//
// All packages log through github.com/sirupsen/logrus with a "function"
// field. The whist-loopback command can route logs to a rotating file.
//
// # Testing
//
// cmd/whist-loopback runs a full server and client over localhost with
// configurable loss, which is the quickest way to see recovery at work:
//
//	whist-loopback --frames 300 --loss 0.05 --fec-ratio 0.2
package whistcore
