package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/whistcore/crypto"
	"github.com/opd-ai/whistcore/netsim"
	"github.com/opd-ai/whistcore/receiver"
	"github.com/opd-ai/whistcore/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const audioFrameSize = 480

// loopbackResult summarizes one loopback session.
type loopbackResult struct {
	FramesSent     int
	VideoRendered  int
	AudioRendered  int
	FramesCorrupt  int
	LastRenderedID int
	Elapsed        time.Duration
	Latency        time.Duration

	Network       netsim.Stats
	NacksServed   int
	NacksFailed   int
	ResetRequests int
	Receiver      receiver.Statistics
}

// loopbackServer plays the server side: it answers nacks from its nack
// buffers and records stream reset requests.
type loopbackServer struct {
	udp   *transport.UDPContext
	tcp   *transport.TCPContext
	lossy *netsim.LossyPacketConn

	mu            sync.Mutex
	nacksServed   int
	nacksFailed   int
	resetRequests int
}

func (s *loopbackServer) serveUDP(ctx context.Context) {
	for ctx.Err() == nil {
		seg, err := s.udp.ReadPacket(true)
		if errors.Is(err, transport.ErrContextClosed) {
			return
		}
		if err != nil || seg == nil || seg.Type != transport.PacketMessage {
			continue
		}

		msg, err := transport.DecodeClientMessage(seg.Data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "loopbackServer.serveUDP",
				"error":    err.Error(),
			}).Warn("Dropping undecodable client message")
			continue
		}

		err = s.udp.HandleClientMessage(msg, func(packetType transport.PacketType, lastFailedID int) {
			s.mu.Lock()
			s.resetRequests++
			s.mu.Unlock()
		})
		if msg.Type == transport.MessageStreamResetRequest {
			continue
		}
		s.mu.Lock()
		if err != nil {
			s.nacksFailed++
		} else {
			s.nacksServed++
		}
		s.mu.Unlock()
	}
}

func (s *loopbackServer) serveTCP(ctx context.Context) {
	for ctx.Err() == nil {
		if _, err := s.tcp.ReadPacket(true); err != nil {
			return
		}
	}
}

func (s *loopbackServer) Close() {
	if s.udp != nil {
		s.udp.Close()
	}
	if s.tcp != nil {
		s.tcp.Close()
	}
}

// syntheticFrame builds a frame whose contents can be verified from its ID.
func syntheticFrame(id, size int) []byte {
	frame := make([]byte, size)
	binary.LittleEndian.PutUint32(frame, uint32(id))
	for i := 4; i < size; i++ {
		frame[i] = byte(id + i)
	}
	return frame
}

func verifyFrame(id int, data []byte) bool {
	return len(data) >= 4 && bytes.Equal(data, syntheticFrame(id, len(data)))
}

// connect starts the server side on loopback sockets and connects a receiver to it.
func connect(ctx context.Context, config *CLIConfig) (*loopbackServer, *receiver.Receiver, error) {
	key, err := crypto.DeriveKey([]byte(config.passphrase), []byte("whist-loopback"), "private key", crypto.KeySize)
	if err != nil {
		return nil, nil, err
	}
	settings := transport.NetworkSettings{
		Bitrate:       config.bitrate,
		BurstBitrate:  config.burstBitrate,
		VideoFECRatio: config.fecRatio,
	}

	serverOpts := transport.NewOptions()
	serverOpts.PrivateKey = key
	serverOpts.ReceiveTimeout = 5 * time.Millisecond
	serverOpts.Network = settings

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen udp: %w", err)
	}
	server := &loopbackServer{lossy: netsim.NewLossyPacketConn(pc, config.seed)}

	var ln net.Listener
	if config.useTCP {
		if ln, err = net.Listen("tcp", "127.0.0.1:0"); err != nil {
			pc.Close()
			return nil, nil, fmt.Errorf("failed to listen tcp: %w", err)
		}
		defer ln.Close()
	}

	acceptCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	g, gctx := errgroup.WithContext(acceptCtx)
	g.Go(func() error {
		udp, err := transport.AcceptUDP(gctx, server.lossy, serverOpts)
		server.udp = udp
		return err
	})
	if ln != nil {
		g.Go(func() error {
			tcp, err := transport.AcceptTCP(gctx, ln, serverOpts)
			server.tcp = tcp
			return err
		})
	}

	opts := receiver.NewOptions(pc.LocalAddr().String())
	opts.Transport.PrivateKey = key
	opts.Transport.Network = settings
	if ln != nil {
		opts.TCPAddress = ln.Addr().String()
	}
	r, dialErr := receiver.New(acceptCtx, opts)
	if dialErr != nil {
		cancel()
	}
	if err := g.Wait(); err != nil || dialErr != nil {
		if r != nil {
			r.Close()
		}
		server.Close()
		pc.Close()
		if dialErr != nil {
			return nil, nil, dialErr
		}
		return nil, nil, fmt.Errorf("server failed to accept: %w", err)
	}

	server.lossy.SetLossRate(config.loss)
	logrus.WithFields(logrus.Fields{
		"function": "connect",
		"udp":      pc.LocalAddr().String(),
		"tcp":      config.useTCP,
		"loss":     config.loss,
	}).Info("Loopback session established")
	return server, r, nil
}

// runLoopback streams config.frames synthetic frames and waits for the
// receiver to render them.
func runLoopback(ctx context.Context, config *CLIConfig) (*loopbackResult, error) {
	server, r, err := connect(ctx, config)
	if err != nil {
		return nil, err
	}
	defer server.Close()
	defer r.Close()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	go server.serveUDP(runCtx)
	if server.tcp != nil {
		go server.serveTCP(runCtx)
	}
	runDone := make(chan error, 1)
	go func() { runDone <- r.Run(runCtx) }()

	result := &loopbackResult{LastRenderedID: -1}
	renderDone := make(chan struct{})
	go func() {
		defer close(renderDone)
		render(runCtx, r, config.frames, result)
	}()

	start := time.Now()
	ticker := time.NewTicker(time.Second / time.Duration(config.fps))
	defer ticker.Stop()
	for id := 0; id < config.frames && runCtx.Err() == nil; id++ {
		if err := server.udp.SendPacket(transport.PacketVideo, syntheticFrame(id, config.frameSize), id); err != nil {
			return nil, fmt.Errorf("failed to send video frame %d: %w", id, err)
		}
		if err := server.udp.SendPacket(transport.PacketAudio, syntheticFrame(id, audioFrameSize), id); err != nil {
			return nil, fmt.Errorf("failed to send audio frame %d: %w", id, err)
		}
		result.FramesSent++
		select {
		case <-ticker.C:
		case <-runCtx.Done():
		}
	}

	select {
	case <-renderDone:
	case <-time.After(config.drainTimeout):
	case <-ctx.Done():
	}
	stop()
	<-renderDone
	if err := <-runDone; err != nil {
		return nil, err
	}

	result.Elapsed = time.Since(start)
	result.Latency = r.Latency()
	result.Network = server.lossy.Stats()
	result.Receiver = r.Statistics()
	server.mu.Lock()
	result.NacksServed = server.nacksServed
	result.NacksFailed = server.nacksFailed
	result.ResetRequests = server.resetRequests
	server.mu.Unlock()
	return result, nil
}

// render pulls frames until the last video frame has been rendered or ctx ends.
func render(ctx context.Context, r *receiver.Receiver, frames int, result *loopbackResult) {
	poll := time.NewTicker(time.Millisecond)
	defer poll.Stop()

	for result.LastRenderedID < frames-1 {
		select {
		case <-ctx.Done():
			return
		case <-r.Frames():
		case <-poll.C:
		}

		for {
			frame, err := r.RenderNext(transport.PacketVideo)
			if err != nil {
				break
			}
			result.VideoRendered++
			result.LastRenderedID = frame.ID
			if !verifyFrame(frame.ID, frame.Data) {
				result.FramesCorrupt++
				logrus.WithFields(logrus.Fields{
					"function": "render",
					"id":       frame.ID,
					"size":     len(frame.Data),
				}).Error("Rendered frame does not match what was sent")
			}
		}
		for {
			if _, err := r.RenderNext(transport.PacketAudio); err != nil {
				break
			}
			result.AudioRendered++
		}
	}
}

func printResult(w io.Writer, result *loopbackResult) {
	video := result.Receiver.Video
	audio := result.Receiver.Audio

	fmt.Fprintf(w, "Loopback session finished in %v\n", result.Elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "  frames sent:        %d\n", result.FramesSent)
	fmt.Fprintf(w, "  video rendered:     %d (last id %d, skipped %d, corrupt %d)\n",
		result.VideoRendered, result.LastRenderedID, video.FramesSkipped, result.FramesCorrupt)
	fmt.Fprintf(w, "  audio rendered:     %d (skipped %d)\n", result.AudioRendered, audio.FramesSkipped)
	fmt.Fprintf(w, "  datagrams:          %d sent, %d dropped\n", result.Network.Sent, result.Network.Dropped)
	fmt.Fprintf(w, "  nacks:              %d requested, %d served, %d failed\n",
		video.PacketsNacked+audio.PacketsNacked, result.NacksServed, result.NacksFailed)
	fmt.Fprintf(w, "  fec recoveries:     %d\n", video.FECRecoveries)
	fmt.Fprintf(w, "  duplicates:         %d\n", video.DuplicatePackets+audio.DuplicatePackets)
	fmt.Fprintf(w, "  stream resets:      %d requested, %d jumps\n", result.ResetRequests, result.Receiver.StreamResetJumps)
	fmt.Fprintf(w, "  ring buffer resets: %d\n", video.RingBufferResets+audio.RingBufferResets)
	fmt.Fprintf(w, "  round trip:         %v\n", result.Latency)
}
