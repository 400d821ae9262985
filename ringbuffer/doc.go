// Package ringbuffer reassembles audio and video frames from the segments
// delivered by a transport.SocketContext.
//
// A RingBuffer holds a fixed number of frame slots; frame id lives in slot
// id mod size. Each slot tracks which segment indices have arrived, copies
// segment payloads to their place in a pooled frame buffer and, for frames
// sent with forward error correction, feeds them to an fec.Decoder so the
// frame becomes renderable as soon as any sufficient subset has arrived.
//
// Frame lifecycle:
//
//	empty -> receiving (normal) -> receiving (recovery) -> ready -> rendering -> freed
//
// The network goroutine drives ReceiveSegment and calls
// TryRecoveringMissingPacketsOrFrames periodically. The latter is the nack
// governor: it requests missing segments within a burst and an average
// bandwidth budget and escalates to a stream reset when the renderer falls
// too far behind. A render goroutine uses IsReadyToRender and SetRendering.
// All public methods are safe for concurrent use; callbacks are invoked
// without the ring buffer's lock held.
//
// Example:
//
//	opts := ringbuffer.NewOptions(transport.PacketVideo)
//	opts.OnNack = func(t transport.PacketType, id, index int) { udp.SendClientMessage(transport.NackMessage(t, id, index)) }
//	rb, err := ringbuffer.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	rb.ReceiveSegment(seg)
//	rb.TryRecoveringMissingPacketsOrFrames(rtt, udp.NetworkSettings())
package ringbuffer
