// Package receiver is the client side of a Whist media session.
//
// A Receiver owns the UDP media connection, an optional TCP control
// connection and one ring buffer each for audio and video. Run reads
// segments into the ring buffers and periodically lets them nack missing
// packets or request a stream reset; nacks and reset requests travel to
// the server as client messages over UDP. The renderer pulls frames in
// order with RenderNext, or watches Frames for arrivals:
//
//	opts := receiver.NewOptions("203.0.113.7:32263")
//	opts.TCPAddress = "203.0.113.7:32273"
//	opts.Transport.PrivateKey = key
//	r, err := receiver.New(ctx, opts)
//	if err != nil {
//	    return err
//	}
//	defer r.Close()
//	go r.Run(ctx)
//	for f := range r.Frames() {
//	    if frame, err := r.RenderNext(f.Type); err == nil {
//	        decode(frame.Data)
//	    }
//	}
package receiver
