// Package netsim provides network impairment helpers for exercising the
// Whist transport end to end.
//
// LossyPacketConn wraps a net.PacketConn and drops outgoing datagrams at a
// configurable rate or on demand, so that nack recovery, fec and stream
// resets can be driven over real loopback sockets:
//
//	pc, _ := net.ListenPacket("udp", "127.0.0.1:0")
//	lossy := netsim.NewLossyPacketConn(pc, 1)
//	server, _ := transport.AcceptUDP(ctx, lossy, opts)
//	lossy.SetLossRate(0.05)
package netsim
