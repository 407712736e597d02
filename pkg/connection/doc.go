// Package connection runs one peer-to-peer link over a datagram transport.
// It stamps every outgoing packet with a sequence number and piggybacks
// acknowledgments for the packets it has received, turns the acknowledgments
// it gets back into delivered/dropped notifications for the event Manager,
// keeps a smoothed RTT estimate, and decides when a peer has gone quiet.
//
// Typical usage:
//
//	c := connection.New(cfg, manifest, connection.Options{Initiator: true})
//	for {
//		pkt, ok, err := c.Build(now)
//		if !ok { break }
//		transport.WriteTo(pkt, addr)
//	}
//	...
//	err := c.Receive(datagram, now)
//
// The package does no I/O; the caller owns the socket and the clock.
package connection
