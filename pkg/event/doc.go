// Package event implements guaranteed and best-effort event delivery on top
// of a lossy packet transport.
//
// A Manager owns three pieces of state for one connection:
//
//   - the outgoing queue of events waiting for a packet,
//   - the incoming queue of events decoded from received packets,
//   - the sent ledger: for every in-flight packet index, the guaranteed events
//     that packet carried.
//
// The transport pops events while assembling a packet, tagging each pop with
// the packet's index. When it learns the packet's fate it calls
// NotifyPacketDelivered or NotifyPacketDropped; dropped guaranteed events go
// back on the queue, best-effort events are gone for good. Every index handed
// to PopOutgoing must eventually be resolved by one of those two calls, or by
// UnpopOutgoing if the packet is abandoned before it is sent. Unresolved
// indexes stay in the ledger for the life of the Manager.
//
// Typical usage:
//
//	m := event.NewManager[event.Message](logger)
//	m.QueueOutgoing(event.Message{Type: 7, Reliable: true, Data: payload})
//	for m.HasOutgoing() {
//		ev, _ := m.PopOutgoing(seq)
//		...
//	}
//
// A Manager is not safe for concurrent use.
package event
