package event

import (
	"container/list"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrnet/internal/telemetry"
)

// Manager tracks outgoing, in-flight and incoming events for one connection.
type Manager[T Event[T]] struct {
	outgoing *list.List // of T
	incoming *list.List // of T
	sent     map[uint16][]T
	log      *zap.Logger
}

// NewManager returns an empty Manager. A nil logger disables logging.
func NewManager[T Event[T]](logger *zap.Logger) *Manager[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager[T]{
		outgoing: list.New(),
		incoming: list.New(),
		sent:     make(map[uint16][]T),
		log:      logger,
	}
}

// QueueOutgoing appends a copy of ev to the back of the outgoing queue.
func (m *Manager[T]) QueueOutgoing(ev T) {
	m.outgoing.PushBack(ev.Clone())
	telemetry.EventsQueued.WithLabelValues(telemetry.DeliveryClass(ev.IsGuaranteed())).Inc()
}

func (m *Manager[T]) HasOutgoing() bool { return m.outgoing.Len() != 0 }

func (m *Manager[T]) OutgoingLen() int { return m.outgoing.Len() }

// PopOutgoing removes the event at the front of the outgoing queue. A
// guaranteed event is recorded against packetIndex until the packet is
// resolved.
func (m *Manager[T]) PopOutgoing(packetIndex uint16) (T, bool) {
	front := m.outgoing.Front()
	if front == nil {
		var zero T
		return zero, false
	}
	ev := m.outgoing.Remove(front).(T)

	if ev.IsGuaranteed() {
		recorded, ok := m.sent[packetIndex]
		if !ok {
			telemetry.LedgerPackets.Inc()
		}
		m.sent[packetIndex] = append(recorded, ev.Clone())
	}
	return ev, true
}

// UnpopOutgoing undoes the most recent PopOutgoing for packetIndex and puts a
// copy of ev back at the front of the queue.
//
// The ledger entry that is removed is the last one recorded for packetIndex;
// it is not compared with ev. Callers must only unpop the event they just
// popped for the same index.
func (m *Manager[T]) UnpopOutgoing(packetIndex uint16, ev T) {
	if ev.IsGuaranteed() {
		if recorded, ok := m.sent[packetIndex]; ok {
			var zero T
			recorded[len(recorded)-1] = zero
			recorded = recorded[:len(recorded)-1]
			if len(recorded) == 0 {
				delete(m.sent, packetIndex)
				telemetry.LedgerPackets.Dec()
			} else {
				m.sent[packetIndex] = recorded
			}
		}
	}
	m.outgoing.PushFront(ev.Clone())
}

// NotifyPacketDelivered forgets the guaranteed events carried by packetIndex.
// Unknown indexes are ignored.
func (m *Manager[T]) NotifyPacketDelivered(packetIndex uint16) {
	if _, ok := m.sent[packetIndex]; !ok {
		return
	}
	delete(m.sent, packetIndex)
	telemetry.LedgerPackets.Dec()
	telemetry.PacketsResolved.WithLabelValues(telemetry.OutcomeDelivered).Inc()
}

// NotifyPacketDropped requeues the guaranteed events carried by packetIndex at
// the back of the outgoing queue, behind anything already waiting. Unknown
// indexes are ignored.
func (m *Manager[T]) NotifyPacketDropped(packetIndex uint16) {
	recorded, ok := m.sent[packetIndex]
	if !ok {
		return
	}
	for _, ev := range recorded {
		m.outgoing.PushBack(ev.Clone())
	}
	delete(m.sent, packetIndex)

	telemetry.LedgerPackets.Dec()
	telemetry.PacketsResolved.WithLabelValues(telemetry.OutcomeDropped).Inc()
	telemetry.EventsRetransmitted.Add(float64(len(recorded)))
	m.log.Debug("requeued events from dropped packet",
		zap.Uint16("packet_index", packetIndex),
		zap.Int("events", len(recorded)))
}

// InFlight returns the number of packet indexes with unresolved guaranteed
// events.
func (m *Manager[T]) InFlight() int { return len(m.sent) }

// Pending returns how many guaranteed events are recorded against packetIndex.
func (m *Manager[T]) Pending(packetIndex uint16) int { return len(m.sent[packetIndex]) }

func (m *Manager[T]) HasIncoming() bool { return m.incoming.Len() != 0 }

func (m *Manager[T]) IncomingLen() int { return m.incoming.Len() }

// PopIncoming removes the oldest decoded event.
func (m *Manager[T]) PopIncoming() (T, bool) {
	front := m.incoming.Front()
	if front == nil {
		var zero T
		return zero, false
	}
	return m.incoming.Remove(front).(T), true
}

// Clear drops all queued and in-flight state, e.g. when the connection that
// owns the Manager is torn down.
func (m *Manager[T]) Clear() {
	telemetry.LedgerPackets.Sub(float64(len(m.sent)))
	m.outgoing.Init()
	m.incoming.Init()
	clear(m.sent)
}
