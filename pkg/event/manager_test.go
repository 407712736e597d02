package event

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func guaranteed(id uint16, data ...byte) Message {
	return Message{Type: id, Reliable: true, Data: data}
}

func bestEffort(id uint16, data ...byte) Message {
	return Message{Type: id, Data: data}
}

func drain(m *Manager[Message], idx uint16) []Message {
	var out []Message
	for m.HasOutgoing() {
		ev, _ := m.PopOutgoing(idx)
		out = append(out, ev)
	}
	return out
}

func TestFreshManagerIsEmpty(t *testing.T) {
	m := NewManager[Message](nil)

	require.False(t, m.HasOutgoing())
	require.False(t, m.HasIncoming())

	_, ok := m.PopOutgoing(1)
	require.False(t, ok)
	_, ok = m.PopIncoming()
	require.False(t, ok)
	require.Zero(t, m.InFlight())
}

func TestQueueOutgoingCopiesEvent(t *testing.T) {
	m := NewManager[Message](nil)
	ev := guaranteed(1, 0x01)
	m.QueueOutgoing(ev)
	ev.Data[0] = 0xFF

	got, ok := m.PopOutgoing(10)
	require.True(t, ok)
	require.Equal(t, []byte{0x01}, got.Data)
}

func TestPopOutgoingFIFOAndLedger(t *testing.T) {
	m := NewManager[Message](nil)
	m.QueueOutgoing(guaranteed(1))
	m.QueueOutgoing(bestEffort(2))
	m.QueueOutgoing(guaranteed(3))

	e1, _ := m.PopOutgoing(5)
	e2, _ := m.PopOutgoing(5)
	e3, _ := m.PopOutgoing(6)

	require.Equal(t, []uint16{1, 2, 3}, []uint16{e1.Type, e2.Type, e3.Type})
	require.Equal(t, 1, m.Pending(5), "best-effort events are never recorded")
	require.Equal(t, 1, m.Pending(6))
	require.Equal(t, 2, m.InFlight())
}

func TestDroppedGuaranteedEventIsRequeuedOnce(t *testing.T) {
	m := NewManager[Message](nil)
	m.QueueOutgoing(guaranteed(7, 0xAA))

	_, ok := m.PopOutgoing(1)
	require.True(t, ok)
	require.False(t, m.HasOutgoing())

	m.NotifyPacketDropped(1)
	got := drain(m, 2)
	require.Len(t, got, 1)
	require.Equal(t, guaranteed(7, 0xAA), got[0])

	// The retransmission is now in flight on packet 2 only.
	require.Zero(t, m.Pending(1))
	require.Equal(t, 1, m.Pending(2))
}

func TestDroppedEventsGoBehindQueuedOnes(t *testing.T) {
	m := NewManager[Message](nil)
	m.QueueOutgoing(guaranteed(1))
	m.PopOutgoing(1)
	m.QueueOutgoing(guaranteed(2))

	m.NotifyPacketDropped(1)

	got := drain(m, 2)
	require.Equal(t, uint16(2), got[0].Type)
	require.Equal(t, uint16(1), got[1].Type)
}

func TestDeliveryIsFinal(t *testing.T) {
	m := NewManager[Message](nil)
	m.QueueOutgoing(guaranteed(1))
	m.PopOutgoing(9)

	m.NotifyPacketDelivered(9)
	m.NotifyPacketDropped(9)

	require.False(t, m.HasOutgoing())
	require.Zero(t, m.InFlight())
}

func TestBestEffortIsNeverRetried(t *testing.T) {
	m := NewManager[Message](nil)
	m.QueueOutgoing(bestEffort(4))
	m.PopOutgoing(3)

	m.NotifyPacketDropped(3)

	require.False(t, m.HasOutgoing())
	require.Zero(t, m.InFlight())
}

func TestUnpopRestoresOrder(t *testing.T) {
	for _, tc := range []struct {
		name        string
		e1, e2      Message
		wantPending int
	}{
		{"both guaranteed", guaranteed(1), guaranteed(2), 1},
		{"second best-effort", guaranteed(1), bestEffort(2), 1},
		{"first best-effort", bestEffort(1), guaranteed(2), 0},
		{"both best-effort", bestEffort(1), bestEffort(2), 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager[Message](nil)
			m.QueueOutgoing(tc.e1)
			m.QueueOutgoing(tc.e2)
			m.QueueOutgoing(guaranteed(3))

			m.PopOutgoing(4)
			e2, _ := m.PopOutgoing(4)
			m.UnpopOutgoing(4, e2)

			require.Equal(t, tc.wantPending, m.Pending(4))
			if tc.wantPending == 0 {
				require.Zero(t, m.InFlight(), "empty ledger entries are removed")
			}

			next, ok := m.PopOutgoing(5)
			require.True(t, ok)
			require.Equal(t, tc.e2, next)

			last, _ := m.PopOutgoing(5)
			require.Equal(t, uint16(3), last.Type)
		})
	}
}

func TestUnpopThenDropDoesNotDuplicate(t *testing.T) {
	m := NewManager[Message](nil)
	m.QueueOutgoing(guaranteed(1))

	ev, _ := m.PopOutgoing(1)
	m.UnpopOutgoing(1, ev)
	m.NotifyPacketDropped(1)

	require.Len(t, drain(m, 2), 1)
}

func TestNotificationsAreIdempotent(t *testing.T) {
	setup := func() *Manager[Message] {
		m := NewManager[Message](nil)
		m.QueueOutgoing(guaranteed(1))
		m.QueueOutgoing(guaranteed(2))
		m.PopOutgoing(1)
		m.PopOutgoing(2)
		return m
	}

	once, twice := setup(), setup()
	once.NotifyPacketDropped(1)
	twice.NotifyPacketDropped(1)
	twice.NotifyPacketDropped(1)
	require.Equal(t, once.OutgoingLen(), twice.OutgoingLen())
	require.Equal(t, once.InFlight(), twice.InFlight())

	once.NotifyPacketDelivered(2)
	twice.NotifyPacketDelivered(2)
	twice.NotifyPacketDelivered(2)
	require.Equal(t, once.InFlight(), twice.InFlight())
	require.Zero(t, twice.InFlight())

	// Never-used indexes are no-ops too.
	twice.NotifyPacketDelivered(999)
	twice.NotifyPacketDropped(999)
	require.Equal(t, 1, twice.OutgoingLen())
}

func TestEveryUnconfirmedGuaranteedEventIsTracked(t *testing.T) {
	m := NewManager[Message](nil)
	for i := range 10 {
		m.QueueOutgoing(Message{Type: uint16(i), Reliable: i%2 == 0})
	}

	// Three packets of up to four events each; packet 1 is delivered,
	// packet 2 dropped, packet 3 still in flight.
	for idx := uint16(1); idx <= 3; idx++ {
		for range 4 {
			m.PopOutgoing(idx)
		}
	}
	m.NotifyPacketDelivered(1)
	m.NotifyPacketDropped(2)

	inFlight := m.Pending(3)
	queued := 0
	for _, ev := range drain(m, 4) {
		require.True(t, ev.Reliable)
		queued++
	}
	// Guaranteed ids 0,2 rode packet 1; 4,6 packet 2; 8 packet 3.
	require.Equal(t, 1, inFlight)
	require.Equal(t, 2, queued)
}

func TestPopIncomingFIFO(t *testing.T) {
	m := NewManager[Message](nil)
	m.incoming.PushBack(bestEffort(1))
	m.incoming.PushBack(bestEffort(2))

	require.True(t, m.HasIncoming())
	require.Equal(t, 2, m.IncomingLen())
	a, _ := m.PopIncoming()
	b, _ := m.PopIncoming()
	require.Equal(t, uint16(1), a.Type)
	require.Equal(t, uint16(2), b.Type)
	require.False(t, m.HasIncoming())
}

func TestClear(t *testing.T) {
	m := NewManager[Message](nil)
	m.QueueOutgoing(guaranteed(1))
	m.QueueOutgoing(guaranteed(2))
	m.PopOutgoing(1)

	m.Clear()

	require.False(t, m.HasOutgoing())
	require.Zero(t, m.InFlight())
	m.NotifyPacketDropped(1)
	require.False(t, m.HasOutgoing())
}
