package connection

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrnet/pkg/config"
	"github.com/ryandielhenn/zephyrnet/pkg/event"
	"github.com/ryandielhenn/zephyrnet/pkg/packet"
)

// DefaultMTU keeps datagrams under the common 1500 byte Ethernet MTU once IP
// and UDP headers are added.
const DefaultMTU = 1200

var (
	// ErrUnsupportedSection is returned for a section this side cannot parse.
	// Sections carry no length, so the rest of the packet is dropped.
	ErrUnsupportedSection = errors.New("connection: unsupported section")
	ErrNotConnected       = errors.New("connection: not connected")
	ErrEventTooLarge      = errors.New("connection: event does not fit in a packet")
)

// State of the handshake.
type State uint8

const (
	StateHandshaking State = iota
	StateConnected
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Wire is an event that can travel over a Connection.
type Wire[T any] interface {
	event.Event[T]
	event.Encodable
}

type Options struct {
	// Initiator sends handshakes until the peer answers. The accepting side
	// leaves it false.
	Initiator bool
	// MTU bounds the size of built packets. Zero means DefaultMTU.
	MTU       int
	Logger    *zap.Logger
}

// Connection is one side of a link. Not safe for concurrent use.
type Connection[T Wire[T]] struct {
	cfg      config.Config
	mtu      int
	manifest event.Manifest[T]
	events   *event.Manager[T]
	acks     *AckTracker
	rtt      *RTT
	live     *Liveness
	log      *zap.Logger

	initiator     bool
	state         State
	lastHandshake time.Time
	// ackPending is set when the peer sent something that deserves a prompt
	// acknowledgment rather than waiting for the next heartbeat.
	ackPending    bool
}

func New[T Wire[T]](cfg config.Config, manifest event.Manifest[T], opts Options, now time.Time) *Connection[T] {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	mtu := opts.MTU
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &Connection[T]{
		cfg:       cfg,
		mtu:       mtu,
		manifest:  manifest,
		events:    event.NewManager[T](logger),
		acks:      NewAckTracker(),
		rtt:       NewRTT(cfg),
		live:      NewLiveness(cfg, now),
		log:       logger,
		initiator: opts.Initiator,
	}
}

func (c *Connection[T]) State() State { return c.state }

func (c *Connection[T]) RTT() time.Duration { return c.rtt.Value() }

func (c *Connection[T]) TimedOut(now time.Time) bool { return c.live.TimedOut(now) }

func (c *Connection[T]) LastHeard() time.Time { return c.live.LastHeard() }

// Events exposes the underlying event manager.
func (c *Connection[T]) Events() *event.Manager[T] { return c.events }

// Queue schedules ev for sending. Events are held until the handshake
// completes.
func (c *Connection[T]) Queue(ev T) error {
	if c.state == StateDisconnected {
		return ErrNotConnected
	}
	if n := len(ev.Payload()); n > event.MaxPayloadLen {
		return fmt.Errorf("type %d payload %d bytes: %w", ev.TypeID(), n, event.ErrPayloadTooLarge)
	}
	if event.RecordSize(ev) > c.budget() {
		return fmt.Errorf("type %d record %d bytes, budget %d: %w", ev.TypeID(), event.RecordSize(ev), c.budget(), ErrEventTooLarge)
	}
	c.events.QueueOutgoing(ev)
	return nil
}

// budget is the room left for event records in an empty data packet.
func (c *Connection[T]) budget() int {
	return c.mtu - HeaderSize - 1 - 1 // manager tag, event count
}

// Build returns the next datagram to send, or false when there is nothing
// to send right now. Call it until it returns false on every tick.
func (c *Connection[T]) Build(now time.Time) ([]byte, bool, error) {
	switch c.state {
	case StateDisconnected:
		return nil, false, nil
	case StateHandshaking:
		if c.initiator && (c.lastHandshake.IsZero() || now.Sub(c.lastHandshake) >= c.cfg.SendHandshakeInterval) {
			c.lastHandshake = now
			return c.control(KindHandshake, now), true, nil
		}
		return nil, false, nil
	}

	if c.events.HasOutgoing() {
		pkt, err := c.data(now)
		return pkt, err == nil, err
	}
	if c.ackPending || c.live.ShouldHeartbeat(now) {
		return c.control(KindHeartbeat, now), true, nil
	}
	return nil, false, nil
}

// Close returns a disconnect datagram for the peer and stops the connection.
func (c *Connection[T]) Close(now time.Time) []byte {
	pkt := c.control(KindDisconnect, now)
	c.state = StateDisconnected
	c.events.Clear()
	return pkt
}

func (c *Connection[T]) header(kind PacketKind, now time.Time) Header {
	ack, bits, ok := c.acks.Received()
	c.live.MarkSent(now)
	c.ackPending = false
	return Header{Kind: kind, Seq: c.acks.Next(now), HasAck: ok, Ack: ack, AckBits: bits}
}

func (c *Connection[T]) control(kind PacketKind, now time.Time) []byte {
	w := packet.NewWriter(HeaderSize)
	c.header(kind, now).write(w)
	return w.Bytes()
}

// data fills one packet with as many queued events as fit. An event that
// would overflow the packet goes back to the head of the queue.
func (c *Connection[T]) data(now time.Time) ([]byte, error) {
	h := c.header(KindData, now)
	w := packet.NewWriter(c.mtu)
	h.write(w)
	w.WriteU8(uint8(packet.ManagerEvent))

	room := c.budget()
	batch := make([]T, 0, 16)
	for len(batch) < event.MaxSectionEvents {
		ev, ok := c.events.PopOutgoing(h.Seq)
		if !ok {
			break
		}
		size := event.RecordSize(ev)
		if size > room {
			c.events.UnpopOutgoing(h.Seq, ev)
			break
		}
		room -= size
		batch = append(batch, ev)
	}

	if err := event.WriteSection(w, batch); err != nil {
		// Queue validates sizes, so this means a broken invariant; the
		// events are already recorded against h.Seq and will be resent when
		// the packet is reported dropped.
		return nil, fmt.Errorf("write event section: %w", err)
	}
	return w.Bytes(), nil
}

// Receive processes one datagram from the peer. Acknowledgments in the
// header are applied even if the body turns out to be malformed. A malformed
// body discards the whole packet, which is also left unacknowledged so the
// peer resends its guaranteed events.
func (c *Connection[T]) Receive(datagram []byte, now time.Time) error {
	if c.state == StateDisconnected {
		return ErrNotConnected
	}
	r := packet.NewReader(datagram)
	h, err := readHeader(r)
	if err != nil {
		return err
	}
	if !c.acks.Fresh(h.Seq) {
		c.log.Debug("ignoring duplicate packet", zap.Uint16("seq", h.Seq))
		return nil
	}
	c.live.MarkHeard(now)

	if h.HasAck {
		delivered, dropped := c.acks.Resolve(h.Ack, h.AckBits, now)
		for _, a := range delivered {
			c.rtt.Observe(a.RTT)
			c.events.NotifyPacketDelivered(a.Seq)
		}
		for _, seq := range dropped {
			c.events.NotifyPacketDropped(seq)
		}
	}

	if h.Kind == KindData {
		if err := checkSections(datagram[r.Position():]); err != nil {
			return err
		}
	}
	c.acks.Observe(h.Seq)

	switch h.Kind {
	case KindDisconnect:
		c.state = StateDisconnected
		c.events.Clear()
		return nil
	case KindHandshake:
		c.ackPending = true
	case KindData:
		c.ackPending = true
	}
	if c.state == StateHandshaking {
		c.state = StateConnected
		c.log.Debug("connection established", zap.Stringer("via", h.Kind))
	}

	if h.Kind != KindData {
		return nil
	}
	for r.Remaining() > 0 {
		r.ReadU8()
		if err := c.events.ProcessData(r, c.manifest); err != nil {
			return err
		}
	}
	return nil
}

// checkSections walks a data packet body without decoding it. Only event
// sections can be parsed here.
func checkSections(body []byte) error {
	r := packet.NewReader(body)
	for r.Remaining() > 0 {
		tag, _ := r.ReadU8()
		if mt := packet.ParseManagerType(tag); mt != packet.ManagerEvent {
			return fmt.Errorf("%w: %s", ErrUnsupportedSection, mt)
		}
		if err := event.SkipSection(r); err != nil {
			return err
		}
	}
	return nil
}

// Incoming pops the next event received from the peer. Delivery is
// at-least-once: a guaranteed event whose packet was reordered behind a newer
// acknowledgment is resent, so the same event can arrive twice.
func (c *Connection[T]) Incoming() (T, bool) { return c.events.PopIncoming() }
