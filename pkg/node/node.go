package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrnet/internal/telemetry"
	"github.com/ryandielhenn/zephyrnet/pkg/config"
	"github.com/ryandielhenn/zephyrnet/pkg/connection"
	"github.com/ryandielhenn/zephyrnet/pkg/event"
)

// maxDatagram is the largest UDP payload we will read.
const maxDatagram = 64 << 10

var ErrUnknownPeer = errors.New("node: unknown peer")

// Delivery is an event received from a peer.
type Delivery struct {
	From  string
	Event event.Message
}

type peer struct {
	id   string
	addr net.Addr
	conn *connection.Connection[event.Message]
}

// Node multiplexes one connection per remote address over a single packet
// socket.
type Node struct {
	id       string
	pc       net.PacketConn
	cfg      config.Config
	manifest event.Manifest[event.Message]
	mtu      int
	log      *zap.Logger
	now      func() time.Time

	mu    sync.Mutex
	peers map[string]*peer // by remote address
	inbox []Delivery
}

type Options struct {
	ID     string
	MTU    int
	Logger *zap.Logger
}

func NewNode(pc net.PacketConn, cfg config.Config, manifest event.Manifest[event.Message], opts Options) *Node {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Node{
		id:       opts.ID,
		pc:       pc,
		cfg:      cfg,
		manifest: manifest,
		mtu:      opts.MTU,
		log:      logger.With(zap.String("node", opts.ID)),
		now:      time.Now,
		peers:    make(map[string]*peer),
	}
}

func (n *Node) ID() string { return n.id }

// Addr is the local socket address.
func (n *Node) Addr() string { return n.pc.LocalAddr().String() }

// AddPeer starts a handshake with hostport. Adding a known peer is a no-op.
func (n *Node) AddPeer(id, hostport string) error {
	addr, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return fmt.Errorf("resolve peer %s: %w", hostport, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	key := addr.String()
	if _, ok := n.peers[key]; ok {
		return nil
	}
	p := n.newPeer(id, addr, true)
	n.flush(p, n.now())
	return nil
}

// RemovePeer says goodbye to the peer at hostport and forgets it.
func (n *Node) RemovePeer(hostport string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for key, p := range n.peers {
		if key == hostport || p.id == hostport {
			n.write(p, p.conn.Close(n.now()))
			n.dropPeer(key, "removed")
		}
	}
}

// ClearPeers disconnects every peer.
func (n *Node) ClearPeers() {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	for key, p := range n.peers {
		n.write(p, p.conn.Close(now))
		n.dropPeer(key, "cleared")
	}
}

// Send queues ev for the peer at hostport and sends what it can right away.
func (n *Node) Send(hostport string, ev event.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.lookup(hostport)
	if !ok {
		return fmt.Errorf("send to %s: %w", hostport, ErrUnknownPeer)
	}
	if err := p.conn.Queue(ev); err != nil {
		return fmt.Errorf("send to %s: %w", hostport, err)
	}
	n.flush(p, n.now())
	return nil
}

// Broadcast queues ev for every peer.
func (n *Node) Broadcast(ev event.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	now := n.now()
	var errs []error
	for _, p := range n.peers {
		if err := p.conn.Queue(ev); err != nil {
			errs = append(errs, fmt.Errorf("broadcast to %s: %w", p.addr, err))
			continue
		}
		n.flush(p, now)
	}
	return errors.Join(errs...)
}

// Drain returns and forgets every event received so far.
func (n *Node) Drain() []Delivery {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := n.inbox
	n.inbox = nil
	return out
}

// Run reads from the socket and drives timers until ctx is done. It closes
// the socket on return.
func (n *Node) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() { errc <- n.readLoop(ctx) }()

	ticker := time.NewTicker(n.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			n.ClearPeers()
			n.pc.Close()
			<-errc
			return nil
		case err := <-errc:
			n.pc.Close()
			return err
		case <-ticker.C:
			n.tick(n.now())
		}
	}
}

func (n *Node) readLoop(ctx context.Context) error {
	buf := make([]byte, maxDatagram)
	for {
		size, addr, err := n.pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		n.handle(buf[:size], addr, n.now())
	}
}

func (n *Node) handle(datagram []byte, addr net.Addr, now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	key := addr.String()
	p, ok := n.peers[key]
	if !ok {
		kind, err := connection.PeekKind(datagram)
		if err != nil || kind != connection.KindHandshake {
			n.log.Debug("ignoring datagram from unknown address", zap.String("addr", key))
			return
		}
		p = n.newPeer(key, addr, false)
	}

	if err := p.conn.Receive(datagram, now); err != nil {
		n.log.Warn("discarding packet", zap.String("peer", key), zap.Error(err))
	}
	for {
		ev, ok := p.conn.Incoming()
		if !ok {
			break
		}
		n.inbox = append(n.inbox, Delivery{From: key, Event: ev})
	}

	if p.conn.State() == connection.StateDisconnected {
		n.dropPeer(key, "peer disconnected")
		return
	}
	n.flush(p, now)
}

func (n *Node) tick(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for key, p := range n.peers {
		if p.conn.TimedOut(now) {
			n.dropPeer(key, "timed out")
			continue
		}
		n.flush(p, now)
	}
}

func (n *Node) newPeer(id string, addr net.Addr, initiator bool) *peer {
	p := &peer{
		id:   id,
		addr: addr,
		conn: connection.New(n.cfg, n.manifest, connection.Options{
			Initiator: initiator,
			MTU:       n.mtu,
			Logger:    n.log.With(zap.String("peer", addr.String())),
		}, n.now()),
	}
	n.peers[addr.String()] = p
	telemetry.Peers.Inc()
	n.log.Info("peer added", zap.String("peer", addr.String()), zap.Bool("initiator", initiator))
	return p
}

func (n *Node) dropPeer(key, reason string) {
	p, ok := n.peers[key]
	if !ok {
		return
	}
	p.conn.Events().Clear()
	delete(n.peers, key)
	telemetry.Peers.Dec()
	n.log.Info("peer dropped", zap.String("peer", key), zap.String("reason", reason))
}

func (n *Node) lookup(hostport string) (*peer, bool) {
	if p, ok := n.peers[hostport]; ok {
		return p, true
	}
	for _, p := range n.peers {
		if p.id == hostport {
			return p, true
		}
	}
	if addr, err := net.ResolveUDPAddr("udp", hostport); err == nil {
		p, ok := n.peers[addr.String()]
		return p, ok
	}
	return nil, false
}

func (n *Node) flush(p *peer, now time.Time) {
	for {
		pkt, ok, err := p.conn.Build(now)
		if err != nil {
			n.log.Error("building packet", zap.String("peer", p.addr.String()), zap.Error(err))
			continue
		}
		if !ok {
			return
		}
		n.write(p, pkt)
	}
}

func (n *Node) write(p *peer, pkt []byte) {
	if _, err := n.pc.WriteTo(pkt, p.addr); err != nil {
		n.log.Warn("write failed", zap.String("peer", p.addr.String()), zap.Error(err))
	}
}

// PeerInfo is a snapshot of one connection.
type PeerInfo struct {
	ID        string        `json:"id"`
	Addr      string        `json:"addr"`
	State     string        `json:"state"`
	RTT       time.Duration `json:"rtt_ns"`
	Queued    int           `json:"queued"`
	InFlight  int           `json:"in_flight"`
	LastHeard time.Time     `json:"last_heard"`
}

func (n *Node) Peers() []PeerInfo {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]PeerInfo, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, PeerInfo{
			ID:        p.id,
			Addr:      p.addr.String(),
			State:     p.conn.State().String(),
			RTT:       p.conn.RTT(),
			Queued:    p.conn.Events().OutgoingLen(),
			InFlight:  p.conn.Events().InFlight(),
			LastHeard: p.conn.LastHeard(),
		})
	}
	slices.SortFunc(out, func(a, b PeerInfo) int { return strings.Compare(a.Addr, b.Addr) })
	return out
}
