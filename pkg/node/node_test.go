package node

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/ryandielhenn/zephyrnet/pkg/config"
	"github.com/ryandielhenn/zephyrnet/pkg/connection"
	"github.com/ryandielhenn/zephyrnet/pkg/event"
)

const (
	typeChat  uint16 = 1
	typeState uint16 = 2
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.TickInterval = 5 * time.Millisecond
	cfg.SendHandshakeInterval = 20 * time.Millisecond
	cfg.HeartbeatInterval = 20 * time.Millisecond
	cfg.DisconnectionTimeout = 2 * time.Second
	return cfg
}

func testRegistry(t *testing.T) *event.Registry[event.Message] {
	t.Helper()
	r := event.NewRegistry[event.Message]()
	if err := r.Register(typeChat, event.MessageConstructor(typeChat, true)); err != nil {
		t.Fatal(err)
	}
	if err := r.Register(typeState, event.MessageConstructor(typeState, false)); err != nil {
		t.Fatal(err)
	}
	return r
}

func listen(t *testing.T) net.PacketConn {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("udp loopback unavailable: %v", err)
	}
	return pc
}

// start runs a node until the test ends; the returned func stops it early.
func start(t *testing.T, id string, pc net.PacketConn, cfg config.Config) (*Node, func()) {
	t.Helper()
	n := NewNode(pc, cfg, testRegistry(t), Options{ID: id})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Run(%s): %v", id, err)
			}
		})
	}
	t.Cleanup(stop)
	return n, stop
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func connected(n *Node) bool {
	peers := n.Peers()
	return len(peers) == 1 && peers[0].State == connection.StateConnected.String()
}

func collect(n *Node, into *[]Delivery) func() bool {
	return func() bool {
		*into = append(*into, n.Drain()...)
		return len(*into) > 0
	}
}

// lossyConn swallows the first data datagram written through it.
type lossyConn struct {
	net.PacketConn
	mu      sync.Mutex
	dropped int
}

func (c *lossyConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	if kind, _ := connection.PeekKind(p); kind == connection.KindData && c.dropped == 0 {
		c.dropped++
		c.mu.Unlock()
		return len(p), nil
	}
	c.mu.Unlock()
	return c.PacketConn.WriteTo(p, addr)
}

func TestNodesExchangeEvents(t *testing.T) {
	cfg := testConfig()
	a, _ := start(t, "a", listen(t), cfg)
	b, _ := start(t, "b", listen(t), cfg)

	if err := a.AddPeer("b", b.Addr()); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	waitFor(t, "handshake", func() bool { return connected(a) && connected(b) })

	if err := a.Send("b", event.Message{Type: typeChat, Reliable: true, Data: []byte("hi")}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	var got []Delivery
	waitFor(t, "delivery", collect(b, &got))
	if len(got) != 1 || string(got[0].Event.Data) != "hi" || got[0].From != a.Addr() {
		t.Fatalf("b received %+v", got)
	}

	waitFor(t, "ack", func() bool { return a.Peers()[0].InFlight == 0 })
}

func TestNodeRetransmitsLostEvent(t *testing.T) {
	cfg := testConfig()
	lossy := &lossyConn{PacketConn: listen(t)}
	a, _ := start(t, "a", lossy, cfg)
	b, _ := start(t, "b", listen(t), cfg)

	a.AddPeer("b", b.Addr())
	waitFor(t, "handshake", func() bool { return connected(a) && connected(b) })

	a.Send(b.Addr(), event.Message{Type: typeChat, Reliable: true, Data: []byte("again")})

	var got []Delivery
	waitFor(t, "retransmission", collect(b, &got))
	if string(got[0].Event.Data) != "again" {
		t.Fatalf("b received %+v", got)
	}
	lossy.mu.Lock()
	defer lossy.mu.Unlock()
	if lossy.dropped != 1 {
		t.Fatalf("dropped %d datagrams, want 1", lossy.dropped)
	}
}

func TestPeerShutdownDisconnects(t *testing.T) {
	cfg := testConfig()
	a, _ := start(t, "a", listen(t), cfg)
	b, stopB := start(t, "b", listen(t), cfg)

	a.AddPeer("b", b.Addr())
	waitFor(t, "handshake", func() bool { return connected(a) })

	stopB()
	waitFor(t, "disconnect", func() bool { return len(a.Peers()) == 0 })
}

func TestSilentPeerTimesOut(t *testing.T) {
	cfg := testConfig()
	cfg.DisconnectionTimeout = 100 * time.Millisecond
	a, _ := start(t, "a", listen(t), cfg)

	// Bound but never read: handshakes go nowhere.
	silent := listen(t)
	defer silent.Close()

	a.AddPeer("ghost", silent.LocalAddr().String())
	if len(a.Peers()) != 1 {
		t.Fatal("peer not added")
	}
	waitFor(t, "timeout", func() bool { return len(a.Peers()) == 0 })
}

func TestSendUnknownPeer(t *testing.T) {
	n := NewNode(listen(t), testConfig(), testRegistry(t), Options{ID: "a"})
	defer n.pc.Close()
	if err := n.Send("127.0.0.1:1", event.Message{Type: typeChat}); err == nil {
		t.Fatal("Send to unknown peer succeeded")
	}
}

func TestNormalizeHostPort(t *testing.T) {
	cases := map[string]string{
		"node1":         "node1:9000",
		"node1:7000":    "node1:7000",
		"udp://node2":   "node2:9000",
		"udp://n3:1234": "n3:1234",
		"10.0.0.1":      "10.0.0.1:9000",
	}
	for in, want := range cases {
		if got := NormalizeHostPort(in, DefaultPort); got != want {
			t.Fatalf("NormalizeHostPort(%q) = %q, want %q", in, got, want)
		}
	}
}
