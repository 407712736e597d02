package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrnet/pkg/config"
	"github.com/ryandielhenn/zephyrnet/pkg/connection"
	"github.com/ryandielhenn/zephyrnet/pkg/event"
)

// bench pushes events through a pair of in-process connections over a
// simulated lossy link and reports how many arrived and how much was resent.
func main() {
	n := flag.Int("n", 5000, "events to send")
	reliable := flag.Float64("reliable", 0.5, "fraction of events that are guaranteed")
	loss := flag.Float64("loss", 0.1, "probability a datagram is lost")
	valSize := flag.Int("val", 32, "payload size bytes")
	tick := flag.Duration("tick", 10*time.Millisecond, "simulated tick")
	seed := flag.Int64("seed", 1, "random seed")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	cfg := config.Default()
	cfg.TickInterval = *tick
	cfg.HeartbeatInterval = 4 * *tick
	cfg.DisconnectionTimeout = 1000 * *tick
	cfg.SendHandshakeInterval = *tick

	reg := event.NewRegistry[event.Message]()
	for id, guaranteed := range map[uint16]bool{1: true, 2: false} {
		if err := reg.Register(id, event.MessageConstructor(id, guaranteed)); err != nil {
			fmt.Fprintln(os.Stderr, "register:", err)
			os.Exit(1)
		}
	}

	rng := rand.New(rand.NewSource(*seed))
	now := time.Unix(0, 0)
	a := connection.New[event.Message](cfg, reg, connection.Options{Initiator: true, Logger: logger.Named("a")}, now)
	b := connection.New[event.Message](cfg, reg, connection.Options{Logger: logger.Named("b")}, now)

	sent := map[bool]int{}
	for i := 0; i < *n; i++ {
		g := rng.Float64() < *reliable
		ev := event.Message{Type: 2, Reliable: g, Data: make([]byte, *valSize)}
		if g {
			ev.Type = 1
		}
		rng.Read(ev.Data)
		if err := a.Queue(ev); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		sent[g]++
	}

	var datagrams, lost int
	pump := func(from, to *connection.Connection[event.Message]) {
		for {
			pkt, ok, err := from.Build(now)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			if !ok {
				return
			}
			datagrams++
			if rng.Float64() < *loss {
				lost++
				continue
			}
			_ = to.Receive(pkt, now)
		}
	}

	got := map[bool]int{}
	start := time.Now()
	ticks := 0
	for ; ticks < 100_000; ticks++ {
		pump(a, b)
		pump(b, a)
		for {
			ev, ok := b.Incoming()
			if !ok {
				break
			}
			got[ev.Reliable]++
		}
		if a.State() == connection.StateConnected && !a.Events().HasOutgoing() && a.Events().InFlight() == 0 {
			break
		}
		now = now.Add(*tick)
	}
	dur := time.Since(start)

	fmt.Printf("guaranteed: %d/%d delivered\n", got[true], sent[true])
	fmt.Printf("best-effort: %d/%d delivered\n", got[false], sent[false])
	fmt.Printf("datagrams: %d sent, %d lost, %d simulated ticks, rtt %s\n", datagrams, lost, ticks, a.RTT())
	fmt.Printf("completed in %s (%.2f events/s)\n", dur, float64(*n)/dur.Seconds())
}
