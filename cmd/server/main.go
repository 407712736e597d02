package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrnet/discovery"
	"github.com/ryandielhenn/zephyrnet/internal/telemetry"
	"github.com/ryandielhenn/zephyrnet/pkg/config"
	"github.com/ryandielhenn/zephyrnet/pkg/event"
	"github.com/ryandielhenn/zephyrnet/pkg/node"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

// Demo event types every node understands.
const (
	TypeChat  uint16 = 1 // guaranteed
	TypeState uint16 = 2 // best-effort
)

type serverConfig struct {
	SelfID        string   `env:"SELF_ID"`
	SelfAddr      string   `env:"SELF_ADDR" envDefault:":9000"`
	AdvertiseAddr string   `env:"ADVERTISE_ADDR"`
	HTTPAddr      string   `env:"HTTP_ADDR" envDefault:":8080"`
	EtcdEndpoints []string `env:"ETCD_ENDPOINTS" envDefault:"http://etcd:2379" envSeparator:","`
	LeaseTTL      int64    `env:"LEASE_TTL" envDefault:"10"`
	Dev           bool     `env:"ZEPHYRNET_DEV"`
}

func main() {
	var sc serverConfig
	if err := env.Parse(&sc); err != nil {
		panic(err)
	}

	logger, err := newLogger(sc.Dev)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load protocol config", zap.Error(err))
	}
	if sc.SelfID == "" {
		sc.SelfID = uuid.NewString()
	}
	telemetry.SetBuildInfo(version, gitSHA)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Open the socket and the node on top of it
	pc, err := net.ListenPacket("udp", sc.SelfAddr)
	if err != nil {
		logger.Fatal("listen", zap.String("addr", sc.SelfAddr), zap.Error(err))
	}
	reg, err := manifest()
	if err != nil {
		logger.Fatal("event manifest", zap.Error(err))
	}
	n := node.NewNode(pc, cfg, reg, node.Options{ID: sc.SelfID, Logger: logger})

	// 2. Create etcd client
	logger.Info("creating etcd client", zap.Strings("endpoints", sc.EtcdEndpoints))
	cli, err := discovery.NewClient(sc.EtcdEndpoints)
	if err != nil {
		logger.Fatal("etcd client", zap.Error(err))
	}
	defer cli.Close()

	// 3. Bootstrap peers
	peers, err := bootstrapPeers(ctx, cli, logger)
	if err != nil {
		logger.Fatal("bootstrap peers", zap.Error(err))
	}
	syncPeers(n, sc.SelfID, peers, logger)

	// 4. Register this node
	advertise := sc.AdvertiseAddr
	if advertise == "" {
		advertise = node.NormalizeHostPort(sc.SelfID, portOf(pc.LocalAddr().String()))
	}
	logger.Info("registering with etcd", zap.String("id", sc.SelfID), zap.String("addr", advertise))
	leaseID, cancel, err := discovery.RegisterNode(cli, sc.SelfID, advertise, sc.LeaseTTL)
	if err != nil {
		logger.Fatal("register", zap.Error(err))
	}
	defer func() {
		cancel()
		_, _ = cli.Revoke(context.Background(), leaseID)
	}()

	// 5. Watch for updates about peers
	discovery.WatchPeers(ctx, cli, func(peers map[string]string) {
		syncPeers(n, sc.SelfID, peers, logger)
	})

	// 6. Wire up HTTP debug endpoints
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", n.Healthz)
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.Info)))
	mux.Handle("/metrics", telemetry.MetricsHandler())
	mux.Handle("/events", telemetry.Instrument("drain", http.HandlerFunc(n.Events)))
	mux.HandleFunc("/events/", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		telemetry.Instrument("emit", http.HandlerFunc(n.Emit)).ServeHTTP(w, req)
	})
	srv := &http.Server{Addr: sc.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("http listening", zap.String("addr", sc.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", zap.Error(err))
			stop()
		}
	}()

	logger.Info("zephyrnet node listening", zap.String("udp", n.Addr()), zap.String("id", sc.SelfID))
	if err := n.Run(ctx); err != nil {
		logger.Error("node stopped", zap.Error(err))
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func manifest() (*event.Registry[event.Message], error) {
	r := event.NewRegistry[event.Message]()
	if err := r.Register(TypeChat, event.MessageConstructor(TypeChat, true)); err != nil {
		return nil, err
	}
	if err := r.Register(TypeState, event.MessageConstructor(TypeState, false)); err != nil {
		return nil, err
	}
	return r, nil
}

// bootstrapPeers retries the initial listing while etcd comes up.
func bootstrapPeers(ctx context.Context, cli *clientv3.Client, logger *zap.Logger) (map[string]string, error) {
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second

	list := func() (map[string]string, error) {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return discovery.GetPeers(reqCtx, cli)
	}
	return backoff.Retry(ctx, list,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(10),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.Warn("listing peers failed, retrying", zap.Duration("in", next), zap.Error(err))
		}),
	)
}

// syncPeers connects to every registered peer that is not us. Peers that
// left are dropped by the disconnection timeout.
func syncPeers(n *node.Node, selfID string, peers map[string]string, logger *zap.Logger) {
	for id, addr := range peers {
		if id == selfID {
			continue
		}
		hp := node.NormalizeHostPort(addr, node.DefaultPort)
		if err := n.AddPeer(id, hp); err != nil {
			logger.Warn("add peer", zap.String("id", id), zap.String("addr", hp), zap.Error(err))
		}
	}
}

func portOf(hostport string) string {
	if i := strings.LastIndexByte(hostport, ':'); i >= 0 {
		return hostport[i+1:]
	}
	return node.DefaultPort
}
