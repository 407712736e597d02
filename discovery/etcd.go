// Package discovery registers nodes in etcd and watches for peers.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Prefix is the etcd key prefix under which nodes register their address.
const Prefix = "/zephyrnet/nodes/"

func NewClient(endpoints []string) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
}

// RegisterNode publishes id -> addr under a lease of ttl seconds and keeps
// the lease alive until cancel is called.
func RegisterNode(cli *clientv3.Client, id, addr string, ttl int64) (clientv3.LeaseID, context.CancelFunc, error) {
	ctx, cancel := context.WithCancel(context.Background())

	lease, err := cli.Grant(ctx, ttl)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("grant lease: %w", err)
	}
	if _, err := cli.Put(ctx, NodeKey(id), addr, clientv3.WithLease(lease.ID)); err != nil {
		cancel()
		return 0, nil, fmt.Errorf("register %s: %w", id, err)
	}

	ch, err := cli.KeepAlive(ctx, lease.ID)
	if err != nil {
		cancel()
		return 0, nil, fmt.Errorf("keepalive: %w", err)
	}
	go func() {
		for range ch {
		}
	}()

	return lease.ID, cancel, nil
}

// GetPeers returns every registered node as id -> addr.
func GetPeers(ctx context.Context, cli *clientv3.Client) (map[string]string, error) {
	resp, err := cli.Get(ctx, Prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("list peers: %w", err)
	}
	peers := make(map[string]string, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if id, ok := NodeID(string(kv.Key)); ok {
			peers[id] = string(kv.Value)
		}
	}
	return peers, nil
}

// WatchPeers calls fn with the full peer set every time it changes, until ctx
// is done.
func WatchPeers(ctx context.Context, cli *clientv3.Client, fn func(peers map[string]string)) {
	go func() {
		for wresp := range cli.Watch(ctx, Prefix, clientv3.WithPrefix()) {
			if wresp.Err() != nil {
				continue
			}
			peers, err := GetPeers(ctx, cli)
			if err != nil {
				continue
			}
			fn(peers)
		}
	}()
}

func NodeKey(id string) string { return Prefix + id }

// NodeID extracts the node id from a registration key.
func NodeID(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, Prefix)
	return id, ok && id != ""
}
