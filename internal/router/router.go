// Package router owns the physical side of dispatch: per-node RPC
// connections, the partition-table snapshot, and topology refresh. The
// façade talks to it through the gridcache.Router boundary and never
// touches connections directly.
package router

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/buraksezer/consistent"
	"github.com/lesismal/arpc"
	"github.com/rs/zerolog"

	"github.com/DeltaLaboratory/gridcache/internal/affinity"
	"github.com/DeltaLaboratory/gridcache/internal/protocol"
)

const defaultTimeout = 5 * time.Second

type Options struct {
	// Addresses are bootstrap node addresses; at least one must answer a
	// partition-table fetch for New to succeed.
	Addresses []string

	// RequestTimeout bounds a single synchronous exchange when the caller's
	// context carries no deadline.
	RequestTimeout time.Duration

	// RefreshInterval enables periodic partition-table refresh when > 0.
	RefreshInterval time.Duration

	Logger zerolog.Logger
}

type Router struct {
	// Connection pool for different nodes
	clients     map[string]*arpc.Client
	clientsLock sync.RWMutex

	// Partition table snapshot; replaced whole on refresh, never mutated
	ring     *consistent.Consistent
	nodes    []protocol.NodeInfo
	ringLock sync.RWMutex

	// Bootstrap connection for topology fetches before the pool exists
	bootClient *arpc.Client
	bootAddr   string
	bootLock   sync.Mutex

	bootstrap []string
	timeout   time.Duration
	logger    zerolog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

func New(opts Options) (*Router, error) {
	if len(opts.Addresses) == 0 {
		return nil, fmt.Errorf("no bootstrap addresses")
	}

	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	r := &Router{
		clients:   make(map[string]*arpc.Client),
		bootstrap: opts.Addresses,
		timeout:   timeout,
		logger:    opts.Logger.With().Str("layer", "router").Logger(),
		done:      make(chan struct{}),
	}

	// Initial partition table fetch
	if err := r.RefreshPartitionTable(context.Background()); err != nil {
		r.Close()
		return nil, err
	}

	if opts.RefreshInterval > 0 {
		go r.periodicRefresh(opts.RefreshInterval)
	}

	return r, nil
}

func dial(addr string) (*arpc.Client, error) {
	return arpc.NewClient(func() (net.Conn, error) {
		return net.Dial("tcp", addr)
	})
}

// ResolveNode maps routing bytes to the node owning their partition. A nil
// affinity slice selects any live node, for unrouted/broadcast calls.
func (r *Router) ResolveNode(cacheID int64, aff []byte) (*affinity.Node, error) {
	r.ringLock.RLock()
	defer r.ringLock.RUnlock()

	if r.ring == nil || len(r.nodes) == 0 {
		return nil, fmt.Errorf("partition table not initialized")
	}

	if aff == nil {
		n := r.nodes[rand.IntN(len(r.nodes))]
		return &affinity.Node{NodeID: n.ID, Addr: n.Address}, nil
	}

	node := affinity.Owner(r.ring, cacheID, aff)
	if node == nil {
		return nil, fmt.Errorf("no node owns partition for key")
	}
	return node, nil
}

// SendAndAwait performs one correlated request/response exchange with the
// given node, blocking until the response arrives or the deadline fails
// the call. The context deadline, when present, overrides the configured
// request timeout.
func (r *Router) SendAndAwait(ctx context.Context, nodeID, addr string, op protocol.OperationType, req, rsp any) error {
	client, err := r.getClient(nodeID, addr)
	if err != nil {
		return err
	}

	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return ctx.Err()
		}
	}

	if err := client.Call(op.Route(), req, rsp, timeout); err != nil {
		return fmt.Errorf("call %s on node %s: %w", op.Route(), nodeID, err)
	}
	return nil
}

// RefreshPartitionTable fetches the current node set and installs a new
// routing snapshot. Safe to call concurrently with in-flight dispatches;
// readers keep the old snapshot until the swap.
func (r *Router) RefreshPartitionTable(ctx context.Context) error {
	var rsp protocol.PartitionsResponse
	if err := r.callAny(ctx, protocol.OpCachePartitions, &protocol.PartitionsRequest{}, &rsp); err != nil {
		return fmt.Errorf("failed to fetch partition table: %w", err)
	}
	if rsp.Error != "" {
		return fmt.Errorf("partition table fetch rejected: %s", rsp.Error)
	}
	if len(rsp.Nodes) == 0 {
		return fmt.Errorf("partition table fetch returned no nodes")
	}

	newRing := affinity.NewRing(rsp.Nodes)

	known := make(map[string]struct{}, len(rsp.Nodes))
	for _, n := range rsp.Nodes {
		known[n.ID] = struct{}{}
	}

	// Drop connections to nodes that left; live ones are reused as-is and
	// new ones are dialed on first use.
	r.clientsLock.Lock()
	for id, client := range r.clients {
		if _, exists := known[id]; !exists {
			client.Stop()
			delete(r.clients, id)
		}
	}
	r.clientsLock.Unlock()

	r.ringLock.Lock()
	r.ring = newRing
	r.nodes = rsp.Nodes
	r.ringLock.Unlock()

	r.logger.Debug().Int("nodes", len(rsp.Nodes)).Msg("installed partition table")
	return nil
}

// callAny tries pooled connections first, then bootstrap addresses.
func (r *Router) callAny(ctx context.Context, op protocol.OperationType, req, rsp any) error {
	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return ctx.Err()
		}
	}

	var lastErr error

	r.clientsLock.RLock()
	pooled := make([]*arpc.Client, 0, len(r.clients))
	for _, client := range r.clients {
		pooled = append(pooled, client)
	}
	r.clientsLock.RUnlock()

	for _, client := range pooled {
		if err := client.Call(op.Route(), req, rsp, timeout); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	for _, addr := range r.bootstrap {
		client, err := r.getBootClient(addr)
		if err != nil {
			lastErr = err
			continue
		}
		if err := client.Call(op.Route(), req, rsp, timeout); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("no reachable node: %w", lastErr)
}

func (r *Router) getBootClient(addr string) (*arpc.Client, error) {
	r.bootLock.Lock()
	defer r.bootLock.Unlock()

	if r.bootClient != nil && r.bootAddr == addr {
		return r.bootClient, nil
	}
	if r.bootClient != nil {
		r.bootClient.Stop()
		r.bootClient = nil
	}

	client, err := dial(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bootstrap node %s: %w", addr, err)
	}

	r.bootClient = client
	r.bootAddr = addr
	return client, nil
}

func (r *Router) getClient(nodeID, addr string) (*arpc.Client, error) {
	r.clientsLock.RLock()
	client, exists := r.clients[nodeID]
	r.clientsLock.RUnlock()

	if exists {
		return client, nil
	}

	r.clientsLock.Lock()
	defer r.clientsLock.Unlock()

	// Double check after lock
	if client, exists = r.clients[nodeID]; exists {
		return client, nil
	}

	client, err := dial(addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to node %s: %w", nodeID, err)
	}
	r.clients[nodeID] = client

	return client, nil
}

func (r *Router) periodicRefresh(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			if err := r.RefreshPartitionTable(context.Background()); err != nil {
				r.logger.Warn().Err(err).Msg("failed to refresh partition table")
			}
		}
	}
}

func (r *Router) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)

		r.clientsLock.Lock()
		for _, client := range r.clients {
			client.Stop()
		}
		r.clients = make(map[string]*arpc.Client)
		r.clientsLock.Unlock()

		r.bootLock.Lock()
		if r.bootClient != nil {
			r.bootClient.Stop()
			r.bootClient = nil
		}
		r.bootLock.Unlock()
	})
	return nil
}
