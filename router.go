package gridcache

import (
	"context"

	"github.com/DeltaLaboratory/gridcache/internal/protocol"
	"github.com/DeltaLaboratory/gridcache/internal/router"
)

// NodeChannel identifies a resolved channel to one cluster node.
type NodeChannel interface {
	ID() string
	Address() string
}

// Router is the transport collaborator consumed by cache handles. It owns
// physical connections, message framing, correlation, and the partition
// table; the façade only resolves, sends, and waits through it.
type Router interface {
	// ResolveNode maps routing bytes to the owning node. A nil affinity
	// slice requests any live node, for unrouted calls.
	ResolveNode(cacheID int64, affinity []byte) (NodeChannel, error)

	// SendAndAwait performs one correlated synchronous exchange. The
	// response shell is fully populated on success and must not be reused.
	SendAndAwait(ctx context.Context, node NodeChannel, op protocol.OperationType, req, rsp any) error

	// RefreshPartitionTable installs a fresh routing snapshot. It never
	// blocks other in-flight requests on its completion.
	RefreshPartitionTable(ctx context.Context) error

	Close() error
}

type routerAdapter struct {
	r *router.Router
}

func (a routerAdapter) ResolveNode(cacheID int64, affinity []byte) (NodeChannel, error) {
	node, err := a.r.ResolveNode(cacheID, affinity)
	if err != nil {
		return nil, err
	}
	return node, nil
}

func (a routerAdapter) SendAndAwait(ctx context.Context, node NodeChannel, op protocol.OperationType, req, rsp any) error {
	return a.r.SendAndAwait(ctx, node.ID(), node.Address(), op, req, rsp)
}

func (a routerAdapter) RefreshPartitionTable(ctx context.Context) error {
	return a.r.RefreshPartitionTable(ctx)
}

func (a routerAdapter) Close() error {
	return a.r.Close()
}
