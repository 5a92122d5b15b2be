// Package affinity builds the partition table shared by the client router
// and the grid server. Both sides must derive identical partition
// ownership from the same node set, so the ring configuration and the
// routing-key construction live here and nowhere else.
package affinity

import (
	"encoding/binary"
	"sort"

	"github.com/buraksezer/consistent"
	"github.com/cespare/xxhash/v2"

	"github.com/DeltaLaboratory/gridcache/internal/protocol"
)

const (
	PartitionCount    = 271
	replicationFactor = 20
	load              = 1.25
)

type Node struct {
	NodeID string
	Addr   string
}

func (n *Node) ID() string {
	return n.NodeID
}

func (n *Node) Address() string {
	return n.Addr
}

func (n *Node) String() string {
	return n.NodeID
}

type hasher struct{}

func (hasher) Sum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// NewRing builds an immutable partition table over the given node set.
// The node order does not matter; members are sorted by id first so two
// rings built from the same set route identically.
func NewRing(nodes []protocol.NodeInfo) *consistent.Consistent {
	sorted := make([]protocol.NodeInfo, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	members := make([]consistent.Member, len(sorted))
	for i, n := range sorted {
		members[i] = &Node{NodeID: n.ID, Addr: n.Address}
	}

	cfg := consistent.Config{
		PartitionCount:    PartitionCount,
		ReplicationFactor: replicationFactor,
		Load:              load,
		Hasher:            hasher{},
	}
	return consistent.New(members, cfg)
}

// RoutingKey mixes the cache id into the affinity bytes so the same key in
// two caches does not always land on the same partition.
func RoutingKey(cacheID int64, affinity []byte) []byte {
	key := make([]byte, 8+len(affinity))
	binary.BigEndian.PutUint64(key, uint64(cacheID))
	copy(key[8:], affinity)
	return key
}

// Owner resolves the node currently owning the partition for the given
// routing bytes. Returns nil when the ring has no members.
func Owner(ring *consistent.Consistent, cacheID int64, affinity []byte) *Node {
	member := ring.GetPartitionOwner(ring.FindPartitionID(RoutingKey(cacheID, affinity)))
	if member == nil {
		return nil
	}
	return member.(*Node)
}
