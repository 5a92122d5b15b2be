package protocol

import (
	"github.com/cespare/xxhash/v2"
)

type OperationType uint8

const (
	OpCachePut OperationType = iota + 1
	OpCacheGet
	OpCacheContainsKey
	OpCacheGetSize
	OpCacheSizeLocal
	OpCacheRemoveKey
	OpCacheRemoveAll
	OpCacheClear
	OpCacheClearKey
	OpCachePartitions
)

// Route maps an opcode to its RPC route. One route per opcode; the route
// string is the wire-level operation selector.
func (op OperationType) Route() string {
	switch op {
	case OpCachePut:
		return "/cache/put"
	case OpCacheGet:
		return "/cache/get"
	case OpCacheContainsKey:
		return "/cache/contains-key"
	case OpCacheGetSize:
		return "/cache/size"
	case OpCacheSizeLocal:
		return "/cache/size-local"
	case OpCacheRemoveKey:
		return "/cache/remove-key"
	case OpCacheRemoveAll:
		return "/cache/remove-all"
	case OpCacheClear:
		return "/cache/clear"
	case OpCacheClearKey:
		return "/cache/clear-key"
	case OpCachePartitions:
		return "/cluster/partitions"
	default:
		return "/cache/unknown"
	}
}

// CacheID derives the stable wire-level selector for a cache name. All
// requests for one cache handle carry the same id, so the protocol never
// sends the name itself per request.
func CacheID(name string) int64 {
	return int64(xxhash.Sum64String(name))
}

// Status is embedded in every response. Error carries a server-reported
// application failure verbatim. NotPrimary reports that the receiving node
// does not own the key's partition; the request was not executed.
type Status struct {
	Error      string `json:"error,omitempty"`
	NotPrimary bool   `json:"not_primary,omitempty"`
}

// KeyRequest is the request shape for key-routed operations without a
// value payload (Get, ContainsKey, RemoveKey, ClearKey). Affinity carries
// the routing bytes when they differ from the key payload; empty means
// the key bytes route the request.
type KeyRequest struct {
	CacheID  int64  `json:"cache_id"`
	Binary   bool   `json:"binary"`
	Key      []byte `json:"key"`
	Affinity []byte `json:"affinity,omitempty"`
}

type PutRequest struct {
	CacheID  int64  `json:"cache_id"`
	Binary   bool   `json:"binary"`
	Key      []byte `json:"key"`
	Affinity []byte `json:"affinity,omitempty"`
	Value    []byte `json:"value"`
}

// CacheRequest is the request shape for whole-cache operations
// (RemoveAll, Clear). LocalOnly restricts the operation to the receiving
// node; it is set on the peer leg of a server-side fan-out and never by
// clients.
type CacheRequest struct {
	CacheID   int64 `json:"cache_id"`
	Binary    bool  `json:"binary"`
	LocalOnly bool  `json:"local_only,omitempty"`
}

// SizeRequest asks for an entry count. OpCacheGetSize aggregates across
// all nodes server-side; OpCacheSizeLocal counts only the receiving node.
// PeekModes selects the counted memory tiers and is passed through
// opaquely.
type SizeRequest struct {
	CacheID   int64 `json:"cache_id"`
	Binary    bool  `json:"binary"`
	PeekModes int32 `json:"peek_modes"`
}

type PartitionsRequest struct{}

type AckResponse struct {
	Status
}

type BoolResponse struct {
	Status
	Result bool `json:"result"`
}

type ValueResponse struct {
	Status
	Found bool   `json:"found"`
	Value []byte `json:"value,omitempty"`
}

type CountResponse struct {
	Status
	Count int64 `json:"count"`
}

type NodeInfo struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

type PartitionsResponse struct {
	Status
	PartitionCount int        `json:"partition_count"`
	Nodes          []NodeInfo `json:"nodes"`
}
