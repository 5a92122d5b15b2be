package gridcache

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"

	"github.com/DeltaLaboratory/gridcache/codec"
	"github.com/DeltaLaboratory/gridcache/internal/protocol"
)

// PeekMode selects which memory tiers are counted by GetSize. Modes
// combine as a bitmask and pass through to the wire opaquely.
type PeekMode int32

const (
	PeekAll     PeekMode = 0x01
	PeekNear    PeekMode = 0x02
	PeekPrimary PeekMode = 0x04
	PeekBackup  PeekMode = 0x08
)

// Cache is a handle to one named cache on the grid. The name, the derived
// wire-level id, and the binary-mode flag are fixed at construction; the
// handle is safe for concurrent use from multiple goroutines.
type Cache struct {
	name   string
	id     int64
	binary bool

	router Router
	near   *ristretto.Cache
	logger zerolog.Logger
}

func (c *Cache) Name() string {
	return c.name
}

// Put stores a value, overwriting any existing mapping for the key.
func (c *Cache) Put(ctx context.Context, key, value codec.Writable) error {
	keyBytes, aff, err := encodeKey(key)
	if err != nil {
		return err
	}
	valueBytes, err := codec.Marshal(value)
	if err != nil {
		return fmt.Errorf("gridcache: encode value: %w", err)
	}

	req := &protocol.PutRequest{CacheID: c.id, Binary: c.binary, Key: keyBytes, Value: valueBytes}
	if !bytes.Equal(aff, keyBytes) {
		req.Affinity = aff
	}

	var rsp protocol.AckResponse
	if err := c.syncKeyMessage(ctx, aff, protocol.OpCachePut, req, &rsp); err != nil {
		return err
	}
	if err := statusErr(protocol.OpCachePut, rsp.Status); err != nil {
		return err
	}

	c.nearPut(keyBytes, valueBytes)
	return nil
}

// Get fetches the value mapped to key and decodes it into value. The
// second return is false on a miss, in which case value is left untouched
// so a miss is distinguishable from a stored zero value.
func (c *Cache) Get(ctx context.Context, key codec.Writable, value codec.Readable) (bool, error) {
	keyBytes, aff, err := encodeKey(key)
	if err != nil {
		return false, err
	}

	req := c.keyRequest(keyBytes, aff)
	var rsp protocol.ValueResponse
	if err := c.syncKeyMessage(ctx, aff, protocol.OpCacheGet, req, &rsp); err != nil {
		return false, err
	}
	if err := statusErr(protocol.OpCacheGet, rsp.Status); err != nil {
		return false, err
	}
	if !rsp.Found {
		return false, nil
	}

	if err := codec.Unmarshal(rsp.Value, value); err != nil {
		return false, fmt.Errorf("gridcache: decode value: %w", err)
	}
	c.nearPut(keyBytes, rsp.Value)
	return true, nil
}

// ContainsKey reports whether a mapping currently exists for the key.
func (c *Cache) ContainsKey(ctx context.Context, key codec.Writable) (bool, error) {
	keyBytes, aff, err := encodeKey(key)
	if err != nil {
		return false, err
	}

	var rsp protocol.BoolResponse
	if err := c.syncKeyMessage(ctx, aff, protocol.OpCacheContainsKey, c.keyRequest(keyBytes, aff), &rsp); err != nil {
		return false, err
	}
	if err := statusErr(protocol.OpCacheContainsKey, rsp.Status); err != nil {
		return false, err
	}
	return rsp.Result, nil
}

// GetSize returns the number of entries cached across all grid nodes, as
// the sum of per-node counts observed while the request executes. The
// aggregation happens server-side; the client performs one exchange.
func (c *Cache) GetSize(ctx context.Context, modes PeekMode) (int64, error) {
	req := &protocol.SizeRequest{CacheID: c.id, Binary: c.binary, PeekModes: int32(modes)}

	var rsp protocol.CountResponse
	if err := c.syncMessage(ctx, protocol.OpCacheGetSize, req, &rsp); err != nil {
		return 0, err
	}
	if err := statusErr(protocol.OpCacheGetSize, rsp.Status); err != nil {
		return 0, err
	}
	return rsp.Count, nil
}

// Remove deletes the mapping for the key. The boolean is false iff no
// prior mapping existed; it never encodes an error outcome.
func (c *Cache) Remove(ctx context.Context, key codec.Writable) (bool, error) {
	keyBytes, aff, err := encodeKey(key)
	if err != nil {
		return false, err
	}

	var rsp protocol.BoolResponse
	if err := c.syncKeyMessage(ctx, aff, protocol.OpCacheRemoveKey, c.keyRequest(keyBytes, aff), &rsp); err != nil {
		return false, err
	}
	if err := statusErr(protocol.OpCacheRemoveKey, rsp.Status); err != nil {
		return false, err
	}

	c.nearDel(keyBytes)
	return rsp.Result, nil
}

// RemoveAll removes every mapping in the cache, on all nodes.
func (c *Cache) RemoveAll(ctx context.Context) error {
	return c.wholeCache(ctx, protocol.OpCacheRemoveAll)
}

// Clear clears the whole cache without notifying listeners or
// write-through stores.
func (c *Cache) Clear(ctx context.Context) error {
	return c.wholeCache(ctx, protocol.OpCacheClear)
}

// ClearKey clears one entry without notifying listeners or write-through
// stores. A memory-only clear; no prior-value information is returned.
func (c *Cache) ClearKey(ctx context.Context, key codec.Writable) error {
	keyBytes, aff, err := encodeKey(key)
	if err != nil {
		return err
	}

	var rsp protocol.AckResponse
	if err := c.syncKeyMessage(ctx, aff, protocol.OpCacheClearKey, c.keyRequest(keyBytes, aff), &rsp); err != nil {
		return err
	}
	if err := statusErr(protocol.OpCacheClearKey, rsp.Status); err != nil {
		return err
	}

	c.nearDel(keyBytes)
	return nil
}

// LocalPeek looks the key up in the in-process near cache only. It never
// performs network I/O and never triggers a remote or persistent-store
// load. A miss returns (false, nil).
func (c *Cache) LocalPeek(key codec.Writable, value codec.Readable) (bool, error) {
	keyBytes, err := codec.Marshal(key)
	if err != nil {
		return false, fmt.Errorf("gridcache: encode key: %w", err)
	}

	cached, ok := c.near.Get(c.nearKey(keyBytes))
	if !ok {
		return false, nil
	}
	valueBytes, ok := cached.([]byte)
	if !ok {
		// Unexpected entry shape; drop it rather than guess.
		c.logger.Warn().Msg("dropping malformed near-cache entry")
		c.near.Del(c.nearKey(keyBytes))
		return false, nil
	}

	if err := codec.Unmarshal(valueBytes, value); err != nil {
		return false, fmt.Errorf("gridcache: decode near-cache value: %w", err)
	}
	return true, nil
}

// RefreshAffinityMapping re-fetches the partition table and installs it as
// the new routing snapshot. Safe to call concurrently with in-flight
// operations; it never blocks them on its own completion.
func (c *Cache) RefreshAffinityMapping(ctx context.Context) error {
	if err := c.router.RefreshPartitionTable(ctx); err != nil {
		return fmt.Errorf("%w: %s", ErrTransport, err)
	}
	return nil
}

func (c *Cache) wholeCache(ctx context.Context, op protocol.OperationType) error {
	req := &protocol.CacheRequest{CacheID: c.id, Binary: c.binary}

	var rsp protocol.AckResponse
	if err := c.syncMessage(ctx, op, req, &rsp); err != nil {
		return err
	}
	if err := statusErr(op, rsp.Status); err != nil {
		return err
	}

	// Over-invalidates entries of other caches sharing the near tier; a
	// near miss is harmless, a stale hit is not.
	c.near.Clear()
	return nil
}

// syncKeyMessage dispatches a key-routed request: resolve the owning node
// from the routing bytes, send, and block for the correlated response.
func (c *Cache) syncKeyMessage(ctx context.Context, affinity []byte, op protocol.OperationType, req, rsp any) error {
	node, err := c.router.ResolveNode(c.id, affinity)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrRoutingUnavailable, err)
	}
	if err := c.router.SendAndAwait(ctx, node, op, req, rsp); err != nil {
		return fmt.Errorf("%w: %s", ErrTransport, err)
	}
	return nil
}

// syncMessage dispatches an unrouted request to any live node.
func (c *Cache) syncMessage(ctx context.Context, op protocol.OperationType, req, rsp any) error {
	node, err := c.router.ResolveNode(c.id, nil)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrRoutingUnavailable, err)
	}
	if err := c.router.SendAndAwait(ctx, node, op, req, rsp); err != nil {
		return fmt.Errorf("%w: %s", ErrTransport, err)
	}
	return nil
}

func (c *Cache) keyRequest(keyBytes, affinity []byte) *protocol.KeyRequest {
	req := &protocol.KeyRequest{CacheID: c.id, Binary: c.binary, Key: keyBytes}
	if !bytes.Equal(affinity, keyBytes) {
		req.Affinity = affinity
	}
	return req
}

func (c *Cache) nearKey(keyBytes []byte) string {
	var id [8]byte
	binary.BigEndian.PutUint64(id[:], uint64(c.id))
	return string(id[:]) + string(keyBytes)
}

func (c *Cache) nearPut(keyBytes, valueBytes []byte) {
	stored := make([]byte, len(valueBytes))
	copy(stored, valueBytes)
	c.near.Set(c.nearKey(keyBytes), stored, int64(len(stored)))
}

func (c *Cache) nearDel(keyBytes []byte) {
	c.near.Del(c.nearKey(keyBytes))
}

// encodeKey serializes the key payload and derives the routing bytes,
// which differ from the payload only when the key exposes an explicit
// affinity value.
func encodeKey(key codec.Writable) (keyBytes, affinity []byte, err error) {
	keyBytes, err = codec.Marshal(key)
	if err != nil {
		return nil, nil, fmt.Errorf("gridcache: encode key: %w", err)
	}

	affinity = keyBytes
	if keyed, ok := key.(codec.AffinityKeyed); ok {
		if alt := keyed.AffinityKey(); alt != nil {
			affinity, err = codec.Marshal(alt)
			if err != nil {
				return nil, nil, fmt.Errorf("gridcache: encode affinity key: %w", err)
			}
		}
	}
	return keyBytes, affinity, nil
}

func statusErr(op protocol.OperationType, st protocol.Status) error {
	if st.NotPrimary {
		return fmt.Errorf("%w: node does not own the key partition (stale affinity mapping)", ErrRoutingUnavailable)
	}
	if st.Error != "" {
		return &ServerError{Op: op.Route(), Message: st.Error}
	}
	return nil
}
