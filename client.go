// Package gridcache is a thin client for a partitioned key-value cache
// grid. A Client owns one shared transport; Cache handles obtained from it
// map cache operations onto the binary wire protocol and route each
// key operation to the node owning the key's partition.
package gridcache

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/rs/zerolog"

	"github.com/DeltaLaboratory/gridcache/internal/protocol"
	"github.com/DeltaLaboratory/gridcache/internal/router"
)

const (
	defaultNearCounters = 100_000
	defaultNearMaxBytes = 32 << 20
)

type Options struct {
	// Addresses are bootstrap node addresses used for the initial
	// partition-table fetch. At least one is required.
	Addresses []string

	// RequestTimeout bounds a single operation when the caller's context
	// carries no deadline. Defaults to 5s.
	RequestTimeout time.Duration

	// AffinityRefreshInterval enables periodic background refresh of the
	// partition table when > 0. Explicit RefreshAffinityMapping calls work
	// either way.
	AffinityRefreshInterval time.Duration

	// NearCacheMaxBytes caps the in-process near cache consulted by
	// LocalPeek. Defaults to 32 MiB.
	NearCacheMaxBytes int64

	// Logger defaults to a disabled logger.
	Logger zerolog.Logger
}

// Client owns the shared transport and the in-process near cache. All
// cache handles created from one Client reuse its connection pool.
type Client struct {
	router Router
	near   *ristretto.Cache
	logger zerolog.Logger
}

// Connect establishes the shared transport and fetches the initial
// partition table from the first reachable bootstrap node.
func Connect(opts Options) (*Client, error) {
	rt, err := router.New(router.Options{
		Addresses:       opts.Addresses,
		RequestTimeout:  opts.RequestTimeout,
		RefreshInterval: opts.AffinityRefreshInterval,
		Logger:          opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("gridcache: connect: %w", err)
	}

	maxBytes := opts.NearCacheMaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultNearMaxBytes
	}
	near, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultNearCounters,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("gridcache: near cache: %w", err)
	}

	return &Client{
		router: routerAdapter{r: rt},
		near:   near,
		logger: opts.Logger.With().Str("layer", "client").Logger(),
	}, nil
}

// Cache returns a handle for the named cache. Keys and values travel
// through whatever codec adapters the caller passes per operation.
func (c *Client) Cache(name string) *Cache {
	return c.newCache(name, false)
}

// BinaryCache returns a handle in binary mode: values are transmitted as
// pre-encoded opaque binary objects (codec.Bytes) with no further
// deserialization hint. The mode is fixed for the handle's lifetime and
// must not be mixed with plain handles on the same cache.
func (c *Client) BinaryCache(name string) *Cache {
	return c.newCache(name, true)
}

func (c *Client) newCache(name string, binary bool) *Cache {
	return &Cache{
		name:   name,
		id:     protocol.CacheID(name),
		binary: binary,
		router: c.router,
		near:   c.near,
		logger: c.logger.With().Str("cache", name).Logger(),
	}
}

// Close releases the shared transport and the near cache. Cache handles
// created from this client become unusable; destruction performs no
// network I/O beyond closing connections, since cache lifetime is owned
// by the server.
func (c *Client) Close() error {
	c.near.Close()
	return c.router.Close()
}
