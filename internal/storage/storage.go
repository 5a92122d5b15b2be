// Package storage provides the per-cache keyspaces backing a grid node.
// Keys are namespaced by cache id so one store serves every cache on the
// node.
package storage

type Store interface {
	Put(cacheID int64, key, value []byte) error
	Get(cacheID int64, key []byte) ([]byte, bool, error)

	// Remove reports whether a mapping existed before removal.
	Remove(cacheID int64, key []byte) (bool, error)

	// Clear drops every entry of one cache.
	Clear(cacheID int64) error

	// Size counts this node's entries for one cache.
	Size(cacheID int64) (int64, error)

	Close() error
}
