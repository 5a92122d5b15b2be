package storage

import (
	"encoding/binary"
	"errors"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"
)

type PebbleStore struct {
	db *pebble.DB

	logger zerolog.Logger
}

func NewPebbleStore(path string, logger zerolog.Logger) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{
		db:     db,
		logger: logger.With().Str("layer", "storage").Logger(),
	}, nil
}

// storageKey prefixes the key with the cache id so caches share one DB
// without colliding.
func storageKey(cacheID int64, key []byte) []byte {
	buf := make([]byte, 8+len(key))
	binary.BigEndian.PutUint64(buf, uint64(cacheID))
	copy(buf[8:], key)
	return buf
}

func cacheBounds(cacheID int64) (lower, upper []byte) {
	lower = make([]byte, 8)
	binary.BigEndian.PutUint64(lower, uint64(cacheID))
	upper = make([]byte, 8)
	binary.BigEndian.PutUint64(upper, uint64(cacheID)+1)
	if binary.BigEndian.Uint64(upper) == 0 {
		// Wrapped around; the keyspace for this cache extends to the end.
		upper = nil
	}
	return lower, upper
}

func (s *PebbleStore) Put(cacheID int64, key, value []byte) error {
	return s.db.Set(storageKey(cacheID, key), value, pebble.Sync)
}

func (s *PebbleStore) Get(cacheID int64, key []byte) ([]byte, bool, error) {
	value, closer, err := s.db.Get(storageKey(cacheID, key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to close pebble value")
		}
	}()

	// Copy the value since it's only valid while closer is not closed
	result := make([]byte, len(value))
	copy(result, value)
	return result, true, nil
}

func (s *PebbleStore) Remove(cacheID int64, key []byte) (bool, error) {
	sk := storageKey(cacheID, key)

	_, closer, err := s.db.Get(sk)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := closer.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("failed to close pebble value")
	}

	if err := s.db.Delete(sk, pebble.Sync); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PebbleStore) Clear(cacheID int64) error {
	lower, upper := cacheBounds(cacheID)
	if upper == nil {
		// No exclusive upper bound exists for the wrap-around cache id;
		// delete the tail of the keyspace entry by entry.
		iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower})
		if err != nil {
			return err
		}
		defer iter.Close()

		batch := s.db.NewBatch()
		defer batch.Close()
		for iter.First(); iter.Valid(); iter.Next() {
			key := make([]byte, len(iter.Key()))
			copy(key, iter.Key())
			if err := batch.Delete(key, pebble.Sync); err != nil {
				return err
			}
		}
		return batch.Commit(pebble.Sync)
	}
	return s.db.DeleteRange(lower, upper, pebble.Sync)
}

func (s *PebbleStore) Size(cacheID int64) (int64, error) {
	lower, upper := cacheBounds(cacheID)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	var count int64
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	return count, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
