// Package badger implements a persistent ResultCache backed by BadgerDB.
//
// Resolved resources survive process restarts: the raw payload is stored and
// re-decoded through the codec registry on lookup. Pending markers are also
// persisted (with a short TTL) so two processes sharing a cache directory
// coalesce their loads.
package badger

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/arkite/asyncload/internal/logger"
	"github.com/arkite/asyncload/pkg/cache"
	"github.com/arkite/asyncload/pkg/resource"
)

// Value layout: a one-byte marker followed by the gob-encoded payload for
// resolved entries. Expiry is delegated to badger's native TTL.
const (
	markerPending  byte = 0x01
	markerResolved byte = 0x02
)

// storedResource is the durable subset of a resource. The decoded Value is
// rebuilt by the codec registry on lookup.
type storedResource struct {
	Key    string
	Source string
	Data   []byte
}

// BadgerCache is a disk-persistent ResultCache.
type BadgerCache struct {
	db *badger.DB
}

// NewBadgerCache opens (or creates) a badger-backed cache at path.
// An empty path opens an in-memory database, useful for tests.
func NewBadgerCache(path string) (*BadgerCache, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger cache: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

// Lookup reports the state of key, re-decoding the stored payload on hit.
// Expired entries read as absent through badger's native TTL.
func (c *BadgerCache) Lookup(key string) (*resource.Resource, cache.State) {
	var res *resource.Resource
	state := cache.Absent

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return nil
			}
			switch val[0] {
			case markerPending:
				state = cache.Pending
				return nil
			case markerResolved:
				stored, err := decodeStored(val[1:])
				if err != nil {
					return err
				}
				decoded, err := resource.Decode(stored.Key, stored.Data)
				if err != nil {
					return err
				}
				decoded.Source = stored.Source
				res = decoded
				state = cache.Resolved
				return nil
			default:
				return fmt.Errorf("unknown cache marker 0x%02x", val[0])
			}
		})
	})
	if err != nil {
		logger.Warn("badger cache lookup failed", "key", key, "error", err)
		return nil, cache.Absent
	}

	return res, state
}

// MarkPending claims key for a load. A live entry, pending or resolved,
// loses the claim; the transaction retries on write conflict so concurrent
// claimants serialize. A failing database reports true so the caller degrades
// to loading without deduplication.
func (c *BadgerCache) MarkPending(key string, ttl time.Duration) bool {
	for {
		installed := false
		err := c.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get([]byte(key))
			if err == nil {
				return nil
			}
			if err != badger.ErrKeyNotFound {
				return err
			}

			entry := badger.NewEntry([]byte(key), []byte{markerPending})
			if ttl > 0 {
				entry = entry.WithTTL(ttl)
			}
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
			installed = true
			return nil
		})
		if err == badger.ErrConflict {
			continue
		}
		if err != nil {
			logger.Warn("badger cache mark-pending failed", "key", key, "error", err)
			return true
		}
		return installed
	}
}

// Set publishes the resolved resource for key.
func (c *BadgerCache) Set(key string, res *resource.Resource, ttl time.Duration) {
	val, err := encodeStored(storedResource{
		Key:    res.Key,
		Source: res.Source,
		Data:   res.Data,
	})
	if err != nil {
		logger.Warn("badger cache encode failed", "key", key, "error", err)
		return
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), val)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		logger.Warn("badger cache set failed", "key", key, "error", err)
	}
}

// Evict removes key regardless of state.
func (c *BadgerCache) Evict(key string) {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil && err != badger.ErrKeyNotFound {
		logger.Warn("badger cache evict failed", "key", key, "error", err)
	}
}

// Len returns the number of live entries, pending markers included.
func (c *BadgerCache) Len() int {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0
	}
	return n
}

// Close closes the underlying database.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}

func encodeStored(s storedResource) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(markerResolved)
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeStored(val []byte) (storedResource, error) {
	var s storedResource
	err := gob.NewDecoder(bytes.NewReader(val)).Decode(&s)
	return s, err
}
