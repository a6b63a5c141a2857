// Package cache keeps recent query results in a badger key-value store,
// keyed by the content hash of the query.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Cache is a TTL-bounded byte cache. Safe for concurrent use.
type Cache struct {
	db  *badger.DB
	ttl time.Duration
}

// Open opens or creates a cache persisted in dir. Entries expire ttl after
// they are written; zero keeps them until Purge.
func Open(dir string, ttl time.Duration) (*Cache, error) {
	return open(badger.DefaultOptions(dir), ttl)
}

// OpenInMemory opens a cache that lives only as long as the process.
func OpenInMemory(ttl time.Duration) (*Cache, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), ttl)
}

func open(opts badger.Options, ttl time.Duration) (*Cache, error) {
	opts = opts.
		WithCompression(options.ZSTD).
		WithNumVersionsToKeep(1).
		WithLogger(slogLogger{slog.Default().With("component", "cache")})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}
	slog.Debug("cache opened",
		slog.String("dir", opts.Dir),
		slog.Bool("inMemory", opts.InMemory),
		slog.Duration("ttl", ttl))
	return &Cache{db: db, ttl: ttl}, nil
}

// Get returns the value stored under key. ok is false on a miss, including
// an expired entry.
func (c *Cache) Get(key string) (value []byte, ok bool, err error) {
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return value, true, nil
}

// Set stores value under key with the cache TTL.
func (c *Cache) Set(key string, value []byte) error {
	e := badger.NewEntry([]byte(key), value)
	if c.ttl > 0 {
		e = e.WithTTL(c.ttl)
	}
	if err := c.db.Update(func(txn *badger.Txn) error { return txn.SetEntry(e) }); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Len counts the live entries.
func (c *Cache) Len() (int, error) {
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
	return n, err
}

// Purge removes every entry.
func (c *Cache) Purge() error {
	return c.db.DropAll()
}

// Close flushes and closes the underlying store.
func (c *Cache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close cache: %w", err)
	}
	return nil
}

// slogLogger routes badger's internal logging through slog. Info and
// debug chatter is demoted to debug.
type slogLogger struct {
	l *slog.Logger
}

func (s slogLogger) Errorf(f string, v ...any)   { s.l.Error(fmt.Sprintf(f, v...)) }
func (s slogLogger) Warningf(f string, v ...any) { s.l.Warn(fmt.Sprintf(f, v...)) }
func (s slogLogger) Infof(f string, v ...any)    { s.l.Debug(fmt.Sprintf(f, v...)) }
func (s slogLogger) Debugf(f string, v ...any)   { s.l.Debug(fmt.Sprintf(f, v...)) }
