// Package badgerstore is a [history.Store] backed by an embedded Badger
// key-value database, for single-node deployments that need history to
// survive restarts without running PostgreSQL.
//
// Entries are stored as JSON under "history/<actor>/<id>".
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v3"

	"github.com/MrWong99/shopvox/internal/history"
)

var _ history.Store = (*Store)(nil)

const keyPrefix = "history/"

// Store is the Badger-backed history store. All methods are safe for
// concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the database in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("badger store: create dir: %w", err)
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	return open(opts)
}

// OpenInMemory opens a database that is never written to disk.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger store: open: %w", err)
	}
	return &Store{db: db}, nil
}

func actorPrefix(actorID string) []byte {
	return []byte(keyPrefix + actorID + "/")
}

func entryKey(actorID, id string) []byte {
	return []byte(keyPrefix + actorID + "/" + id)
}

// Save implements history.Store. Deduplication and eviction run inside one
// read-write transaction.
func (s *Store) Save(_ context.Context, e history.Entry, p history.Policy) (history.Entry, error) {
	var saved history.Entry
	err := s.db.Update(func(txn *badger.Txn) error {
		existing, err := scan(txn, e.ActorID)
		if err != nil {
			return err
		}
		var evict []string
		saved, evict = history.Merge(existing, e, p)

		data, err := json.Marshal(saved)
		if err != nil {
			return err
		}
		if err := txn.Set(entryKey(saved.ActorID, saved.ID), data); err != nil {
			return err
		}
		for _, id := range evict {
			if err := txn.Delete(entryKey(e.ActorID, id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return history.Entry{}, fmt.Errorf("badger store: save: %w", err)
	}
	return saved, nil
}

// List implements history.Store.
func (s *Store) List(_ context.Context, actorID string, limit int) ([]history.Entry, error) {
	var entries []history.Entry
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		entries, err = scan(txn, actorID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badger store: list: %w", err)
	}
	history.SortNewestFirst(entries)
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	return entries, nil
}

// Delete implements history.Store.
func (s *Store) Delete(_ context.Context, actorID, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := entryKey(actorID, id)
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return history.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("badger store: delete: %w", err)
	}
	return nil
}

// Clear implements history.Store.
func (s *Store) Clear(_ context.Context, actorID string) (int, error) {
	var n int
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var keys [][]byte
		prefix := actorPrefix(actorID)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		n = len(keys)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badger store: clear: %w", err)
	}
	return n, nil
}

// Ping implements history.Store.
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger store: database closed")
	}
	return nil
}

// Close implements history.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func scan(txn *badger.Txn, actorID string) ([]history.Entry, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var out []history.Entry
	prefix := actorPrefix(actorID)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var e history.Entry
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		}); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
