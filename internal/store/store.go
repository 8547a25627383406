package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

var ErrNotFound = errors.New("not_found")

// KV is the panel's key-value persistence layer. Values are JSON documents;
// there are no cross-key transactional guarantees, which is why instance
// updates are verified by read-back after writing.
type KV interface {
	Get(ctx context.Context, key string, out any) error
	Set(ctx context.Context, key string, v any) error
	Close() error
}

// BadgerKV implements KV with Badger.
type BadgerKV struct {
	db *badger.DB
}

func NewBadgerKV(path string) (*BadgerKV, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil // badger's own logging drowns the panel's
	opts = opts.WithValueLogFileSize(1 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerKV{db: db}, nil
}

func (s *BadgerKV) Close() error {
	return s.db.Close()
}

func (s *BadgerKV) Get(_ context.Context, key string, out any) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, out)
		})
	})
}

func (s *BadgerKV) Set(_ context.Context, key string, v any) error {
	return s.db.Update(func(txn *badger.Txn) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return txn.Set([]byte(key), data)
	})
}
