package storage

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BadgerDB is the default wallet backend.
type BadgerDB struct {
	db *badger.DB
}

// lockHints are the fragments badger uses when another process holds the
// directory lock.
var lockHints = []string{"Cannot acquire directory lock", "resource temporarily unavailable"}

// NewBadger opens (creating if needed) a Badger directory at path.
func NewBadger(path string) (*BadgerDB, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err == nil {
		return &BadgerDB{db: db}, nil
	}
	for _, hint := range lockHints {
		if strings.Contains(err.Error(), hint) {
			return nil, fmt.Errorf("wallet database %s is in use by another slatewallet process: %w", path, err)
		}
	}
	return nil, fmt.Errorf("open badger %s: %w", path, err)
}

func (b *BadgerDB) update(op string, fn func(*badger.Txn) error) error {
	if err := b.db.Update(fn); err != nil {
		return fmt.Errorf("badger %s: %w", op, err)
	}
	return nil
}

// lookup runs fn on the item stored under key. found is false when the
// key is absent.
func (b *BadgerDB) lookup(key []byte, fn func(*badger.Item) error) (found bool, err error) {
	err = b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil
		case err != nil:
			return err
		}
		found = true
		if fn == nil {
			return nil
		}
		return fn(item)
	})
	return found, err
}

func (b *BadgerDB) Get(key []byte) ([]byte, error) {
	var val []byte
	found, err := b.lookup(key, func(item *badger.Item) (err error) {
		val, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	if !found {
		return nil, ErrNotFound
	}
	return val, nil
}

func (b *BadgerDB) Has(key []byte) (bool, error) {
	found, err := b.lookup(key, nil)
	if err != nil {
		return false, fmt.Errorf("badger has: %w", err)
	}
	return found, nil
}

func (b *BadgerDB) Put(key, value []byte) error {
	return b.update("put", func(txn *badger.Txn) error { return txn.Set(key, value) })
}

func (b *BadgerDB) Delete(key []byte) error {
	return b.update("delete", func(txn *badger.Txn) error { return txn.Delete(key) })
}

// ForEach visits keys under prefix in byte order. Keys and values handed
// to fn are copies the callback may keep.
func (b *BadgerDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	return b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{
			PrefetchValues: true,
			PrefetchSize:   64,
			Prefix:         prefix,
		})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("badger read %x: %w", item.Key(), err)
			}
			if err := fn(item.KeyCopy(nil), val); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerDB) Close() error {
	return b.db.Close()
}

// NewBatch stages writes in one read-write transaction; Commit applies
// all of them or none.
func (b *BadgerDB) NewBatch() Batch {
	return &badgerBatch{txn: b.db.NewTransaction(true)}
}

type badgerBatch struct {
	txn *badger.Txn
	err error // first staging failure; sticky
}

// stage runs fn unless an earlier write failed. Badger holds on to key and
// value slices until commit, so both are cloned.
func (bb *badgerBatch) stage(op string, fn func(*badger.Txn) error) error {
	if bb.err == nil {
		if err := fn(bb.txn); err != nil {
			bb.err = fmt.Errorf("badger batch %s: %w", op, err)
		}
	}
	return bb.err
}

func (bb *badgerBatch) Put(key, value []byte) error {
	return bb.stage("put", func(txn *badger.Txn) error {
		return txn.Set(bytes.Clone(key), bytes.Clone(value))
	})
}

func (bb *badgerBatch) Delete(key []byte) error {
	return bb.stage("delete", func(txn *badger.Txn) error {
		return txn.Delete(bytes.Clone(key))
	})
}

func (bb *badgerBatch) Commit() error {
	if bb.err != nil {
		bb.txn.Discard()
		return bb.err
	}
	if err := bb.txn.Commit(); err != nil {
		return fmt.Errorf("badger batch commit: %w", err)
	}
	return nil
}
