package storage

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("wallet")

// BoltDB implements DB using a single bbolt bucket. It suits wallets that
// prefer a single-file database over badger's directory of value logs.
type BoltDB struct {
	db *bolt.DB
}

// NewBolt opens (or creates) a bbolt database file at path.
func NewBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, fmt.Errorf("wallet database at %s is locked by another process: %w", path, err)
		}
		return nil, fmt.Errorf("open bolt database at %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}
	return &BoltDB{db: db}, nil
}

// Get retrieves a value by key.
func (b *BoltDB) Get(key []byte) ([]byte, error) {
	var val []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v, ok := boltLookup(tx, key)
		if !ok {
			return ErrNotFound
		}
		val = cloneValue(v)
		return nil
	})
	return val, err
}

// Put stores a key-value pair.
func (b *BoltDB) Put(key, value []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, value)
	})
	if err != nil {
		return fmt.Errorf("bolt put: %w", err)
	}
	return nil
}

// Delete removes a key.
func (b *BoltDB) Delete(key []byte) error {
	err := b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
	if err != nil {
		return fmt.Errorf("bolt delete: %w", err)
	}
	return nil
}

// Has checks if a key exists.
func (b *BoltDB) Has(key []byte) (bool, error) {
	var exists bool
	err := b.db.View(func(tx *bolt.Tx) error {
		_, exists = boltLookup(tx, key)
		return nil
	})
	return exists, err
}

// ForEach iterates over all keys with the given prefix. Pairs are copied
// out of the read transaction first, because bbolt forbids opening a write
// transaction while a read transaction is held by the same goroutine.
func (b *BoltDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	var keys, values [][]byte
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			keys = append(keys, cloneValue(k))
			values = append(values, cloneValue(v))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt iterate: %w", err)
	}
	for i := range keys {
		if err := fn(keys[i], values[i]); err != nil {
			return err
		}
	}
	return nil
}

// boltLookup finds key with a cursor, since Get cannot tell an empty value
// from a missing key.
func boltLookup(tx *bolt.Tx, key []byte) ([]byte, bool) {
	k, v := tx.Bucket(boltBucket).Cursor().Seek(key)
	if k == nil || !bytes.Equal(k, key) {
		return nil, false
	}
	return v, true
}

// Close closes the database.
func (b *BoltDB) Close() error {
	return b.db.Close()
}

// NewBatch returns a batch committed in one bbolt write transaction.
func (b *BoltDB) NewBatch() Batch {
	return &boltBatch{db: b.db}
}

type boltBatch struct {
	db  *bolt.DB
	ops []batchOp
}

func (bb *boltBatch) Put(key, value []byte) error {
	bb.ops = append(bb.ops, batchOp{key: cloneValue(key), value: cloneValue(value)})
	return nil
}

func (bb *boltBatch) Delete(key []byte) error {
	bb.ops = append(bb.ops, batchOp{key: cloneValue(key), delete: true})
	return nil
}

func (bb *boltBatch) Commit() error {
	err := bb.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(boltBucket)
		for _, op := range bb.ops {
			var err error
			if op.delete {
				err = bkt.Delete(op.key)
			} else {
				err = bkt.Put(op.key, op.value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("bolt batch commit: %w", err)
	}
	bb.ops = nil
	return nil
}
