// Package walletdb persists the wallet's outputs, transaction log, slate
// contexts, contacts and accounts on top of a storage.DB.
//
// All structural mutations go through Store.Update, which holds the store's
// write lock for the whole callback and commits every buffered write in one
// atomic batch. Reads go through Store.View and may run concurrently.
package walletdb

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/Klingon-tech/slatewallet/internal/storage"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

// Key prefixes.
var (
	prefixOutput  = []byte("o/")
	prefixTx      = []byte("t/")
	prefixSlate   = []byte("s/")
	prefixContext = []byte("c/")
	prefixContact = []byte("k/")
	prefixAccount = []byte("a/")
	prefixFinal   = []byte("f/")
	prefixMeta    = []byte("m/")
)

// Store is the wallet database.
type Store struct {
	db storage.DB
	mu sync.RWMutex
}

// New wraps db.
func New(db storage.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// View runs fn against the committed state under a shared lock.
func (s *Store) View(fn func(r *Reader) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&Reader{kv: dbReader{db: s.db}})
}

// Update runs fn with exclusive access. Writes made through the Txn are
// visible to later reads inside fn and are committed atomically when fn
// returns nil. If fn fails nothing is written.
func (s *Store) Update(fn func(tx *Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	txn := newTxn(s.db)
	if err := fn(txn); err != nil {
		return err
	}
	if err := txn.commit(); err != nil {
		return werr.Persistence("commit", err)
	}
	return nil
}

// kv is the read surface shared by committed and buffered views.
type kv interface {
	get(key []byte) ([]byte, bool, error)
	forEach(prefix []byte, fn func(key, value []byte) error) error
}

type dbReader struct {
	db storage.DB
}

func (d dbReader) get(key []byte) ([]byte, bool, error) {
	v, err := d.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (d dbReader) forEach(prefix []byte, fn func(key, value []byte) error) error {
	return d.db.ForEach(prefix, fn)
}

// overlay buffers writes on top of the database.
type overlay struct {
	base    dbReader
	writes  map[string][]byte
	deletes map[string]bool
	order   []string
}

func (o *overlay) get(key []byte) ([]byte, bool, error) {
	k := string(key)
	if o.deletes[k] {
		return nil, false, nil
	}
	if v, ok := o.writes[k]; ok {
		return v, true, nil
	}
	return o.base.get(key)
}

func (o *overlay) forEach(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	err := o.base.forEach(prefix, func(key, value []byte) error {
		merged[string(key)] = value
		return nil
	})
	if err != nil {
		return err
	}
	p := string(prefix)
	for k, v := range o.writes {
		if len(k) >= len(p) && k[:len(p)] == p {
			merged[k] = v
		}
	}
	for k := range o.deletes {
		delete(merged, k)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := fn([]byte(k), merged[k]); err != nil {
			return err
		}
	}
	return nil
}

func (o *overlay) put(key, value []byte) {
	k := string(key)
	delete(o.deletes, k)
	if _, seen := o.writes[k]; !seen {
		o.order = append(o.order, k)
	}
	o.writes[k] = value
}

func (o *overlay) del(key []byte) {
	k := string(key)
	if _, seen := o.writes[k]; seen {
		delete(o.writes, k)
	}
	if !o.deletes[k] {
		o.order = append(o.order, k)
	}
	o.deletes[k] = true
}

// Reader exposes typed reads.
type Reader struct {
	kv kv
}

// Txn is a buffered read-write view used inside Store.Update.
type Txn struct {
	Reader
	ov *overlay
}

func newTxn(db storage.DB) *Txn {
	ov := &overlay{base: dbReader{db: db}, writes: map[string][]byte{}, deletes: map[string]bool{}}
	return &Txn{Reader: Reader{kv: ov}, ov: ov}
}

func (t *Txn) commit() error {
	if len(t.ov.order) == 0 {
		return nil
	}
	db := t.ov.base.db
	var batch storage.Batch
	if b, ok := db.(storage.Batcher); ok {
		batch = b.NewBatch()
	} else {
		batch = &directBatch{db: db}
	}
	for _, k := range t.ov.order {
		var err error
		if t.ov.deletes[k] {
			err = batch.Delete([]byte(k))
		} else if v, ok := t.ov.writes[k]; ok {
			err = batch.Put([]byte(k), v)
		}
		if err != nil {
			return err
		}
	}
	return batch.Commit()
}

// directBatch applies writes one by one for stores without batch support.
type directBatch struct {
	db  storage.DB
	ops []func() error
}

func (d *directBatch) Put(key, value []byte) error {
	d.ops = append(d.ops, func() error { return d.db.Put(key, value) })
	return nil
}

func (d *directBatch) Delete(key []byte) error {
	d.ops = append(d.ops, func() error { return d.db.Delete(key) })
	return nil
}

func (d *directBatch) Commit() error {
	for _, op := range d.ops {
		if err := op(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) getJSON(key []byte, v any) (bool, error) {
	data, ok, err := r.kv.get(key)
	if err != nil {
		return false, werr.Persistence("get", err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, werr.Persistence(fmt.Sprintf("decode %q", key), err)
	}
	return true, nil
}

func (t *Txn) putJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return werr.Persistence("encode", err)
	}
	t.ov.put(key, data)
	return nil
}

func scanJSON[T any](r *Reader, prefix []byte, fn func(T) error) error {
	return r.kv.forEach(prefix, func(key, value []byte) error {
		var v T
		if err := json.Unmarshal(value, &v); err != nil {
			return werr.Persistence(fmt.Sprintf("decode %q", key), err)
		}
		return fn(v)
	})
}

func key(prefix []byte, suffix []byte) []byte {
	out := make([]byte, 0, len(prefix)+len(suffix))
	out = append(out, prefix...)
	return append(out, suffix...)
}

func uint64Key(prefix []byte, id uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], id)
	return key(prefix, buf[:])
}
