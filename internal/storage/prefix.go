package storage

import "bytes"

// PrefixDB is a view of a DB restricted to the keys under one namespace.
// The p2p peer book and ban list share the wallet database this way.
// Keys passed in and handed back are relative to the namespace.
type PrefixDB struct {
	inner DB
	ns    []byte
}

// NewPrefixDB returns the namespace ns of inner. Nesting a PrefixDB
// concatenates the namespaces.
func NewPrefixDB(inner DB, ns []byte) *PrefixDB {
	if p, ok := inner.(*PrefixDB); ok {
		return &PrefixDB{inner: p.inner, ns: p.abs(ns)}
	}
	return &PrefixDB{inner: inner, ns: bytes.Clone(ns)}
}

// Namespace returns the absolute key prefix of the view.
func (p *PrefixDB) Namespace() []byte { return bytes.Clone(p.ns) }

func (p *PrefixDB) abs(key []byte) []byte {
	return append(bytes.Clone(p.ns), key...)
}

func (p *PrefixDB) Get(key []byte) ([]byte, error) { return p.inner.Get(p.abs(key)) }

func (p *PrefixDB) Put(key, value []byte) error { return p.inner.Put(p.abs(key), value) }

func (p *PrefixDB) Delete(key []byte) error { return p.inner.Delete(p.abs(key)) }

func (p *PrefixDB) Has(key []byte) (bool, error) { return p.inner.Has(p.abs(key)) }

// ForEach visits the keys starting with prefix inside the namespace.
func (p *PrefixDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	n := len(p.ns)
	return p.inner.ForEach(p.abs(prefix), func(key, value []byte) error {
		return fn(key[n:], value)
	})
}

// DeleteAll empties the namespace in one batch.
func (p *PrefixDB) DeleteAll() error {
	b := p.NewBatch()
	err := p.ForEach(nil, func(key, _ []byte) error {
		return b.Delete(key)
	})
	if err != nil {
		return err
	}
	return b.Commit()
}

// Close leaves the underlying DB open.
func (p *PrefixDB) Close() error { return nil }

// NewBatch returns a batch scoped to the namespace. It is atomic when the
// underlying DB supports batches and replays writes one by one otherwise.
func (p *PrefixDB) NewBatch() Batch {
	if b, ok := p.inner.(Batcher); ok {
		return &nsBatch{Batch: b.NewBatch(), view: p}
	}
	return &nsBatch{Batch: &replayBatch{db: p.inner}, view: p}
}

type nsBatch struct {
	Batch
	view *PrefixDB
}

func (b *nsBatch) Put(key, value []byte) error { return b.Batch.Put(b.view.abs(key), value) }

func (b *nsBatch) Delete(key []byte) error { return b.Batch.Delete(b.view.abs(key)) }

// replayBatch buffers writes for a DB without native batches.
type replayBatch struct {
	db  DB
	ops []batchOp
}

func (r *replayBatch) Put(key, value []byte) error {
	r.ops = append(r.ops, batchOp{key: bytes.Clone(key), value: bytes.Clone(value)})
	return nil
}

func (r *replayBatch) Delete(key []byte) error {
	r.ops = append(r.ops, batchOp{key: bytes.Clone(key), delete: true})
	return nil
}

func (r *replayBatch) Commit() error {
	for _, op := range r.ops {
		var err error
		if op.delete {
			err = r.db.Delete(op.key)
		} else {
			err = r.db.Put(op.key, op.value)
		}
		if err != nil {
			return err
		}
	}
	r.ops = nil
	return nil
}
