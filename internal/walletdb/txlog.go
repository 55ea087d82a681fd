package walletdb

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

var metaNextTxID = key(prefixMeta, []byte("next_tx_id"))

func txKey(id uint64) []byte { return uint64Key(prefixTx, id) }

// Tx returns the log entry with the given id.
func (r *Reader) Tx(id uint64) (*TxLogEntry, error) {
	var e TxLogEntry
	ok, err := r.getJSON(txKey(id), &e)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, werr.Entity(werr.ErrNotFound, "tx", fmt.Sprint(id))
	}
	return &e, nil
}

// TxBySlate returns the log entry for a slate id.
func (r *Reader) TxBySlate(slateID string) (*TxLogEntry, error) {
	data, ok, err := r.kv.get(key(prefixSlate, []byte(slateID)))
	if err != nil {
		return nil, werr.Persistence("get", err)
	}
	if !ok || len(data) != 8 {
		return nil, werr.Entity(werr.ErrNotFound, "slate", slateID)
	}
	return r.Tx(binary.BigEndian.Uint64(data))
}

// HasSlate reports whether the slate id is already logged.
func (r *Reader) HasSlate(slateID string) (bool, error) {
	_, ok, err := r.kv.get(key(prefixSlate, []byte(slateID)))
	if err != nil {
		return false, werr.Persistence("get", err)
	}
	return ok, nil
}

// Txs returns all log entries in id order.
func (r *Reader) Txs() ([]*TxLogEntry, error) {
	var out []*TxLogEntry
	err := scanJSON(r, prefixTx, func(e TxLogEntry) error {
		out = append(out, &e)
		return nil
	})
	return out, err
}

// AppendTx assigns the next monotonic id to e and stores it.
func (t *Txn) AppendTx(e *TxLogEntry, now time.Time) error {
	if e.SlateID != "" {
		dup, err := t.HasSlate(e.SlateID)
		if err != nil {
			return err
		}
		if dup {
			return werr.Entity(werr.Wrap(werr.ErrInvalidState, "slate already logged"), "slate", e.SlateID)
		}
	}

	next := uint64(1)
	if data, ok, err := t.kv.get(metaNextTxID); err != nil {
		return werr.Persistence("get", err)
	} else if ok && len(data) == 8 {
		next = binary.BigEndian.Uint64(data)
	}

	e.ID = next
	e.CreatedAt = now
	e.UpdatedAt = now
	if err := t.putJSON(txKey(e.ID), e); err != nil {
		return err
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], next+1)
	t.ov.put(metaNextTxID, buf[:])
	if e.SlateID != "" {
		binary.BigEndian.PutUint64(buf[:], e.ID)
		t.ov.put(key(prefixSlate, []byte(e.SlateID)), append([]byte(nil), buf[:]...))
	}
	return nil
}

// UpdateTx applies fn to the entry and stores it. A status change made by
// fn must move strictly forward.
func (t *Txn) UpdateTx(id uint64, now time.Time, fn func(e *TxLogEntry) error) (*TxLogEntry, error) {
	e, err := t.Tx(id)
	if err != nil {
		return nil, err
	}
	before := e.Status
	if err := fn(e); err != nil {
		return nil, err
	}
	if e.Status != before && !before.CanTransition(e.Status) {
		return nil, werr.Entity(werr.Wrap(werr.ErrInvalidState, "tx %s -> %s", before, e.Status), "tx", fmt.Sprint(id))
	}
	e.ID = id
	e.UpdatedAt = now
	if e.Status == StatusConfirmed && e.ConfirmedAt == nil {
		at := now
		e.ConfirmedAt = &at
	}
	return e, t.putJSON(txKey(id), e)
}

// SetTxStatus moves a transaction to status.
func (t *Txn) SetTxStatus(id uint64, status TxStatus, now time.Time) (*TxLogEntry, error) {
	return t.UpdateTx(id, now, func(e *TxLogEntry) error {
		e.Status = status
		return nil
	})
}
