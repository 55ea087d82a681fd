package walletdb

import (
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

func outputKey(c types.Commitment) []byte { return key(prefixOutput, c[:]) }

// Output returns the output with commitment c.
func (r *Reader) Output(c types.Commitment) (*Output, error) {
	var o Output
	ok, err := r.getJSON(outputKey(c), &o)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, werr.Entity(werr.ErrNotFound, "output", c.String())
	}
	return &o, nil
}

// Outputs returns every output matching filter (nil matches all), ordered
// by commitment.
func (r *Reader) Outputs(filter func(*Output) bool) ([]*Output, error) {
	var out []*Output
	err := scanJSON(r, prefixOutput, func(o Output) error {
		if filter == nil || filter(&o) {
			out = append(out, &o)
		}
		return nil
	})
	return out, err
}

// OutputsByStatus returns outputs in the given status.
func (r *Reader) OutputsByStatus(status OutputStatus) ([]*Output, error) {
	return r.Outputs(func(o *Output) bool { return o.Status == status })
}

// AddOutput inserts a new output. Commitments are unique.
func (t *Txn) AddOutput(o *Output) error {
	_, exists, err := t.kv.get(outputKey(o.Commit))
	if err != nil {
		return werr.Persistence("get", err)
	}
	if exists {
		return werr.Entity(werr.Wrap(werr.ErrInvalidState, "duplicate output"), "output", o.Commit.String())
	}
	return t.putJSON(outputKey(o.Commit), o)
}

// PutOutput overwrites an output record without status checks. Use
// SetOutputStatus for lifecycle changes.
func (t *Txn) PutOutput(o *Output) error {
	return t.putJSON(outputKey(o.Commit), o)
}

// SetOutputStatus moves an output along its lifecycle. Locking an output
// that is not Unspent fails with ErrLockConflict; any other illegal move
// fails with ErrInvalidState.
func (t *Txn) SetOutputStatus(c types.Commitment, next OutputStatus, txLogID *uint64) error {
	o, err := t.Output(c)
	if err != nil {
		return err
	}
	if !o.Status.CanTransition(next) {
		if next == OutputLocked {
			return werr.Entity(werr.Wrap(werr.ErrLockConflict, "status %s", o.Status), "output", c.String())
		}
		return werr.Entity(werr.Wrap(werr.ErrInvalidState, "output %s -> %s", o.Status, next), "output", c.String())
	}
	if o.Status == OutputLocked && next == OutputUnspent {
		// Unlocked outputs no longer belong to the cancelled transaction.
		o.TxLogID = nil
	}
	o.Status = next
	if txLogID != nil {
		id := *txLogID
		o.TxLogID = &id
	}
	return t.putJSON(outputKey(c), o)
}

// DeleteOutput removes an output. Only Unconfirmed outputs may be deleted:
// they were never on chain.
func (t *Txn) DeleteOutput(c types.Commitment) error {
	o, err := t.Output(c)
	if err != nil {
		return err
	}
	if o.Status != OutputUnconfirmed {
		return werr.Entity(werr.Wrap(werr.ErrInvalidState, "cannot delete %s output", o.Status), "output", c.String())
	}
	t.ov.del(outputKey(c))
	return nil
}
