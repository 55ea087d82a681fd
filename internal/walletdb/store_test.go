package walletdb

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/Klingon-tech/slatewallet/internal/keychain"
	"github.com/Klingon-tech/slatewallet/internal/storage"
	"github.com/Klingon-tech/slatewallet/pkg/types"
	"github.com/Klingon-tech/slatewallet/pkg/werr"
)

var testNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(storage.NewMemory())
	t.Cleanup(func() { s.Close() })
	return s
}

func commit(b byte) types.Commitment {
	var c types.Commitment
	c[0] = 0x08
	c[32] = b
	return c
}

func addOutput(t *testing.T, s *Store, b byte, value uint64, status OutputStatus) types.Commitment {
	t.Helper()
	c := commit(b)
	err := s.Update(func(tx *Txn) error {
		return tx.AddOutput(&Output{
			Commit: c,
			Value:  value,
			KeyID:  keychain.KeyID{Branch: keychain.BranchBlind, Index: uint32(b)},
			Status: status,
			Height: 1,
		})
	})
	if err != nil {
		t.Fatalf("AddOutput: %v", err)
	}
	return c
}

func TestUpdate_RollbackOnError(t *testing.T) {
	s := newTestStore(t)
	c := addOutput(t, s, 1, 10, OutputUnspent)

	boom := errors.New("boom")
	err := s.Update(func(tx *Txn) error {
		if err := tx.SetOutputStatus(c, OutputLocked, nil); err != nil {
			return err
		}
		if err := tx.AppendTx(&TxLogEntry{SlateID: "a", Status: StatusCreated}, testNow); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update() error = %v, want boom", err)
	}

	s.View(func(r *Reader) error {
		o, err := r.Output(c)
		if err != nil {
			t.Fatalf("Output: %v", err)
		}
		if o.Status != OutputUnspent {
			t.Errorf("status = %s, want Unspent after rollback", o.Status)
		}
		txs, _ := r.Txs()
		if len(txs) != 0 {
			t.Errorf("got %d txs after rollback, want 0", len(txs))
		}
		return nil
	})
}

func TestUpdate_ReadsOwnWrites(t *testing.T) {
	s := newTestStore(t)
	c := addOutput(t, s, 1, 10, OutputUnspent)

	err := s.Update(func(tx *Txn) error {
		if err := tx.SetOutputStatus(c, OutputLocked, nil); err != nil {
			return err
		}
		locked, err := tx.OutputsByStatus(OutputLocked)
		if err != nil {
			return err
		}
		if len(locked) != 1 {
			t.Errorf("locked inside txn = %d, want 1", len(locked))
		}
		return tx.DeleteOutput(c)
	})
	if !errors.Is(err, werr.ErrInvalidState) {
		t.Fatalf("deleting a locked output: error = %v, want ErrInvalidState", err)
	}
}

func TestSetOutputStatus_Transitions(t *testing.T) {
	s := newTestStore(t)
	c := addOutput(t, s, 1, 10, OutputUnconfirmed)

	tests := []struct {
		next    OutputStatus
		wantErr error
	}{
		{OutputLocked, werr.ErrLockConflict},
		{OutputSpent, werr.ErrInvalidState},
		{OutputUnspent, nil},
		{OutputLocked, nil},
		{OutputLocked, werr.ErrLockConflict},
		{OutputUnspent, nil},
		{OutputLocked, nil},
		{OutputSpent, nil},
		{OutputUnspent, werr.ErrInvalidState},
	}
	for i, tt := range tests {
		err := s.Update(func(tx *Txn) error {
			return tx.SetOutputStatus(c, tt.next, nil)
		})
		if tt.wantErr == nil && err != nil {
			t.Fatalf("step %d -> %s: unexpected error %v", i, tt.next, err)
		}
		if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
			t.Fatalf("step %d -> %s: error = %v, want %v", i, tt.next, err, tt.wantErr)
		}
	}
}

func TestSetOutputStatus_UnlockClearsTx(t *testing.T) {
	s := newTestStore(t)
	c := addOutput(t, s, 1, 10, OutputUnspent)
	id := uint64(7)

	s.Update(func(tx *Txn) error { return tx.SetOutputStatus(c, OutputLocked, &id) })
	s.Update(func(tx *Txn) error { return tx.SetOutputStatus(c, OutputUnspent, nil) })

	s.View(func(r *Reader) error {
		o, _ := r.Output(c)
		if o.TxLogID != nil {
			t.Errorf("TxLogID = %d after unlock, want nil", *o.TxLogID)
		}
		return nil
	})
}

func TestAddOutput_Duplicate(t *testing.T) {
	s := newTestStore(t)
	addOutput(t, s, 1, 10, OutputUnspent)
	err := s.Update(func(tx *Txn) error {
		return tx.AddOutput(&Output{Commit: commit(1), Value: 99, Status: OutputUnspent})
	})
	if !errors.Is(err, werr.ErrInvalidState) {
		t.Fatalf("duplicate AddOutput error = %v, want ErrInvalidState", err)
	}
}

func TestAppendTx_MonotonicIDs(t *testing.T) {
	s := newTestStore(t)
	for i, slateID := range []string{"a", "b", "c"} {
		var got uint64
		err := s.Update(func(tx *Txn) error {
			e := &TxLogEntry{SlateID: slateID, Status: StatusCreated}
			if err := tx.AppendTx(e, testNow); err != nil {
				return err
			}
			got = e.ID
			return nil
		})
		if err != nil {
			t.Fatalf("AppendTx(%s): %v", slateID, err)
		}
		if got != uint64(i+1) {
			t.Errorf("id = %d, want %d", got, i+1)
		}
	}

	err := s.Update(func(tx *Txn) error {
		return tx.AppendTx(&TxLogEntry{SlateID: "b"}, testNow)
	})
	if !errors.Is(err, werr.ErrInvalidState) {
		t.Errorf("duplicate slate error = %v, want ErrInvalidState", err)
	}

	s.View(func(r *Reader) error {
		e, err := r.TxBySlate("c")
		if err != nil {
			t.Fatalf("TxBySlate: %v", err)
		}
		if e.ID != 3 {
			t.Errorf("TxBySlate(c).ID = %d, want 3", e.ID)
		}
		if _, err := r.TxBySlate("zzz"); !errors.Is(err, werr.ErrNotFound) {
			t.Errorf("missing slate error = %v, want ErrNotFound", err)
		}
		return nil
	})
}

func TestSetTxStatus_Monotone(t *testing.T) {
	s := newTestStore(t)
	s.Update(func(tx *Txn) error {
		return tx.AppendTx(&TxLogEntry{SlateID: "x", Status: StatusCreated}, testNow)
	})

	steps := []struct {
		status TxStatus
		ok     bool
	}{
		{StatusSent, true},
		{StatusCreated, false},
		{StatusReceived, false},
		{StatusFinalized, true},
		{StatusConfirmed, true},
		{StatusCancelled, false},
	}
	for _, st := range steps {
		err := s.Update(func(tx *Txn) error {
			_, err := tx.SetTxStatus(1, st.status, testNow)
			return err
		})
		if st.ok && err != nil {
			t.Fatalf("-> %s: %v", st.status, err)
		}
		if !st.ok && !errors.Is(err, werr.ErrInvalidState) {
			t.Fatalf("-> %s: error = %v, want ErrInvalidState", st.status, err)
		}
	}

	s.View(func(r *Reader) error {
		e, _ := r.Tx(1)
		if e.Status != StatusConfirmed {
			t.Errorf("status = %s, want Confirmed", e.Status)
		}
		if e.ConfirmedAt == nil {
			t.Error("ConfirmedAt not set")
		}
		return nil
	})
}

func TestTxStatus_Rank(t *testing.T) {
	if StatusCancelled.CanTransition(StatusConfirmed) {
		t.Error("Cancelled -> Confirmed allowed")
	}
	if !StatusCreated.CanTransition(StatusCancelled) {
		t.Error("Created -> Cancelled rejected")
	}
	if StatusReceived.IsTerminal() {
		t.Error("Received reported terminal")
	}
	if TxStatus("bogus").CanTransition(StatusConfirmed) {
		t.Error("unknown status allowed to transition")
	}
}

func TestAccounts(t *testing.T) {
	s := newTestStore(t)

	err := s.Update(func(tx *Txn) error {
		a, err := tx.CreateAccount("savings")
		if err != nil {
			return err
		}
		if a.Index != 1 {
			t.Errorf("savings index = %d, want 1", a.Index)
		}
		_, err = tx.CreateAccount("savings")
		if !errors.Is(err, werr.ErrInvalidState) {
			t.Errorf("duplicate account error = %v", err)
		}
		for want := uint32(0); want < 3; want++ {
			_, idx, err := tx.NextBlindIndex(DefaultAccount)
			if err != nil {
				return err
			}
			if idx != want {
				t.Errorf("NextBlindIndex = %d, want %d", idx, want)
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	s.View(func(r *Reader) error {
		accts, _ := r.Accounts()
		if len(accts) != 2 || accts[0].Name != DefaultAccount {
			t.Errorf("Accounts() = %+v", accts)
		}
		return nil
	})
}

func TestContacts(t *testing.T) {
	s := newTestStore(t)
	s.Update(func(tx *Txn) error {
		tx.PutContact(Contact{Name: "bob", Address: "addr-b"})
		return tx.PutContact(Contact{Name: "alice", Address: "addr-a"})
	})

	s.View(func(r *Reader) error {
		cs, _ := r.Contacts()
		if len(cs) != 2 || cs[0].Name != "alice" {
			t.Errorf("Contacts() = %+v, want alice first", cs)
		}
		return nil
	})

	err := s.Update(func(tx *Txn) error { return tx.DeleteContact("carol") })
	if !errors.Is(err, werr.ErrNotFound) {
		t.Errorf("DeleteContact(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMeta(t *testing.T) {
	s := newTestStore(t)
	s.Update(func(tx *Txn) error {
		tx.SetTip(1234)
		tx.SetAddressIndex(5)
		return nil
	})
	s.View(func(r *Reader) error {
		if tip, _ := r.Tip(); tip != 1234 {
			t.Errorf("Tip() = %d", tip)
		}
		if idx, _ := r.AddressIndex(); idx != 5 {
			t.Errorf("AddressIndex() = %d", idx)
		}
		if _, err := r.Context("nope"); !errors.Is(err, werr.ErrInvalidState) {
			t.Errorf("Context(missing) error = %v", err)
		}
		return nil
	})
}

func TestBoltBackedStore(t *testing.T) {
	db, err := storage.Open(storage.BackendBolt, filepath.Join(t.TempDir(), "wallet.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s := New(db)
	defer s.Close()

	c := addOutput(t, s, 3, 30, OutputUnspent)
	s.View(func(r *Reader) error {
		o, err := r.Output(c)
		if err != nil {
			t.Fatalf("Output: %v", err)
		}
		if o.Value != 30 {
			t.Errorf("Value = %d, want 30", o.Value)
		}
		return nil
	})
}
