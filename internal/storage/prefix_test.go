package storage

import (
	"errors"
	"testing"
)

// plainDB hides the Batcher implementation of the wrapped store.
type plainDB struct{ DB }

func keysOf(t *testing.T, db DB, prefix string) []string {
	t.Helper()
	var keys []string
	if err := db.ForEach([]byte(prefix), func(k, _ []byte) error {
		keys = append(keys, string(k))
		return nil
	}); err != nil {
		t.Fatalf("ForEach(%q): %v", prefix, err)
	}
	return keys
}

func TestPrefixDB_Namespacing(t *testing.T) {
	inner := NewMemory()
	peers := NewPrefixDB(inner, []byte("peers/"))
	bans := NewPrefixDB(inner, []byte("bans/"))

	if err := peers.Put([]byte("id1"), []byte("addr")); err != nil {
		t.Fatal(err)
	}
	if err := bans.Put([]byte("id1"), []byte("until")); err != nil {
		t.Fatal(err)
	}

	if v, err := peers.Get([]byte("id1")); err != nil || string(v) != "addr" {
		t.Fatalf("peers.Get = %q, %v", v, err)
	}
	if v, err := inner.Get([]byte("bans/id1")); err != nil || string(v) != "until" {
		t.Fatalf("raw bans key = %q, %v", v, err)
	}
	if ok, _ := peers.Has([]byte("bans/id1")); ok {
		t.Error("peers view reaches into bans namespace")
	}

	if err := peers.Delete([]byte("id1")); err != nil {
		t.Fatal(err)
	}
	if _, err := peers.Get([]byte("id1")); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after Delete: err = %v, want ErrNotFound", err)
	}
	if ok, _ := bans.Has([]byte("id1")); !ok {
		t.Error("delete in one namespace removed the other")
	}
}

func TestPrefixDB_ForEachRelativeKeys(t *testing.T) {
	db := NewPrefixDB(NewMemory(), []byte("p2p/"))
	for _, k := range []string{"peer/a", "peer/b", "ban/c"} {
		db.Put([]byte(k), []byte("x"))
	}

	got := keysOf(t, db, "peer/")
	if len(got) != 2 || got[0] != "peer/a" || got[1] != "peer/b" {
		t.Errorf("peer keys = %v", got)
	}
	if got := keysOf(t, db, ""); len(got) != 3 {
		t.Errorf("all keys = %v, want 3", got)
	}

	stop := errors.New("stop")
	n := 0
	err := db.ForEach(nil, func(_, _ []byte) error {
		n++
		return stop
	})
	if err != stop || n != 1 {
		t.Errorf("early stop: err = %v after %d calls", err, n)
	}
}

func TestPrefixDB_Nested(t *testing.T) {
	inner := NewMemory()
	outer := NewPrefixDB(inner, []byte("p2p/"))
	peers := NewPrefixDB(outer, []byte("peers/"))

	if string(peers.Namespace()) != "p2p/peers/" {
		t.Fatalf("Namespace = %q", peers.Namespace())
	}
	peers.Put([]byte("k"), []byte("v"))
	if ok, _ := inner.Has([]byte("p2p/peers/k")); !ok {
		t.Error("nested write not stored under the joined namespace")
	}
	if got := keysOf(t, outer, ""); len(got) != 1 || got[0] != "peers/k" {
		t.Errorf("outer keys = %v", got)
	}
}

func TestPrefixDB_DeleteAll(t *testing.T) {
	for name, inner := range map[string]DB{
		"batcher": NewMemory(),
		"replay":  plainDB{NewMemory()},
	} {
		t.Run(name, func(t *testing.T) {
			a := NewPrefixDB(inner, []byte("a/"))
			b := NewPrefixDB(inner, []byte("b/"))
			for _, k := range []string{"1", "2", "3"} {
				a.Put([]byte(k), []byte("v"))
			}
			b.Put([]byte("1"), []byte("keep"))

			if err := a.DeleteAll(); err != nil {
				t.Fatalf("DeleteAll: %v", err)
			}
			if got := keysOf(t, a, ""); len(got) != 0 {
				t.Errorf("a still holds %v", got)
			}
			if v, err := b.Get([]byte("1")); err != nil || string(v) != "keep" {
				t.Errorf("b.Get = %q, %v", v, err)
			}
			// Emptying an empty namespace is fine.
			if err := a.DeleteAll(); err != nil {
				t.Errorf("second DeleteAll: %v", err)
			}
		})
	}
}

func TestPrefixDB_Batch(t *testing.T) {
	for name, inner := range map[string]DB{
		"batcher": NewMemory(),
		"replay":  plainDB{NewMemory()},
	} {
		t.Run(name, func(t *testing.T) {
			db := NewPrefixDB(inner, []byte("ns/"))
			db.Put([]byte("old"), []byte("v"))

			batch := db.NewBatch()
			batch.Put([]byte("new"), []byte("v2"))
			batch.Delete([]byte("old"))
			if ok, _ := db.Has([]byte("new")); ok {
				t.Fatal("batch write visible before Commit")
			}
			if err := batch.Commit(); err != nil {
				t.Fatalf("Commit: %v", err)
			}
			if got := keysOf(t, inner, ""); len(got) != 1 || got[0] != "ns/new" {
				t.Errorf("raw keys = %v, want [ns/new]", got)
			}
		})
	}
}

func TestPrefixDB_CloseKeepsInnerOpen(t *testing.T) {
	inner := NewMemory()
	db := NewPrefixDB(inner, []byte("x/"))
	db.Put([]byte("k"), []byte("v"))
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}
	if v, err := inner.Get([]byte("x/k")); err != nil || string(v) != "v" {
		t.Errorf("inner.Get after Close = %q, %v", v, err)
	}
}
