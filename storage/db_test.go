package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func testDatabase(t *testing.T, db Database) {
	t.Helper()
	key := []byte("esc/00")

	if _, err := db.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get missing key err = %v, want ErrNotFound", err)
	}
	if ok, err := db.Has(key); err != nil || ok {
		t.Fatalf("has missing key = %v, %v", ok, err)
	}

	if err := db.Put(key, []byte("one")); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, err := db.Get(key)
	if err != nil || string(got) != "one" {
		t.Fatalf("get = %q, %v", got, err)
	}
	if err := db.Put(key, []byte("two")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = db.Get(key)
	if string(got) != "two" {
		t.Fatalf("overwrite lost: %q", got)
	}

	if err := db.Delete(key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get(key); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get deleted key err = %v, want ErrNotFound", err)
	}
	// Deleting an absent key is not an error.
	if err := db.Delete(key); err != nil {
		t.Fatalf("delete absent: %v", err)
	}
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	testDatabase(t, db)
}

func TestMemDBCopiesValues(t *testing.T) {
	db := NewMemDB()
	defer db.Close()
	value := []byte("original")
	if err := db.Put([]byte("k"), value); err != nil {
		t.Fatalf("put: %v", err)
	}
	value[0] = 'X'
	got, err := db.Get([]byte("k"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "original" {
		t.Fatalf("stored value aliased caller buffer: %q", got)
	}
	got[0] = 'Y'
	again, _ := db.Get([]byte("k"))
	if string(again) != "original" {
		t.Fatalf("returned value aliased store: %q", again)
	}
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "ledger"))
	if err != nil {
		t.Fatalf("open leveldb: %v", err)
	}
	defer db.Close()
	testDatabase(t, db)
}
