package store

import (
	"bytes"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	var s Store = NewMemoryStore()

	if err := s.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.Set([]byte("k2"), []byte("v2")); err != nil {
		t.Fatalf("set: %v", err)
	}

	data, found := s.Get([]byte("k1"))
	if !found || !bytes.Equal(data, []byte("v1")) {
		t.Fatalf("get: found %v data %q", found, data)
	}
	if _, found := s.Get([]byte("absent")); found {
		t.Fatal("absent key found")
	}
	if s.Count() != 2 {
		t.Fatalf("count: got %d want 2", s.Count())
	}

	// Stored records are isolated from caller mutations.
	value := []byte("mutable")
	s.Set([]byte("k3"), value)
	value[0] = 'X'
	if data, _ := s.Get([]byte("k3")); !bytes.Equal(data, []byte("mutable")) {
		t.Fatal("store aliased the caller's slice")
	}

	seen := 0
	s.Iterate(func(key, data []byte) bool {
		seen++
		return true
	})
	if seen != 3 {
		t.Fatalf("iterate visited %d records, want 3", seen)
	}

	if err := s.Delete([]byte("k1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Delete([]byte("k1")); err != nil {
		t.Fatalf("double delete: %v", err)
	}
	if s.Count() != 2 {
		t.Fatalf("count after delete: got %d want 2", s.Count())
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Set([]byte("k4"), []byte("v4")); err == nil {
		t.Fatal("write accepted after close")
	}
}
