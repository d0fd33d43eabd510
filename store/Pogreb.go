/*
File Name:  Pogreb.go
Copyright:  2025 Meshchat s.r.o.
Author:     Meshchat Developers

On-disk favorites store backed by Pogreb. Pogreb is append-only with an
in-memory index, which fits the access pattern here: a small table, rare
writes on pin/unpin, a full walk on startup and API listing.
*/

package store

import (
	"io"
	"log"

	"github.com/akrylysov/pogreb"
)

// PogrebStore persists favorites in a Pogreb database directory.
type PogrebStore struct {
	db *pogreb.DB
}

// NewPogrebStore opens the database, creating it if absent. Pogreb's own
// logging is silenced; store errors surface to the caller instead.
func NewPogrebStore(path string) (store *PogrebStore, err error) {
	pogreb.SetLogger(log.New(io.Discard, "", 0))

	db, err := pogreb.Open(path, nil)
	if err != nil {
		return nil, err
	}

	return &PogrebStore{db: db}, nil
}

// Set writes a record, overwriting any previous one under the key.
func (store *PogrebStore) Set(key []byte, data []byte) error {
	return store.db.Put(key, data)
}

// Get returns the record for the key if present.
func (store *PogrebStore) Get(key []byte) (data []byte, found bool) {
	data, err := store.db.Get(key)
	if err != nil || data == nil {
		return nil, false
	}
	return data, true
}

// Delete removes a record. Deleting an absent key is not an error.
func (store *PogrebStore) Delete(key []byte) error {
	return store.db.Delete(key)
}

// Iterate walks all records until the callback returns false.
func (store *PogrebStore) Iterate(callback func(key, data []byte) bool) {
	it := store.db.Items()
	for {
		key, data, err := it.Next()
		if err != nil {
			return // pogreb.ErrIterationDone, or a read error ending the walk
		}
		if !callback(key, data) {
			return
		}
	}
}

// Count returns the number of stored records.
func (store *PogrebStore) Count() uint64 {
	return uint64(store.db.Count())
}

// Close syncs the database to disk and closes it.
func (store *PogrebStore) Close() error {
	if err := store.db.Sync(); err != nil {
		store.db.Close()
		return err
	}
	return store.db.Close()
}
