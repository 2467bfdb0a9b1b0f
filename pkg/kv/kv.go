// Package kv implements the non-volatile key-value blob store from spec.md
// §4.2, backed by buntdb (the embedded, file-persisted KV library used by
// aistore — see DESIGN.md). Keys are register names; they are hashed with
// xxhash64 and rendered as a short base-62 digit string before becoming
// buntdb keys, per spec: "this bounds filename length ... and removes the
// ability to enumerate keys from storage (enumeration is served from the
// in-memory register tree instead)".
package kv

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/tidwall/buntdb"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
)

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// StorageKey renders name's 64-bit hash as a short base-62 string. Exported
// so pkg/register can log/compare storage keys without re-deriving the hash
// differently.
func StorageKey(name string) string {
	h := xxhash.Sum64String(name)
	if h == 0 {
		return "0"
	}
	var buf [11]byte // ceil(64 / log2(62)) = 11
	i := len(buf)
	for h > 0 {
		i--
		buf[i] = base62Alphabet[h%62]
		h /= 62
	}
	return string(buf[i:])
}

// UniqueIDKey is the special storage key for the node's 16-byte identity
// (spec §6: "a special key `.unique_id` holds the node's 16-byte identity").
const UniqueIDKey = ".unique_id"

// Store is the persistent KV contract: get/put/drop on byte blobs keyed by
// register name. Get, Put and Drop report failure only as a false return
// (spec: "the caller treats a missing key as 'use default'"); only Open and
// Close return an error.
type Store struct {
	db *buntdb.DB
}

// Open opens (creating if necessary) a buntdb-backed store at path. Pass
// ":memory:" for a volatile store, useful in tests and for nodes with no
// non-volatile backing (spec treats persistence as optional per-register).
func Open(path string) (*Store, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, cyerr.Wrap("kv.Open", cyerr.KindIO, err)
	}
	return &Store{db: db}, nil
}

// Close syncs and closes the underlying database file.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return cyerr.Wrap("kv.Close", cyerr.KindIO, err)
	}
	return nil
}

// Get fetches the blob stored under key (a register name, hashed
// internally). ok is false both when the key is absent and when the
// lookup failed for any reason that the caller should treat as "use
// default".
func (s *Store) Get(key string) (data []byte, ok bool) {
	storageKey := encodeKey(key)
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(storageKey)
		if err != nil {
			return err
		}
		data = []byte(val)
		return nil
	})
	return data, err == nil
}

// Put stores data under key, replacing any previous value.
func (s *Store) Put(key string, data []byte) bool {
	storageKey := encodeKey(key)
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(storageKey, string(data), nil)
		return err
	})
	return err == nil
}

// Drop removes key. It returns true whether or not the key was present,
// matching the "missing key is not an error" contract; it returns false
// only on a genuine store failure.
func (s *Store) Drop(key string) bool {
	storageKey := encodeKey(key)
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(storageKey)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
	return err == nil
}

func encodeKey(key string) string {
	if key == UniqueIDKey {
		return fmt.Sprintf("k:%s", key) // kept legible; collision-free vs. hashed register keys below
	}
	return "r:" + StorageKey(key)
}
