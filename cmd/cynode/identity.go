package main

import (
	"github.com/google/uuid"

	"github.com/opencyphal-garage/cynode/pkg/kv"
)

// loadOrCreateUniqueID loads the node's 16-byte identity from the special
// ".unique_id" KV key (spec.md §6 "Persistent state layout"), generating
// and persisting a fresh one on first boot (spec.md §3 "Unique-ID ...
// persistent across restarts; generated on first boot"). It opens and
// closes its own handle on path so the caller's later kv.Open (inside
// node.New) sees a file with the identity already committed.
func loadOrCreateUniqueID(path string) ([16]byte, error) {
	var id [16]byte

	store, err := kv.Open(path)
	if err != nil {
		return id, err
	}
	defer store.Close()

	if data, ok := store.Get(kv.UniqueIDKey); ok && len(data) == 16 {
		copy(id[:], data)
		return id, nil
	}

	fresh := uuid.New()
	copy(id[:], fresh[:])
	store.Put(kv.UniqueIDKey, id[:])
	return id, nil
}
