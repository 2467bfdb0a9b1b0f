package register

import (
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
	"github.com/opencyphal-garage/cynode/pkg/kv"
)

// Getter is a dynamic register accessor (spec §3: "Registers with a dynamic
// getter expose live state ... and are never stored"). Dynamic dispatch
// point per spec §9.
type Getter func() Value

// Register is one named, typed entry in the tree (spec.md §3 data model
// row "Register").
type Register struct {
	Name            string
	Value           Value
	Persistent      bool
	RemotelyMutable bool
	Getter          Getter
}

// Read returns the register's current value, invoking its dynamic getter if
// one is set (spec §3 ownership: "registers exclusively own their values
// unless a getter is set, then the value is re-computed on read").
func (r *Register) Read() Value {
	if r.Getter != nil {
		return r.Getter()
	}
	return r.Value
}

// Tree is the in-memory register store. Lookup by name is a Go map keyed on
// the register's 64-bit name hash (this replaces spec.md §4.3's "balanced
// ordered tree", which is how a from-scratch C implementation gets an
// ordered associative container; Go's builtin map is the idiomatic
// equivalent and the ordered traversal the spec actually needs is served by
// the frozen index slice below — see DESIGN.md).
type Tree struct {
	byHash  map[uint64]*Register
	ordered []*Register // insertion order; becomes the stable index after Freeze
	frozen  bool
	kv      *kv.Store
}

// NewTree creates an empty register tree, optionally backed by a
// persistent KV store for registers marked Persistent.
func NewTree(store *kv.Store) *Tree {
	return &Tree{
		byHash: make(map[uint64]*Register),
		kv:     store,
	}
}

// HashName returns the 64-bit hash spec.md §4.3 uses to key the tree.
func HashName(name string) uint64 { return xxhash.Sum64String(name) }

// JoinName joins name fragments with '.', per spec.md §4.3
// ("init_register(tree, name_fragments, defaults) (fragments joined by
// '.')").
func JoinName(fragments ...string) string { return strings.Join(fragments, ".") }

// InitRegister creates a register with the given default value if it
// doesn't already exist. If persistent and non-dynamic, its value is loaded
// from the KV store (falling back to def on any deserialize failure, per
// spec §4.3 "Persistence"). Calling InitRegister after Freeze is a
// configuration error (spec §4.3 "Indexing caveat", made concrete per
// SPEC_FULL.md §C.3).
func (t *Tree) InitRegister(name string, def Value, persistent, remotelyMutable bool, getter Getter) (*Register, error) {
	if t.frozen {
		return nil, cyerr.New("register.InitRegister", cyerr.KindArgument, "tree already frozen")
	}
	h := HashName(name)
	if existing, ok := t.byHash[h]; ok {
		return existing, nil
	}

	reg := &Register{
		Name:            name,
		Value:           def,
		Persistent:      persistent,
		RemotelyMutable: remotelyMutable,
		Getter:          getter,
	}

	if persistent && getter == nil && t.kv != nil {
		if data, ok := t.kv.Get(name); ok {
			var loaded Value
			if err := loaded.UnmarshalBinary(data); err == nil {
				reg.Value = loaded
			}
			// deserialize failure: keep the default, per spec.
		}
	}

	t.byHash[h] = reg
	t.ordered = append(t.ordered, reg)
	return reg, nil
}

// Freeze stabilizes the index ordering used by FindByIndex/port.List-style
// enumeration. No more registers may be added afterward.
func (t *Tree) Freeze() { t.frozen = true }

// FindByName returns the register named name, per spec.md §4.3
// "find_by_name(name)".
func (t *Tree) FindByName(name string) (*Register, bool) {
	r, ok := t.byHash[HashName(name)]
	return r, ok
}

// FindByIndex returns the register at position i in traversal order, per
// spec.md §4.3 "find_by_index(index)". Returns ok=false past the end,
// which the register.List handler maps to an empty name response.
func (t *Tree) FindByIndex(i int) (*Register, bool) {
	if i < 0 || i >= len(t.ordered) {
		return nil, false
	}
	return t.ordered[i], true
}

// Len reports the number of registers currently in the tree.
func (t *Tree) Len() int { return len(t.ordered) }

// Traverse visits every register in index order, per spec.md §4.3
// "traverse(visitor, context)". The visitor returns false to stop early.
func (t *Tree) Traverse(visit func(*Register) bool) {
	for _, r := range t.ordered {
		if !visit(r) {
			return
		}
	}
}

// Assign applies the spec §4.3 coercion rules to the named register's
// stored value, matching the Tree-level "assign(dst, src) -> bool"
// operation. It fails, leaving the register untouched (invariant 6), with
// a *cyerr.Error of kind Argument if name is unknown, and of kind Semantics
// if the register is not remotely mutable, is dynamic, or the variant
// mismatches.
func (t *Tree) Assign(name string, src Value) error {
	reg, ok := t.FindByName(name)
	if !ok {
		return cyerr.New("register.Assign", cyerr.KindArgument, "unknown register: "+name)
	}
	if !reg.RemotelyMutable {
		return cyerr.New("register.Assign", cyerr.KindSemantics, "register not remotely mutable: "+name)
	}
	if reg.Getter != nil {
		return cyerr.New("register.Assign", cyerr.KindSemantics, "dynamic register is read-only: "+name)
	}
	return Assign(&reg.Value, src)
}

// Override forcibly applies the spec §4.3 coercion rules to the named
// register regardless of its RemotelyMutable flag, for trusted local
// configuration paths (register defaults baked into a register file, or
// the "UAVCAN__..." environment overrides from spec.md §6) that are not
// the remote register.Access RPC invariant 6 guards against. Dynamic
// (Getter-backed) registers still reject the override, since their value
// is never stored.
func (t *Tree) Override(name string, src Value) error {
	reg, ok := t.FindByName(name)
	if !ok {
		return cyerr.New("register.Override", cyerr.KindArgument, "unknown register: "+name)
	}
	if reg.Getter != nil {
		return cyerr.New("register.Override", cyerr.KindSemantics, "dynamic register is read-only: "+name)
	}
	return Assign(&reg.Value, src)
}

// StorePersistent writes every persistent, non-dynamic register's current
// value to the KV store, per spec.md §4.3 "stored on controlled shutdown"
// and the ExecuteCommand STORE_PERSISTENT_STATES handler.
func (t *Tree) StorePersistent() error {
	if t.kv == nil {
		return nil
	}
	var firstErr error
	for _, reg := range t.ordered {
		if !reg.Persistent || reg.Getter != nil {
			continue
		}
		data, err := reg.Value.MarshalBinary()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !t.kv.Put(reg.Name, data) && firstErr == nil {
			firstErr = cyerr.New("register.StorePersistent", cyerr.KindIO, "kv put failed for "+reg.Name)
		}
	}
	return firstErr
}
