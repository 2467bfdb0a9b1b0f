// Package dsdl ships the minimal, explicit (de)serializers for the handful
// of standard Cyphal message/service types this node speaks. spec.md §1
// treats byte-level DSDL (de)serialization as an external collaborator with
// contract "serialize(value) -> bytes / deserialize(bytes) -> value|error";
// no general-purpose DSDL compiler exists in the example pack, so this
// package hand-writes fixed-layout little-endian codecs for exactly the
// types the node needs, rather than attempting a general solution that is
// explicitly out of scope. See SPEC_FULL.md §D.4 and DESIGN.md.
package dsdl

import "encoding/binary"

// NodeID identifies a node on the bus. NodeIDUnset marks an anonymous node
// (spec.md §3: "sentinel unset means anonymous").
type NodeID uint16

const NodeIDUnset NodeID = 0xFFFF

// PortID identifies a subject or service. PortIDUnset disables the
// corresponding publisher/subscriber without removing it from
// configuration (invariant 2).
type PortID uint16

const PortIDUnset PortID = 0xFFFF

// TransferID is the per-(source,port,role) monotonic counter from spec.md
// §3. Its effective width is transport-defined; callers mask with the
// transport's width before placing it on the wire.
type TransferID uint64

// Priority is the spec's 8-level ordered priority enum, "Exceptional < ...
// < Optional" — numerically ascending matches priority descending, which is
// also the standard Cyphal wire encoding.
type Priority uint8

const (
	PriorityExceptional Priority = iota
	PriorityImmediate
	PriorityFast
	PriorityHigh
	PriorityNominal
	PriorityLow
	PrioritySlow
	PriorityOptional
)

// Message is the contract every concrete type in this package satisfies:
// the external-collaborator "serialize/deserialize" pair from spec.md §1,
// shaped as the standard library's binary marshal interfaces so the rest of
// the tree can depend on those instead of a bespoke one.
type Message interface {
	MarshalBinary() (data []byte, err error)
	UnmarshalBinary(data []byte) error
}

func putString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func getString(data []byte) (string, []byte, bool) {
	if len(data) < 2 {
		return "", nil, false
	}
	n := int(binary.LittleEndian.Uint16(data))
	data = data[2:]
	if len(data) < n {
		return "", nil, false
	}
	return string(data[:n]), data[n:], true
}
