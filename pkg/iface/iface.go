// Package iface defines the uniform I/O adapter contract used by both wire
// transports (spec.md §6), reshaping the teacher's stream-oriented
// Transport/Driver/Factory split (aznet.go) into a connectionless
// datagram contract: poll for readiness, send one datagram, receive one
// datagram.
package iface

import (
	"sort"
	"time"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
)

// Datagram is one wire-ready unit handed to or received from an Adapter,
// already carrying a transfer.FragmentHeader-encoded payload: one UDP
// packet, or one logical CAN datagram that the CAN adapter carries across
// as many physical frames as it needs.
type Datagram struct {
	Data []byte
}

// Adapter is the Go-idiomatic reshaping of the teacher's Transport
// interface (WriteRaw/ReadRaw/Close/LocalAddr/RemoteAddr/MaxRawSize) for a
// connectionless pub/sub medium instead of a byte stream.
type Adapter interface {
	// Poll blocks up to timeout waiting for the adapter to become readable,
	// returning true if a Receive would not block. The scheduler's bounded
	// I/O step (spec.md §5 "Suspension points") is the only caller.
	Poll(timeout time.Duration) bool
	// Send transmits one datagram that the caller (pkg/transfer) already
	// encoded. Implementations do not split it at the transfer level; a
	// link-level split into physical frames (as in cansock) stays inside
	// the adapter.
	Send(d Datagram) error
	// Receive returns the next available datagram without blocking. ok is
	// false if none is currently available.
	Receive() (d Datagram, ok bool, err error)
	// MTU reports the maximum datagram payload this adapter can carry.
	MTU() int
	// Discarded reports the cumulative count of frames dropped at the
	// adapter boundary (malformed, oversized, or rejected).
	Discarded() int
	Close() error
}

// Factory constructs an Adapter for the given interface name (e.g. "can0",
// or a UDP multicast bind address), mirroring the teacher's per-scheme
// Factory/RegisterFactory pattern in aznet.go.
type Factory interface {
	NewAdapter(name string) (Adapter, error)
}

var factories = make(map[string]Factory)

// RegisterFactory registers a Factory for the given transport scheme
// ("can" or "udp"), per the teacher's aznet.RegisterFactory.
func RegisterFactory(scheme string, f Factory) {
	if _, dup := factories[scheme]; dup {
		panic("iface: factory already registered for scheme " + scheme)
	}
	factories[scheme] = f
}

// Schemes returns the registered transport scheme names, sorted.
func Schemes() []string {
	out := make([]string, 0, len(factories))
	for s := range factories {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Open constructs an Adapter for scheme ("can" or "udp") and interface
// name, per spec.md §6's two wire transports.
func Open(scheme, name string) (Adapter, error) {
	f, ok := factories[scheme]
	if !ok {
		return nil, cyerr.New("iface.Open", cyerr.KindArgument, "unsupported transport scheme: "+scheme)
	}
	return f.NewAdapter(name)
}
