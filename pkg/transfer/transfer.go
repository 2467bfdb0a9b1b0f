// Package transfer implements the transfer engine: TX fragmentation into
// per-interface priority queues, and RX reassembly with duplicate/
// out-of-order rejection (spec.md §4.4, §4.5).
package transfer

import (
	"time"

	"github.com/opencyphal-garage/cynode/pkg/dsdl"
)

// Kind distinguishes the three transfer roles from spec.md §3's data model
// row "Transfer".
type Kind uint8

const (
	KindMessage Kind = iota
	KindRequest
	KindResponse
)

// Transfer is a single logical message or request/response unit, per
// spec.md §3: "{source, destination?, port-ID, kind, transfer-ID, priority,
// payload bytes, deadline}".
type Transfer struct {
	Source      dsdl.NodeID
	Destination dsdl.NodeID // dsdl.NodeIDUnset for broadcast messages
	PortID      dsdl.PortID
	Kind        Kind
	TransferID  dsdl.TransferID
	Priority    dsdl.Priority
	Payload     []byte
	Deadline    time.Duration // monotonic, per the node's injectable Clock
}

// Received is what a completed reassembly or single-frame reception
// delivers to a handler (spec.md §4.5 step 5).
type Received struct {
	Source     dsdl.NodeID
	PortID     dsdl.PortID
	Kind       Kind
	TransferID dsdl.TransferID
	Priority   dsdl.Priority
	Timestamp  time.Duration
	Payload    []byte
}
