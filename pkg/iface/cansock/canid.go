package cansock

import "github.com/opencyphal-garage/cynode/pkg/dsdl"

// The 29-bit extended CAN identifier packs priority, subject/service ID,
// source/destination node-ID, and a service/request flag (spec.md §6:
// "29-bit identifier encoding subject/service IDs, priority, source/
// destination node-IDs, and transfer framing flags"). Field widths below
// are this node's own allocation (not a bit-for-bit reproduction of any
// particular standard's layout); they fit in 29 bits with 10 bits of
// port-ID (0-1023) and 7 bits per node-ID. Port-IDs above 1023 keep only
// their low 10 bits in the CAN ID; the full port-ID still travels in the
// fragment header. Node-ID 127 encodes the anonymous/broadcast value, so a
// node whose ID is 127 decodes as unset.
const (
	nodeIDMask      = 0x7F // 7 bits: 0-126 addressable, 127 reserved
	nodeIDAnonymous = 0x7F
	nodeIDBroadcast = 0x7F
	portIDMask      = 0x3FF // 10 bits: 0-1023

	shiftDestination = 0
	shiftSource      = 7
	shiftPortID      = 14
	shiftIsRequest   = 24
	shiftIsService   = 25
	shiftPriority    = 26

	canIDMask = 0x1FFFFFFF // 29 usable bits of the extended CAN ID
)

// canID is the decoded form of a 29-bit extended CAN arbitration ID.
type canID struct {
	Priority    dsdl.Priority
	IsService   bool
	IsRequest   bool
	PortID      dsdl.PortID
	Source      dsdl.NodeID
	Destination dsdl.NodeID
}

func encodeCANID(id canID) uint32 {
	source := uint32(id.Source) & nodeIDMask
	if id.Source == dsdl.NodeIDUnset {
		source = nodeIDAnonymous
	}
	dest := uint32(id.Destination) & nodeIDMask
	if id.Destination == dsdl.NodeIDUnset {
		dest = nodeIDBroadcast
	}

	v := uint32(id.Priority&0x7) << shiftPriority
	v |= (uint32(id.PortID) & portIDMask) << shiftPortID
	v |= source << shiftSource
	v |= dest << shiftDestination
	if id.IsService {
		v |= 1 << shiftIsService
	}
	if id.IsRequest {
		v |= 1 << shiftIsRequest
	}
	return v & canIDMask
}

func decodeCANID(v uint32) canID {
	v &= canIDMask
	source := dsdl.NodeID((v >> shiftSource) & nodeIDMask)
	if source == nodeIDAnonymous {
		source = dsdl.NodeIDUnset
	}
	dest := dsdl.NodeID((v >> shiftDestination) & nodeIDMask)
	if dest == nodeIDBroadcast {
		dest = dsdl.NodeIDUnset
	}
	return canID{
		Priority:    dsdl.Priority((v >> shiftPriority) & 0x7),
		IsService:   (v>>shiftIsService)&1 != 0,
		IsRequest:   (v>>shiftIsRequest)&1 != 0,
		PortID:      dsdl.PortID((v >> shiftPortID) & portIDMask),
		Source:      source,
		Destination: dest,
	}
}
