package dsdl

import (
	"encoding/binary"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
)

// NodeIDAllocationData is both the request and response shape for the
// standard plug-and-play node-ID allocation exchange (spec.md §4.7 "PnP
// allocation"): an anonymous node broadcasts its UniqueID with NodeID unset,
// and an allocator replies on the same subject with NodeID populated.
type NodeIDAllocationData struct {
	UniqueID [16]byte
	NodeID   NodeID
}

func (m NodeIDAllocationData) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 18)
	copy(buf[0:16], m.UniqueID[:])
	binary.LittleEndian.PutUint16(buf[16:18], uint16(m.NodeID))
	return buf, nil
}

func (m *NodeIDAllocationData) UnmarshalBinary(data []byte) error {
	if len(data) < 18 {
		return cyerr.New("dsdl.NodeIDAllocationData.UnmarshalBinary", cyerr.KindArgument, "truncated allocation data")
	}
	copy(m.UniqueID[:], data[0:16])
	m.NodeID = NodeID(binary.LittleEndian.Uint16(data[16:18]))
	return nil
}
