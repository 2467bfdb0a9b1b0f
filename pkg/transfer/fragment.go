package transfer

import (
	"encoding/binary"

	"github.com/opencyphal-garage/cynode/pkg/dsdl"
)

// FragmentHeaderSize is the fixed fragment header width shared by both wire
// transports (spec.md §6: "a fixed fragment header carrying the same
// logical fields"), modeled on the teacher's length-prefixed BuildFrame
// layout but carrying the transfer's addressing fields instead of a single
// length+type pair.
const FragmentHeaderSize = 1 /*priority*/ + 1 /*kind*/ + 2 /*source*/ + 2 /*dest*/ + 2 /*port*/ + 8 /*transfer-id*/ + 2 /*index*/ + 2 /*count*/ + 2 /*payload len*/

// FragmentHeader carries one fragment's addressing and sequencing fields.
// CRC trailers are out of band: callers append them to the last fragment's
// payload themselves (CRC16 for CAN, CRC32C for UDP — see crc.go).
type FragmentHeader struct {
	Priority    dsdl.Priority
	Kind        Kind
	Source      dsdl.NodeID
	Destination dsdl.NodeID
	PortID      dsdl.PortID
	TransferID  dsdl.TransferID
	Index       uint16
	Count       uint16
}

// EncodeFragment writes header and payload into one wire buffer.
func EncodeFragment(h FragmentHeader, payload []byte) []byte {
	buf := make([]byte, FragmentHeaderSize+len(payload))
	buf[0] = byte(h.Priority)
	buf[1] = byte(h.Kind)
	binary.LittleEndian.PutUint16(buf[2:4], uint16(h.Source))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(h.Destination))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(h.PortID))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.TransferID))
	binary.LittleEndian.PutUint16(buf[16:18], h.Index)
	binary.LittleEndian.PutUint16(buf[18:20], h.Count)
	binary.LittleEndian.PutUint16(buf[20:22], uint16(len(payload)))
	copy(buf[FragmentHeaderSize:], payload)
	return buf
}

// DecodeFragment splits a wire buffer back into its header and payload. It
// reports ok=false on any truncation or length mismatch.
func DecodeFragment(data []byte) (FragmentHeader, []byte, bool) {
	if len(data) < FragmentHeaderSize {
		return FragmentHeader{}, nil, false
	}
	h := FragmentHeader{
		Priority:    dsdl.Priority(data[0]),
		Kind:        Kind(data[1]),
		Source:      dsdl.NodeID(binary.LittleEndian.Uint16(data[2:4])),
		Destination: dsdl.NodeID(binary.LittleEndian.Uint16(data[4:6])),
		PortID:      dsdl.PortID(binary.LittleEndian.Uint16(data[6:8])),
		TransferID:  dsdl.TransferID(binary.LittleEndian.Uint64(data[8:16])),
		Index:       binary.LittleEndian.Uint16(data[16:18]),
		Count:       binary.LittleEndian.Uint16(data[18:20]),
	}
	n := int(binary.LittleEndian.Uint16(data[20:22]))
	rest := data[FragmentHeaderSize:]
	if len(rest) < n {
		return FragmentHeader{}, nil, false
	}
	return h, rest[:n], true
}
