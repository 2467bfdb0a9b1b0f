package dsdl

import (
	"encoding/binary"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
)

var errTruncatedPortList = cyerr.New("dsdl.PortList.UnmarshalBinary", cyerr.KindArgument, "truncated port list")

// PortList is a simplified stand-in for the standard uavcan.node.port.List
// message, which on the wire packs port-IDs into fixed bitmasks. This node
// reports the same three roles (published subjects, subscribed subjects,
// offered servers) as plain PortID slices instead of bitmasks — a
// deliberate simplification (SPEC_FULL.md §D.4) since the node's own port
// table is already a small, explicit list and a bitmask buys nothing here.
type PortList struct {
	Publishers  []PortID
	Subscribers []PortID
	Servers     []PortID
}

func putPortIDs(buf []byte, ids []PortID) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(ids)))
	for _, id := range ids {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(id))
	}
	return buf
}

func getPortIDs(data []byte) ([]PortID, []byte, bool) {
	if len(data) < 2 {
		return nil, nil, false
	}
	n := int(binary.LittleEndian.Uint16(data))
	data = data[2:]
	if len(data) < n*2 {
		return nil, nil, false
	}
	ids := make([]PortID, n)
	for i := 0; i < n; i++ {
		ids[i] = PortID(binary.LittleEndian.Uint16(data[i*2 : i*2+2]))
	}
	return ids, data[n*2:], true
}

func (p PortList) MarshalBinary() ([]byte, error) {
	var buf []byte
	buf = putPortIDs(buf, p.Publishers)
	buf = putPortIDs(buf, p.Subscribers)
	buf = putPortIDs(buf, p.Servers)
	return buf, nil
}

func (p *PortList) UnmarshalBinary(data []byte) error {
	pubs, rest, ok := getPortIDs(data)
	if !ok {
		return errTruncatedPortList
	}
	subs, rest, ok := getPortIDs(rest)
	if !ok {
		return errTruncatedPortList
	}
	servers, _, ok := getPortIDs(rest)
	if !ok {
		return errTruncatedPortList
	}
	p.Publishers = pubs
	p.Subscribers = subs
	p.Servers = servers
	return nil
}
