package dsdl

import (
	"encoding/binary"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
)

// GetInfoResponse answers the standard uavcan.node.GetInfo service (spec.md
// §4.7): "returns protocol version, software version, VCS revision,
// unique-ID, and product name".
type GetInfoResponse struct {
	ProtocolVersionMajor uint8
	ProtocolVersionMinor uint8
	SoftwareVersionMajor uint8
	SoftwareVersionMinor uint8
	SoftwareVCSRevision  uint64
	UniqueID             [16]byte
	Name                 string
}

func (r GetInfoResponse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 4+8+16)
	buf = append(buf, r.ProtocolVersionMajor, r.ProtocolVersionMinor, r.SoftwareVersionMajor, r.SoftwareVersionMinor)
	buf = binary.LittleEndian.AppendUint64(buf, r.SoftwareVCSRevision)
	buf = append(buf, r.UniqueID[:]...)
	buf = putString(buf, r.Name)
	return buf, nil
}

func (r *GetInfoResponse) UnmarshalBinary(data []byte) error {
	if len(data) < 4+8+16 {
		return cyerr.New("dsdl.GetInfoResponse.UnmarshalBinary", cyerr.KindArgument, "truncated GetInfo response")
	}
	r.ProtocolVersionMajor = data[0]
	r.ProtocolVersionMinor = data[1]
	r.SoftwareVersionMajor = data[2]
	r.SoftwareVersionMinor = data[3]
	data = data[4:]
	r.SoftwareVCSRevision = binary.LittleEndian.Uint64(data[:8])
	data = data[8:]
	copy(r.UniqueID[:], data[:16])
	data = data[16:]

	name, _, ok := getString(data)
	if !ok {
		return cyerr.New("dsdl.GetInfoResponse.UnmarshalBinary", cyerr.KindArgument, "truncated name")
	}
	r.Name = name
	return nil
}
