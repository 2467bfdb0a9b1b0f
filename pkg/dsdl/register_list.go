package dsdl

import (
	"encoding/binary"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
)

// ListRequest is the wire shape of uavcan.register.List.Request: an index
// into the node's frozen register enumeration order (spec.md §4.7
// "register.List").
type ListRequest struct {
	Index uint16
}

func (r ListRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 2)
	binary.LittleEndian.PutUint16(buf, r.Index)
	return buf, nil
}

func (r *ListRequest) UnmarshalBinary(data []byte) error {
	if len(data) < 2 {
		return cyerr.New("dsdl.ListRequest.UnmarshalBinary", cyerr.KindArgument, "truncated request")
	}
	r.Index = binary.LittleEndian.Uint16(data)
	return nil
}

// ListResponse echoes the register name at the requested index, or an empty
// string past the end of the enumeration (spec.md §4.7).
type ListResponse struct {
	Name string
}

func (r ListResponse) MarshalBinary() ([]byte, error) {
	return putString(nil, r.Name), nil
}

func (r *ListResponse) UnmarshalBinary(data []byte) error {
	name, _, ok := getString(data)
	if !ok {
		return cyerr.New("dsdl.ListResponse.UnmarshalBinary", cyerr.KindArgument, "truncated response")
	}
	r.Name = name
	return nil
}
