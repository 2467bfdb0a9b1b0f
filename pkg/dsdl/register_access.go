package dsdl

import (
	"github.com/opencyphal-garage/cynode/pkg/cyerr"
	"github.com/opencyphal-garage/cynode/pkg/register"
)

// AccessRequest is the wire shape of uavcan.register.Access.Request, per
// spec.md §4.7 "register.Access". An empty Value means "read only"; a
// non-empty Value requests an Assign before the (possibly coerced) value is
// echoed back.
type AccessRequest struct {
	Name  string
	Value register.Value
}

func (r AccessRequest) MarshalBinary() ([]byte, error) {
	buf := putString(nil, r.Name)
	valBytes, err := r.Value.MarshalBinary()
	if err != nil {
		return nil, err
	}
	buf = append(buf, valBytes...)
	return buf, nil
}

func (r *AccessRequest) UnmarshalBinary(data []byte) error {
	name, rest, ok := getString(data)
	if !ok {
		return cyerr.New("dsdl.AccessRequest.UnmarshalBinary", cyerr.KindArgument, "truncated name")
	}
	r.Name = name
	return r.Value.UnmarshalBinary(rest)
}

// AccessResponse is the wire shape of uavcan.register.Access.Response. An
// empty Value (register.KindEmpty) signals "unknown register name" per
// spec.md §4.7.
type AccessResponse struct {
	Value           register.Value
	Persistent      bool
	RemotelyMutable bool
}

func (r AccessResponse) MarshalBinary() ([]byte, error) {
	valBytes, err := r.Value.MarshalBinary()
	if err != nil {
		return nil, err
	}
	flags := byte(0)
	if r.Persistent {
		flags |= 1
	}
	if r.RemotelyMutable {
		flags |= 2
	}
	return append(valBytes, flags), nil
}

func (r *AccessResponse) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return cyerr.New("dsdl.AccessResponse.UnmarshalBinary", cyerr.KindArgument, "truncated response")
	}
	if err := r.Value.UnmarshalBinary(data[:len(data)-1]); err != nil {
		return err
	}
	flags := data[len(data)-1]
	r.Persistent = flags&1 != 0
	r.RemotelyMutable = flags&2 != 0
	return nil
}
