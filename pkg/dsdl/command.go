package dsdl

import (
	"encoding/binary"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
)

// Standard ExecuteCommand command codes (spec.md §4.7 "ExecuteCommand").
// COMMAND_BEGIN_SOFTWARE_UPDATE is reserved on this node: it is accepted on
// the wire but always answered with StatusBadState, since no bootloader
// exists here.
const (
	CommandRestart                 uint16 = 65530
	CommandBeginSoftwareUpdate     uint16 = 65533
	CommandFactoryReset            uint16 = 65531
	CommandStorePersistentStates   uint16 = 65532
)

// ExecuteCommand status codes returned in ExecuteCommandResponse.Status.
const (
	StatusSuccess uint8 = iota
	StatusFailure
	StatusNotAuthorized
	StatusBadCommand
	StatusBadParameter
	StatusBadState
	StatusInternalError
)

// ExecuteCommandRequest carries an opaque command code plus a small string
// parameter, per spec.md §4.7.
type ExecuteCommandRequest struct {
	Command   uint16
	Parameter string
}

func (r ExecuteCommandRequest) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 2+2+len(r.Parameter))
	buf = binary.LittleEndian.AppendUint16(buf, r.Command)
	buf = putString(buf, r.Parameter)
	return buf, nil
}

func (r *ExecuteCommandRequest) UnmarshalBinary(data []byte) error {
	if len(data) < 2 {
		return cyerr.New("dsdl.ExecuteCommandRequest.UnmarshalBinary", cyerr.KindArgument, "truncated command")
	}
	r.Command = binary.LittleEndian.Uint16(data[0:2])
	param, _, ok := getString(data[2:])
	if !ok {
		return cyerr.New("dsdl.ExecuteCommandRequest.UnmarshalBinary", cyerr.KindArgument, "truncated parameter")
	}
	r.Parameter = param
	return nil
}

// ExecuteCommandResponse reports the outcome of a requested command.
type ExecuteCommandResponse struct {
	Status uint8
}

func (r ExecuteCommandResponse) MarshalBinary() ([]byte, error) {
	return []byte{r.Status}, nil
}

func (r *ExecuteCommandResponse) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return cyerr.New("dsdl.ExecuteCommandResponse.UnmarshalBinary", cyerr.KindArgument, "truncated response")
	}
	r.Status = data[0]
	return nil
}
