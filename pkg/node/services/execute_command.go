package services

import (
	"github.com/opencyphal-garage/cynode/pkg/dispatch"
	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/node"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

// ExecuteCommand answers uavcan.node.ExecuteCommand (spec.md §4.7):
// "accepts RESTART, FACTORY_RESET (mark for reset), STORE_PERSISTENT_STATES
// (commit registers then restart), BEGIN_SOFTWARE_UPDATE (reserved, answers
// BAD_STATE), plus vendor-specific IDs; unknown command -> BAD_COMMAND."
type ExecuteCommand struct {
	node *node.Node
}

// NewExecuteCommand builds an ExecuteCommand server handler bound to n.
func NewExecuteCommand(n *node.Node) *ExecuteCommand {
	return &ExecuteCommand{node: n}
}

// Handle implements dispatch.Handler.
func (h *ExecuteCommand) Handle(r transfer.Received) ([]byte, error) {
	var req dsdl.ExecuteCommandRequest
	if err := req.UnmarshalBinary(r.Payload); err != nil {
		return nil, err
	}

	var status uint8
	switch req.Command {
	case dsdl.CommandRestart:
		h.node.RequestRestart()
		status = dsdl.StatusSuccess
	case dsdl.CommandFactoryReset:
		h.node.MarkFactoryReset()
		status = dsdl.StatusSuccess
	case dsdl.CommandStorePersistentStates:
		if err := h.node.StorePersistentRegisters(); err != nil {
			status = dsdl.StatusInternalError
		} else {
			h.node.RequestRestart()
			status = dsdl.StatusSuccess
		}
	case dsdl.CommandBeginSoftwareUpdate:
		status = dsdl.StatusBadState
	default:
		status = dsdl.StatusBadCommand
	}

	resp := dsdl.ExecuteCommandResponse{Status: status}
	return resp.MarshalBinary()
}

var _ dispatch.Handler = (&ExecuteCommand{}).Handle
