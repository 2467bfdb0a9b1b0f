package services

import (
	"github.com/opencyphal-garage/cynode/pkg/dispatch"
	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/node"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

// RegisterList answers uavcan.register.List (spec.md §4.7): "return the
// name at the given index or empty name if out of range." Callers must
// freeze the register tree (register.Tree.Freeze) before serving this, per
// spec.md §4.3's indexing caveat: adding a register after that point would
// silently shift the index space out from under remote enumerators.
type RegisterList struct {
	node *node.Node
}

// NewRegisterList builds a register.List server handler bound to n's
// register tree.
func NewRegisterList(n *node.Node) *RegisterList {
	return &RegisterList{node: n}
}

// Handle implements dispatch.Handler.
func (h *RegisterList) Handle(r transfer.Received) ([]byte, error) {
	var req dsdl.ListRequest
	if err := req.UnmarshalBinary(r.Payload); err != nil {
		return nil, err
	}

	reg, ok := h.node.Tree().FindByIndex(int(req.Index))
	if !ok {
		resp := dsdl.ListResponse{Name: ""}
		return resp.MarshalBinary()
	}
	resp := dsdl.ListResponse{Name: reg.Name}
	return resp.MarshalBinary()
}

var _ dispatch.Handler = (&RegisterList{}).Handle
