package services

import (
	"github.com/opencyphal-garage/cynode/pkg/dispatch"
	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/node"
	"github.com/opencyphal-garage/cynode/pkg/register"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

// RegisterAccess answers uavcan.register.Access (spec.md §4.7): "on
// non-empty request value, attempt assign then re-read; respond with
// current value, mutable and persistent flags; unknown name -> empty
// value."
type RegisterAccess struct {
	node *node.Node
}

// NewRegisterAccess builds a register.Access server handler bound to n's
// register tree.
func NewRegisterAccess(n *node.Node) *RegisterAccess {
	return &RegisterAccess{node: n}
}

// Handle implements dispatch.Handler.
func (h *RegisterAccess) Handle(r transfer.Received) ([]byte, error) {
	var req dsdl.AccessRequest
	if err := req.UnmarshalBinary(r.Payload); err != nil {
		return nil, err
	}

	tree := h.node.Tree()
	if req.Value.Kind != register.KindEmpty {
		// Assignment failures (invariant 6 / P6) are swallowed here: the
		// response still mirrors whatever the stored value ends up being,
		// which is the unchanged value on failure.
		_ = tree.Assign(req.Name, req.Value)
	}

	reg, ok := tree.FindByName(req.Name)
	if !ok {
		resp := dsdl.AccessResponse{Value: register.Empty()}
		return resp.MarshalBinary()
	}
	resp := dsdl.AccessResponse{
		Value:           reg.Read(),
		Persistent:      reg.Persistent,
		RemotelyMutable: reg.RemotelyMutable,
	}
	return resp.MarshalBinary()
}

var _ dispatch.Handler = (&RegisterAccess{}).Handle
