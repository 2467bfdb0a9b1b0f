package services

import (
	"github.com/opencyphal-garage/cynode/pkg/dispatch"
	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/node"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

// ProtocolVersionMajor/Minor are this node's reported protocol version, distinct from
// the application-level software version passed to node.WithProductInfo.
const (
	ProtocolVersionMajor uint8 = 1
	ProtocolVersionMinor uint8 = 0
)

// GetInfo answers uavcan.node.GetInfo (spec.md §4.7): "returns protocol
// version, software version, VCS revision, unique-ID, and product name".
type GetInfo struct {
	node                 *node.Node
	softwareVersionMajor uint8
	softwareVersionMinor uint8
	softwareVCSRevision  uint64
	productName          string
}

// NewGetInfo builds a GetInfo handler reporting the given software
// identity fields alongside the node's unique-ID.
func NewGetInfo(n *node.Node, swMajor, swMinor uint8, vcsRevision uint64, productName string) *GetInfo {
	return &GetInfo{node: n, softwareVersionMajor: swMajor, softwareVersionMinor: swMinor, softwareVCSRevision: vcsRevision, productName: productName}
}

// Handle implements dispatch.Handler, ignoring the (empty) request body.
func (g *GetInfo) Handle(r transfer.Received) ([]byte, error) {
	resp := dsdl.GetInfoResponse{
		ProtocolVersionMajor: ProtocolVersionMajor,
		ProtocolVersionMinor: ProtocolVersionMinor,
		SoftwareVersionMajor: g.softwareVersionMajor,
		SoftwareVersionMinor: g.softwareVersionMinor,
		SoftwareVCSRevision:  g.softwareVCSRevision,
		UniqueID:             g.node.UniqueID(),
		Name:                 g.productName,
	}
	return resp.MarshalBinary()
}

var _ dispatch.Handler = (&GetInfo{}).Handle
