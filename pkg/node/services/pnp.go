package services

import (
	"math/rand/v2"
	"time"

	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/node"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

// PnPClient drives the anonymous-node plug-and-play acquisition described
// in spec.md §4.7 "Anonymous behavior": "Every 1 s with probability 1/2
// (uniform), emit one PnP allocation request containing the local
// unique-ID. On receiving a PnP response whose unique-ID matches and
// node-ID <= MaxNodeID, adopt the proposed ID ... PnP responses for other
// nodes are ignored."
type PnPClient struct {
	node *node.Node
	pub  *node.Publisher
	coin func() bool
}

// PnPOption configures a PnPClient at construction.
type PnPOption func(*PnPClient)

// WithCoin overrides the 1 Hz request's coin-flip source, e.g. a
// deterministic sequence in tests. Defaults to math/rand/v2.
func WithCoin(coin func() bool) PnPOption {
	return func(c *PnPClient) {
		if coin != nil {
			c.coin = coin
		}
	}
}

// NewPnPClient defines the PnP request publisher and subscribes to
// node.SubjectPnP for allocation responses, on node n.
func NewPnPClient(n *node.Node, extent int, tidTimeout time.Duration, crc transfer.CRCKind, opts ...PnPOption) (*PnPClient, error) {
	c := &PnPClient{
		node: n,
		pub:  n.DefinePublisher(node.SubjectPnP, dsdl.PrioritySlow, node.ControlTimeout),
		coin: func() bool { return rand.IntN(2) == 0 },
	}
	for _, o := range opts {
		o(c)
	}
	if err := n.Subscribe(node.SubjectPnP, extent, tidTimeout, crc, c.handleResponse); err != nil {
		return nil, err
	}
	return c, nil
}

// Tick runs the 1 Hz acquisition step, a no-op once the node is
// operational (P7: anonymous-only broadcast).
func (c *PnPClient) Tick(now time.Duration) error {
	if !c.node.Anonymous() {
		return nil
	}
	if !c.coin() {
		return nil
	}
	msg := dsdl.NodeIDAllocationData{UniqueID: c.node.UniqueID(), NodeID: dsdl.NodeIDUnset}
	payload, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	return c.node.Publish(c.pub, payload, now)
}

// handleResponse processes an incoming NodeIDAllocationData. Responses
// received after the node has already adopted an ID are ignored (P8
// idempotence), as are responses for other nodes' unique-IDs and
// out-of-range proposals.
func (c *PnPClient) handleResponse(r transfer.Received) {
	if !c.node.Anonymous() {
		return
	}
	var msg dsdl.NodeIDAllocationData
	if err := msg.UnmarshalBinary(r.Payload); err != nil {
		return
	}
	if msg.UniqueID != c.node.UniqueID() {
		return
	}
	if msg.NodeID == dsdl.NodeIDUnset || msg.NodeID > c.node.MaxNodeID() {
		return
	}
	_ = c.node.AdoptNodeID(msg.NodeID)
}
