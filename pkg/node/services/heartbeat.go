// Package services implements the standard service handlers spec.md §4.7
// names: the liveness/identification/introspection/lifecycle/advertisement
// responders, and the PnP client. One file per concern, mirroring the
// teacher's driver-per-backend split (azblob.go/azqueue.go/aztable.go).
package services

import (
	"time"

	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/node"
)

// Heartbeat emits the 1 Hz liveness message (spec.md §4.7 "1 Hz loop"),
// silently skipping the tick while the node is anonymous (invariant 1 /
// P7: "Anonymous node MUST NOT emit heartbeat").
type Heartbeat struct {
	node *node.Node
	pub  *node.Publisher
}

// NewHeartbeat defines the heartbeat publisher under portID at the given
// priority.
func NewHeartbeat(n *node.Node, portID dsdl.PortID, priority dsdl.Priority) *Heartbeat {
	return &Heartbeat{node: n, pub: n.DefinePublisher(portID, priority, node.ControlTimeout)}
}

// Tick publishes one Heartbeat if the node is operational.
func (h *Heartbeat) Tick(now time.Duration) error {
	if h.node.Anonymous() {
		return nil
	}
	msg := dsdl.Heartbeat{
		UptimeSeconds: h.node.Uptime(),
		Health:        h.node.Health(),
		Mode:          dsdl.ModeOperational,
	}
	payload, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	return h.node.Publish(h.pub, payload, now)
}
