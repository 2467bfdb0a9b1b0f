package services

import (
	"time"

	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/node"
)

// PortList emits the 0.1 Hz port-usage advertisement (spec.md §4.7 "0.1 Hz
// loop: emit port.List advertising active publications, subscriptions, and
// servers").
type PortList struct {
	node *node.Node
	pub  *node.Publisher
}

// NewPortList defines the port.List publisher under portID.
func NewPortList(n *node.Node, portID dsdl.PortID) *PortList {
	return &PortList{node: n, pub: n.DefinePublisher(portID, dsdl.PriorityOptional, node.ControlTimeout)}
}

// Tick publishes one PortList snapshot, skipping the tick while anonymous
// (invariant 1: only PnP and single-frame transfers are permitted, and this
// advertisement routinely spans multiple frames as the port table grows).
func (p *PortList) Tick(now time.Duration) error {
	if p.node.Anonymous() {
		return nil
	}
	msg := dsdl.PortList{
		Publishers:  p.node.PublisherPorts(),
		Subscribers: p.node.SubscriberPorts(),
		Servers:     p.node.ServerPorts(),
	}
	payload, err := msg.MarshalBinary()
	if err != nil {
		return err
	}
	return p.node.Publish(p.pub, payload, now)
}
