package main

import (
	"strings"

	"github.com/opencyphal-garage/cynode/pkg/iface"
	"github.com/opencyphal-garage/cynode/pkg/node"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

// attachInterfaces opens and attaches every interface named in
// uavcan.can.iface / uavcan.udp.iface (spec.md §6: "Whitespace-separated
// interface list"), returning the CRC trailer kind to use for this node's
// subscriptions. A node bridging both CAN and UDP interfaces is unusual in
// practice (Cyphal nodes are normally redundant within one transport); when
// both are configured this implementation prefers the UDP trailer format
// for RX validation, since pkg/transfer.Subscription carries a single CRC
// kind per subscription.
func attachInterfaces(n *node.Node, cfg portConfig) (transfer.CRCKind, error) {
	crc := transfer.CRCNone

	for _, name := range strings.Fields(cfg.canIfaceNames) {
		adapter, err := iface.Open("can", name)
		if err != nil {
			return crc, err
		}
		n.AttachInterface(name, adapter, transfer.CRCCyphalCAN)
		crc = transfer.CRCCyphalCAN
	}

	for _, name := range strings.Fields(cfg.udpIfaceNames) {
		adapter, err := iface.Open("udp", name)
		if err != nil {
			return crc, err
		}
		n.AttachInterface(name, adapter, transfer.CRCCyphalUDP)
		crc = transfer.CRCCyphalUDP
	}

	return crc, nil
}
