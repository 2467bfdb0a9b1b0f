package main

import (
	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/node"
	"github.com/opencyphal-garage/cynode/pkg/node/services"
	"github.com/opencyphal-garage/cynode/pkg/register"
)

// Default port-IDs for the reference actuator payload, matching spec.md
// §8 scenario 2's worked example ("uavcan.pub.feedback.id=10 and
// uavcan.pub.dynamics.id=100 ... uavcan.sub.setpoint.id=50").
const (
	defaultFeedbackPort  = 10
	defaultDynamicsPort  = 100
	defaultSetpointPort  = 50
	defaultReadinessPort = 51
)

// initRegisters creates every spec.md §6 "Required register names"
// entry this node recognizes, then reads them back into a portConfig. It
// must run before n.Tree().Freeze() (spec.md §4.3 "Indexing caveat").
func initRegisters(n *node.Node) portConfig {
	tree := n.Tree()

	mustInit(tree, "uavcan.can.iface", register.String(""), true, true)
	mustInit(tree, "uavcan.udp.iface", register.String(""), true, true)
	mustInit(tree, "uavcan.can.mtu", register.Natural16(8), true, true)
	mustInit(tree, "uavcan.udp.dscp", register.Natural8(0, 0, 0, 0, 0, 0, 0, 0), true, true)

	mustInit(tree, "uavcan.pub.feedback.id", register.Natural16(defaultFeedbackPort), true, true)
	mustInit(tree, "uavcan.pub.feedback.type", register.String("cynode.actuator.Feedback.1.0"), true, true)
	mustInit(tree, "uavcan.pub.feedback.prio", register.Natural8(uint8(dsdl.PriorityHigh)), true, true)

	mustInit(tree, "uavcan.pub.dynamics.id", register.Natural16(defaultDynamicsPort), true, true)
	mustInit(tree, "uavcan.pub.dynamics.type", register.String("cynode.actuator.Dynamics.1.0"), true, true)
	mustInit(tree, "uavcan.pub.dynamics.prio", register.Natural8(uint8(dsdl.PriorityHigh)), true, true)

	mustInit(tree, "uavcan.sub.setpoint.id", register.Natural16(defaultSetpointPort), true, true)
	mustInit(tree, "uavcan.sub.setpoint.type", register.String("cynode.actuator.Setpoint.1.0"), true, true)

	mustInit(tree, "uavcan.sub.readiness.id", register.Natural16(defaultReadinessPort), true, true)
	mustInit(tree, "uavcan.sub.readiness.type", register.String("cynode.actuator.Readiness.1.0"), true, true)

	cfg := portConfig{
		canIfaceNames: readString(tree, "uavcan.can.iface"),
		udpIfaceNames: readString(tree, "uavcan.udp.iface"),
		actuator: services.ActuatorPorts{
			DynamicsPort:     readPortID(tree, "uavcan.pub.dynamics.id"),
			DynamicsPriority: readPriority(tree, "uavcan.pub.dynamics.prio"),
			FeedbackPort:     readPortID(tree, "uavcan.pub.feedback.id"),
			FeedbackPriority: readPriority(tree, "uavcan.pub.feedback.prio"),
			SetpointPort:     readPortID(tree, "uavcan.sub.setpoint.id"),
			ReadinessPort:    readPortID(tree, "uavcan.sub.readiness.id"),
		},
	}
	return cfg
}

func mustInit(tree *register.Tree, name string, def register.Value, persistent, remotelyMutable bool) {
	if _, err := tree.InitRegister(name, def, persistent, remotelyMutable, nil); err != nil {
		panic("cynode: register configuration error for " + name + ": " + err.Error())
	}
}

func readString(tree *register.Tree, name string) string {
	reg, ok := tree.FindByName(name)
	if !ok {
		return ""
	}
	return reg.Read().Str
}

func readPortID(tree *register.Tree, name string) dsdl.PortID {
	reg, ok := tree.FindByName(name)
	if !ok {
		return dsdl.PortIDUnset
	}
	v := reg.Read()
	if v.Kind != register.KindInt || len(v.Ints) == 0 {
		return dsdl.PortIDUnset
	}
	return dsdl.PortID(v.Ints[0])
}

func readPriority(tree *register.Tree, name string) dsdl.Priority {
	reg, ok := tree.FindByName(name)
	if !ok {
		return dsdl.PriorityNominal
	}
	v := reg.Read()
	if v.Kind != register.KindInt || len(v.Ints) == 0 {
		return dsdl.PriorityNominal
	}
	return dsdl.Priority(v.Ints[0])
}
