package services

import (
	"time"

	"go.uber.org/zap"

	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/node"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

// Actuator is the reference application payload spec.md §1 names: "an
// actuator setpoint/feedback loop". It owns the two fast-loop publishers
// (dynamics, feedback) and the two subscriptions (readiness, setpoint)
// that drive the node core's arming sub-state (spec.md §4.7 "Arming
// sub-state (actuator role)").
type Actuator struct {
	node        *node.Node
	dynamicsPub *node.Publisher
	feedbackPub *node.Publisher
	hasDynamics bool
	hasFeedback bool
}

// ActuatorPorts names the port-IDs each actuator subject/service binds to;
// dsdl.PortIDUnset disables that one without error (invariant 2).
type ActuatorPorts struct {
	DynamicsPort     dsdl.PortID
	DynamicsPriority dsdl.Priority
	FeedbackPort     dsdl.PortID
	FeedbackPriority dsdl.Priority
	ReadinessPort    dsdl.PortID
	SetpointPort     dsdl.PortID
}

// NewActuator defines the actuator's publishers and subscribes to its
// input subjects on n.
func NewActuator(n *node.Node, ports ActuatorPorts, extent int, tidTimeout time.Duration, crc transfer.CRCKind) (*Actuator, error) {
	a := &Actuator{node: n}

	if ports.DynamicsPort != dsdl.PortIDUnset {
		a.dynamicsPub = n.DefinePublisher(ports.DynamicsPort, ports.DynamicsPriority, node.ControlTimeout)
		a.hasDynamics = true
	}
	if ports.FeedbackPort != dsdl.PortIDUnset {
		a.feedbackPub = n.DefinePublisher(ports.FeedbackPort, ports.FeedbackPriority, node.ControlTimeout)
		a.hasFeedback = true
	}

	if err := n.Subscribe(ports.ReadinessPort, 1, tidTimeout, crc, func(r transfer.Received) {
		var msg dsdl.ReadinessMsg
		if err := msg.UnmarshalBinary(r.Payload); err != nil {
			n.Logger().Debug("dropping malformed readiness message", zap.Error(err))
			return
		}
		n.SetReadiness(msg.Value, r.Timestamp)
	}); err != nil {
		return nil, err
	}

	if err := n.Subscribe(ports.SetpointPort, extent, tidTimeout, crc, func(r transfer.Received) {
		var msg dsdl.SetpointMsg
		if err := msg.UnmarshalBinary(r.Payload); err != nil {
			n.Logger().Debug("dropping malformed setpoint message", zap.Error(err))
			return
		}
		n.UpdateSetpoint(msg, r.Timestamp)
	}); err != nil {
		return nil, err
	}

	return a, nil
}

// FastTick publishes one Dynamics and one Feedback message, sharing a
// single transfer-ID fetched from the node for the whole tick (spec.md
// §4.7 "Fast loop ... increment transfer-ID once per loop tick, shared
// across same-tick messages"). It is a no-op while anonymous.
func (a *Actuator) FastTick(now time.Duration) error {
	if a.node.Anonymous() {
		return nil
	}
	tid := a.node.FastTickTID()
	sp := a.node.Setpoint()

	if a.hasDynamics {
		msg := dsdl.DynamicsMsg{
			Position:     sp.Position,
			Velocity:     sp.Velocity,
			Acceleration: sp.Acceleration,
			Torque:       sp.Force,
		}
		payload, err := msg.MarshalBinary()
		if err != nil {
			return err
		}
		if err := a.node.PublishFast(a.dynamicsPub.PortID, a.dynamicsPub.Priority, tid, payload, now); err != nil {
			return err
		}
	}

	if a.hasFeedback {
		msg := dsdl.FeedbackMsg{
			HeartbeatHealth: a.node.Health(),
			Armed:           a.node.Armed(),
			Saturated:       false,
			DemandFactorPct: 0,
		}
		payload, err := msg.MarshalBinary()
		if err != nil {
			return err
		}
		if err := a.node.PublishFast(a.feedbackPub.PortID, a.feedbackPub.Priority, tid, payload, now); err != nil {
			return err
		}
	}
	return nil
}

// OneHzTick runs the control-timeout disarm check (spec.md §4.7 "1 Hz
// loop ... automatically disarm if the arming subject was not refreshed
// within the standard control-timeout window"), logging the transition.
func (a *Actuator) OneHzTick(now time.Duration) {
	if a.node.CheckControlTimeout(now) {
		a.node.Logger().Info("actuator disarmed: control timeout elapsed")
	}
}
