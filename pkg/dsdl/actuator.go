package dsdl

import (
	"encoding/binary"
	"math"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
)

// Readiness levels for ReadinessMsg.Value, per spec.md §4.7 "Arming
// sub-state": "armed := readiness >= ENGAGED".
const (
	ReadinessSleep uint8 = iota
	ReadinessStandby
	ReadinessEngaged
)

// ReadinessMsg is the arming-control subject: the setpoint source
// periodically publishes its desired readiness level. The node clears the
// armed flag on its own if this subject goes stale past the control
// timeout, independent of the value last received.
type ReadinessMsg struct {
	Value uint8
}

func (m ReadinessMsg) MarshalBinary() ([]byte, error) { return []byte{m.Value}, nil }

func (m *ReadinessMsg) UnmarshalBinary(data []byte) error {
	if len(data) < 1 {
		return cyerr.New("dsdl.ReadinessMsg.UnmarshalBinary", cyerr.KindArgument, "truncated readiness")
	}
	m.Value = data[0]
	return nil
}

// SetpointMsg carries the commanded position/velocity/acceleration/force
// quadruplet (spec.md §4.7 "setpoint subject values"). Which field is
// meaningful is a configuration matter upstream of this node; the fields
// are cached verbatim regardless.
type SetpointMsg struct {
	Position     float32
	Velocity     float32
	Acceleration float32
	Force        float32
}

func (m SetpointMsg) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(m.Position))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(m.Velocity))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(m.Acceleration))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(m.Force))
	return buf, nil
}

func (m *SetpointMsg) UnmarshalBinary(data []byte) error {
	if len(data) < 16 {
		return cyerr.New("dsdl.SetpointMsg.UnmarshalBinary", cyerr.KindArgument, "truncated setpoint")
	}
	m.Position = math.Float32frombits(binary.LittleEndian.Uint32(data[0:4]))
	m.Velocity = math.Float32frombits(binary.LittleEndian.Uint32(data[4:8]))
	m.Acceleration = math.Float32frombits(binary.LittleEndian.Uint32(data[8:12]))
	m.Force = math.Float32frombits(binary.LittleEndian.Uint32(data[12:16]))
	return nil
}

// DynamicsMsg is the high-rate actuator state subject published from the
// fast loop (spec.md §4.7 "emit high-rate subjects ... dynamics").
type DynamicsMsg struct {
	Position     float32
	Velocity     float32
	Acceleration float32
	Torque       float32
}

func (m DynamicsMsg) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(m.Position))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(m.Velocity))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(m.Acceleration))
	binary.LittleEndian.PutUint32(buf[12:16], math.Float32bits(m.Torque))
	return buf, nil
}

func (m *DynamicsMsg) UnmarshalBinary(data []byte) error {
	if len(data) < 16 {
		return cyerr.New("dsdl.DynamicsMsg.UnmarshalBinary", cyerr.KindArgument, "truncated dynamics")
	}
	m.Position = math.Float32frombits(binary.LittleEndian.Uint32(data[0:4]))
	m.Velocity = math.Float32frombits(binary.LittleEndian.Uint32(data[4:8]))
	m.Acceleration = math.Float32frombits(binary.LittleEndian.Uint32(data[8:12]))
	m.Torque = math.Float32frombits(binary.LittleEndian.Uint32(data[12:16]))
	return nil
}

// FeedbackMsg is the high-rate actuator health/status subject (spec.md
// §4.7 "emit high-rate subjects ... setpoint feedback"): whether the
// actuator is armed and saturated, plus demanded-vs-actual deviation as a
// percentage.
type FeedbackMsg struct {
	HeartbeatHealth uint8
	Armed           bool
	Saturated       bool
	DemandFactorPct int8
}

func (m FeedbackMsg) MarshalBinary() ([]byte, error) {
	flags := byte(0)
	if m.Armed {
		flags |= 1
	}
	if m.Saturated {
		flags |= 2
	}
	return []byte{m.HeartbeatHealth, flags, byte(m.DemandFactorPct)}, nil
}

func (m *FeedbackMsg) UnmarshalBinary(data []byte) error {
	if len(data) < 3 {
		return cyerr.New("dsdl.FeedbackMsg.UnmarshalBinary", cyerr.KindArgument, "truncated feedback")
	}
	m.HeartbeatHealth = data[0]
	m.Armed = data[1]&1 != 0
	m.Saturated = data[1]&2 != 0
	m.DemandFactorPct = int8(data[2])
	return nil
}
