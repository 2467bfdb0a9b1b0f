package dsdl

import (
	"encoding/binary"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
)

// Health levels for Heartbeat.Health, per the standard Cyphal
// uavcan.node.Health type.
const (
	HealthNominal uint8 = iota
	HealthAdvisory
	HealthCaution
	HealthWarning
)

// Mode levels for Heartbeat.Mode, per the standard Cyphal uavcan.node.Mode
// type.
const (
	ModeOperational uint8 = iota
	ModeInitialization
	ModeMaintenance
	ModeSoftwareUpdate
)

// Heartbeat is the node liveness message emitted at 1 Hz by every
// operational node (spec.md §4.7 "1 Hz loop").
type Heartbeat struct {
	UptimeSeconds     uint32
	Health            uint8
	Mode              uint8
	VendorStatusCode  uint8
}

func (h Heartbeat) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 7)
	binary.LittleEndian.PutUint32(buf[0:4], h.UptimeSeconds)
	buf[4] = h.Health
	buf[5] = h.Mode
	buf[6] = h.VendorStatusCode
	return buf, nil
}

func (h *Heartbeat) UnmarshalBinary(data []byte) error {
	if len(data) < 7 {
		return cyerr.New("dsdl.Heartbeat.UnmarshalBinary", cyerr.KindArgument, "truncated heartbeat")
	}
	h.UptimeSeconds = binary.LittleEndian.Uint32(data[0:4])
	h.Health = data[4]
	h.Mode = data[5]
	h.VendorStatusCode = data[6]
	return nil
}
