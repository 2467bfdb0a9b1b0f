// Package dispatch demultiplexes incoming RPC service transfers to
// registered server/client handlers (spec.md §4.6): "Maintains a set of
// (service-ID, is-server, handler) registrations scoped to the local
// node-ID. An incoming service frame is matched by (service-ID, direction,
// destination-node-ID==local); unmatched frames are discarded."
package dispatch

import (
	"github.com/opencyphal-garage/cynode/pkg/cyerr"
	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

// Handler processes one received RPC transfer and, for a server handler,
// returns the serialized response payload to send back. Client-side
// handlers (processing a response) return nil, nil.
type Handler func(r transfer.Received) (response []byte, err error)

type dispatchKey struct {
	ServiceID uint16
	IsServer  bool
}

// Dispatcher routes service transfers by (service-ID, role), scoped to the
// node's current node-ID. It is inert while the node is anonymous (spec.md
// §4.6: "attempting to serve RPCs while anonymous is a configuration
// error").
type Dispatcher struct {
	handlers map[dispatchKey]Handler
	enabled  bool
}

// New creates an empty, disabled Dispatcher.
func New() *Dispatcher {
	return &Dispatcher{handlers: make(map[dispatchKey]Handler)}
}

// Register binds handler to (serviceID, isServer). It may be called before
// or after Enable, but a duplicate (serviceID, isServer) pair is always
// rejected (spec.md §4.1 data model row "RPC server port" is a
// process-lifetime, exclusively-owned registration).
func (d *Dispatcher) Register(serviceID uint16, isServer bool, h Handler) error {
	key := dispatchKey{ServiceID: serviceID, IsServer: isServer}
	if _, exists := d.handlers[key]; exists {
		return cyerr.New("dispatch.Register", cyerr.KindAlreadyExists, "service already registered")
	}
	d.handlers[key] = h
	return nil
}

// Enable starts routing Dispatch calls to registered handlers. Per
// spec.md §4.6, enabling the dispatcher while anonymous is a configuration
// error; callers must assign a node-ID first.
func (d *Dispatcher) Enable(localID dsdl.NodeID) error {
	if localID == dsdl.NodeIDUnset {
		return cyerr.New("dispatch.Enable", cyerr.KindAnonymous, "cannot enable RPC dispatch while anonymous")
	}
	d.enabled = true
	return nil
}

// Disable stops routing, e.g. when the node loses its assigned ID (which
// cannot happen per this spec's PnP model, but mirrors Enable for
// symmetry and tests).
func (d *Dispatcher) Disable() { d.enabled = false }

// Enabled reports whether the dispatcher is currently routing.
func (d *Dispatcher) Enabled() bool { return d.enabled }

// Dispatch routes r to its registered handler, matched by (service-ID,
// role) where role is server if the transfer is a Request and client if
// it is a Response. Dispatch does not check the destination node-ID; the
// caller filters out transfers addressed to other nodes before calling
// it. Unmatched
// service-IDs, or any call while disabled, are silently discarded, never
// propagated as an error (spec.md §7 "transport-internal errors are
// absorbed").
func (d *Dispatcher) Dispatch(r transfer.Received) (response []byte, matched bool, err error) {
	if !d.enabled {
		return nil, false, nil
	}
	isServer := r.Kind == transfer.KindRequest
	key := dispatchKey{ServiceID: uint16(r.PortID), IsServer: isServer}
	h, ok := d.handlers[key]
	if !ok {
		return nil, false, nil
	}
	resp, err := h(r)
	return resp, true, err
}
