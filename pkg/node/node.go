// Package node implements the "one god object" (spec.md §9) that owns the
// register tree, the per-interface transfer engines, the RPC dispatcher,
// and the publisher/subscriber/server instances, driven by a single-
// threaded cooperative Scheduler (spec.md §5). It is the Go-idiomatic
// reshaping of the teacher's Conn/Listener pair plus its AdaptivePoll
// timing discipline, generalized from a two-party connection to an N-peer
// pub/sub+RPC bus.
package node

import (
	"time"

	"go.uber.org/zap"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
	"github.com/opencyphal-garage/cynode/pkg/diag"
	"github.com/opencyphal-garage/cynode/pkg/dispatch"
	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/iface"
	"github.com/opencyphal-garage/cynode/pkg/iface/mocktime"
	"github.com/opencyphal-garage/cynode/pkg/kv"
	"github.com/opencyphal-garage/cynode/pkg/pool"
	"github.com/opencyphal-garage/cynode/pkg/register"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

// Fixed port-IDs this node reserves for the standard services and subjects
// it hosts (spec.md §4.7 "Standard service handlers", §6 wire transports).
// These are local conventions, not a claim of wire interop with any other
// Cyphal implementation (see DESIGN.md on the custom CAN-ID layout this
// tree already commits to).
const (
	ServiceGetInfo        uint16 = 430
	ServiceExecuteCommand uint16 = 435
	ServiceRegisterAccess uint16 = 384
	ServiceRegisterList   uint16 = 385

	SubjectHeartbeat dsdl.PortID = 7509
	SubjectPortList  dsdl.PortID = 7510
	SubjectPnP       dsdl.PortID = 8166
)

// Publisher is the per-subject TX state from spec.md §3's "Publisher
// {port-ID, priority, tx timeout, next transfer-ID}".
type Publisher struct {
	PortID    dsdl.PortID
	Priority  dsdl.Priority
	TxTimeout time.Duration
	NextTID   dsdl.TransferID
}

type ifaceBinding struct {
	name    string
	adapter iface.Adapter
	tx      *transfer.TXQueue
}

// Node is the single owning value passed by exclusive reference into every
// scheduler tick (spec.md §5 "all shared state lives in one god object").
type Node struct {
	clock   mocktime.Clock
	logger  *zap.Logger
	metrics diag.Metrics

	pool       *pool.Pool
	kv         *kv.Store
	tree       *register.Tree
	dispatcher *dispatch.Dispatcher

	maxNodeID dsdl.NodeID
	nodeIDReg *register.Register
	nodeID    dsdl.NodeID
	uniqueID  [16]byte

	productName          string
	softwareVersionMajor uint8
	softwareVersionMinor uint8
	softwareVCSRevision  uint64

	ifaces      []*ifaceBinding
	subjectSubs map[dsdl.PortID]*transfer.Subscription
	serviceSubs map[dsdl.PortID]*transfer.Subscription
	publishers  map[dsdl.PortID]*Publisher

	ioBatch int

	startedAt      time.Duration
	poolEverFailed bool
	nextFastTID    dsdl.TransferID

	// actuator role arming sub-state (spec.md §4.7 "Arming sub-state").
	armed         bool
	readiness     uint8
	lastControlAt time.Duration
	setpoint      dsdl.SetpointMsg

	restartRequired  bool
	factoryResetFlag bool
}

// New builds a Node from opts, opening its KV store, block pool, register
// tree, and dispatcher. It does not attach any I/O adapters or register
// any service handlers; callers wire those via AttachInterface,
// RegisterServer, and the pkg/node/services constructors before calling
// Run.
func New(opts ...Option) (*Node, error) {
	cfg := applyConfig(opts)

	store, err := kv.Open(cfg.kvPath)
	if err != nil {
		return nil, err
	}

	tree := register.NewTree(store)

	n := &Node{
		clock:                cfg.clock,
		logger:               cfg.logger,
		metrics:              cfg.metrics,
		pool:                 pool.New(cfg.poolCapacity, cfg.poolBlockSize),
		kv:                   store,
		tree:                 tree,
		dispatcher:           dispatch.New(),
		maxNodeID:            cfg.maxNodeID,
		uniqueID:             cfg.uniqueID,
		productName:          cfg.productName,
		softwareVersionMajor: cfg.softwareVersionMajor,
		softwareVersionMinor: cfg.softwareVersionMinor,
		softwareVCSRevision:  cfg.softwareVCSRevision,
		subjectSubs:          make(map[dsdl.PortID]*transfer.Subscription),
		serviceSubs:          make(map[dsdl.PortID]*transfer.Subscription),
		publishers:           make(map[dsdl.PortID]*Publisher),
		ioBatch:              cfg.ioBatch,
	}
	n.startedAt = n.clock.Now()

	if _, err := tree.InitRegister("uavcan.node.unique_id", register.Unstructured(cfg.uniqueID[:]), false, false, nil); err != nil {
		return nil, err
	}
	if _, err := tree.InitRegister("uavcan.node.description", register.String(cfg.description), true, true, nil); err != nil {
		return nil, err
	}
	idReg, err := tree.InitRegister("uavcan.node.id", register.Natural16(uint16(cfg.nodeID)), true, true, nil)
	if err != nil {
		return nil, err
	}
	n.nodeIDReg = idReg
	n.nodeID = readNodeID(idReg)

	return n, nil
}

func readNodeID(reg *register.Register) dsdl.NodeID {
	v := reg.Read()
	if v.Kind != register.KindInt || len(v.Ints) == 0 {
		return dsdl.NodeIDUnset
	}
	return dsdl.NodeID(v.Ints[0])
}

// Tree exposes the register tree so pkg/node/services handlers and
// cmd/cynode's startup wiring can init additional registers (e.g.
// per-subject uavcan.pub.<name>.id entries) before the node starts
// ticking.
func (n *Node) Tree() *register.Tree { return n.tree }

// Dispatcher exposes the RPC dispatcher for service registration.
func (n *Node) Dispatcher() *dispatch.Dispatcher { return n.dispatcher }

// Pool exposes the shared block allocator, e.g. for a dynamic register
// getter reporting live pool diagnostics.
func (n *Node) Pool() *pool.Pool { return n.pool }

// Clock exposes the node's injected monotonic clock.
func (n *Node) Clock() mocktime.Clock { return n.clock }

// Logger exposes the node's structured logger.
func (n *Node) Logger() *zap.Logger { return n.logger }

// NodeID reports the node's current node-ID, or dsdl.NodeIDUnset while
// anonymous.
func (n *Node) NodeID() dsdl.NodeID { return n.nodeID }

// MaxNodeID reports the configured upper bound for PnP-assigned node-IDs.
func (n *Node) MaxNodeID() dsdl.NodeID { return n.maxNodeID }

// UniqueID reports the node's persistent 16-byte identity.
func (n *Node) UniqueID() [16]byte { return n.uniqueID }

// Anonymous reports whether the node has not yet acquired a node-ID, per
// spec.md §3 "sentinel unset means anonymous".
func (n *Node) Anonymous() bool { return n.nodeID == dsdl.NodeIDUnset }

// Armed reports the actuator role's current arming sub-state (spec.md
// §4.7 "Arming sub-state").
func (n *Node) Armed() bool { return n.armed }

// Readiness reports the last-received readiness subject value.
func (n *Node) Readiness() uint8 { return n.readiness }

// Setpoint reports the last-received setpoint cache, applied to hardware
// only while Armed (spec.md §4.7).
func (n *Node) Setpoint() dsdl.SetpointMsg { return n.setpoint }

// Uptime reports seconds elapsed since the node was constructed, for
// Heartbeat.UptimeSeconds.
func (n *Node) Uptime() uint32 { return uint32((n.clock.Now() - n.startedAt) / time.Second) }

// MarkPoolFailure records that the allocator has failed at least once,
// escalating Heartbeat.Health to Caution per spec.md §4.7 "1 Hz loop".
func (n *Node) MarkPoolFailure() {
	n.poolEverFailed = true
	n.metrics.IncPoolOOM()
}

// PoolEverFailed reports whether the allocator has ever returned OOM.
func (n *Node) PoolEverFailed() bool { return n.poolEverFailed }

// RequestRestart raises the restart_required flag checked between
// scheduler ticks (spec.md §4.8 "Cancellation is by raising the
// restart_required flag").
func (n *Node) RequestRestart() { n.restartRequired = true }

// RestartRequired reports whether a restart has been requested.
func (n *Node) RestartRequired() bool { return n.restartRequired }

// MarkFactoryReset raises the factory-reset flag, checked by cmd/cynode's
// startup wiring to decide whether to wipe the KV store before reopening
// it (spec.md §4.7 "[Resetting] -> [Restarting]").
func (n *Node) MarkFactoryReset() { n.factoryResetFlag = true; n.restartRequired = true }

// FactoryResetRequested reports whether a factory reset has been requested.
func (n *Node) FactoryResetRequested() bool { return n.factoryResetFlag }

// StorePersistentRegisters commits every persistent register to the KV
// store on demand, per the ExecuteCommand STORE_PERSISTENT_STATES handler
// (spec.md §4.7).
func (n *Node) StorePersistentRegisters() error { return n.tree.StorePersistent() }

// AttachInterface binds an I/O adapter under name, creating its dedicated
// TX queue. crc selects the transport trailer this interface's TXQueue
// appends (transfer.CRCCyphalCAN for cansock adapters, transfer.CRCCyphalUDP
// for udpmcast adapters).
func (n *Node) AttachInterface(name string, adapter iface.Adapter, crc transfer.CRCKind) {
	n.ifaces = append(n.ifaces, &ifaceBinding{
		name:    name,
		adapter: adapter,
		tx:      transfer.NewTXQueue(n.pool, adapter.MTU(), crc),
	})
}

// minMTU returns the smallest configured interface MTU, used to decide
// whether a message would require multi-frame fragmentation (relevant to
// the anonymous-node single-frame-only restriction, spec.md invariant 1).
func (n *Node) minMTU() int {
	m := -1
	for _, ib := range n.ifaces {
		if m == -1 || ib.adapter.MTU() < m {
			m = ib.adapter.MTU()
		}
	}
	return m
}

func fragmentCount(payloadLen, mtu int) int {
	chunkCap := mtu - transfer.FragmentHeaderSize
	if chunkCap <= 0 {
		return 1
	}
	count := (payloadLen + chunkCap - 1) / chunkCap
	if count == 0 {
		count = 1
	}
	return count
}

// DefinePublisher registers a publisher under portID, ready for Publish
// calls. Per invariant 2, portID may be dsdl.PortIDUnset to configure a
// disabled publisher without error.
func (n *Node) DefinePublisher(portID dsdl.PortID, priority dsdl.Priority, txTimeout time.Duration) *Publisher {
	pub := &Publisher{PortID: portID, Priority: priority, TxTimeout: txTimeout}
	n.publishers[portID] = pub
	return pub
}

// Publish fragments and enqueues payload as a message transfer on every
// attached interface, fetching and incrementing pub's own transfer-ID
// counter. Anonymous nodes may only publish single-frame transfers and
// the reserved PnP subject (spec.md invariant 1); any other attempt
// returns a *cyerr.Error of kind Anonymous.
func (n *Node) Publish(pub *Publisher, payload []byte, now time.Duration) error {
	if pub == nil || pub.PortID == dsdl.PortIDUnset {
		return nil
	}
	if n.Anonymous() && pub.PortID != SubjectPnP && fragmentCount(len(payload), n.minMTU()) > 1 {
		return cyerr.New("node.Publish", cyerr.KindAnonymous, "multi-frame message while anonymous")
	}
	tid := pub.NextTID
	pub.NextTID++
	return n.publishWithTID(pub.PortID, pub.Priority, tid, payload, now+pub.TxTimeout)
}

// FastTickTID returns one transfer-ID shared by every fast-loop subject
// published during the current tick, per spec.md's documented open
// question on transfer-ID reuse within a single fast-loop tick (spec.md §9,
// DESIGN.md "Open Question decisions" #1). Callers fetch this once per
// tick, not once per subject.
func (n *Node) FastTickTID() dsdl.TransferID {
	tid := n.nextFastTID
	n.nextFastTID++
	return tid
}

// PublishFast is the fast-loop variant (spec.md §4.7 "Fast loop ...
// increment transfer-ID once per loop tick, shared across same-tick
// messages"): callers fetch one shared transfer-ID via FastTickTID once
// per tick and pass it to every fast subject published in that tick,
// instead of letting each Publisher increment its own counter.
func (n *Node) PublishFast(portID dsdl.PortID, priority dsdl.Priority, tid dsdl.TransferID, payload []byte, now time.Duration) error {
	if portID == dsdl.PortIDUnset {
		return nil
	}
	if n.Anonymous() {
		return cyerr.New("node.PublishFast", cyerr.KindAnonymous, "fast-loop publish while anonymous")
	}
	return n.publishWithTID(portID, priority, tid, payload, now+ControlTimeout)
}

func (n *Node) publishWithTID(portID dsdl.PortID, priority dsdl.Priority, tid dsdl.TransferID, payload []byte, deadline time.Duration) error {
	var firstErr error
	for _, ib := range n.ifaces {
		t := transfer.Transfer{
			Source:      n.nodeID,
			Destination: dsdl.NodeIDUnset,
			PortID:      portID,
			Kind:        transfer.KindMessage,
			TransferID:  tid,
			Priority:    priority,
			Payload:     payload,
			Deadline:    deadline,
		}
		if err := ib.tx.Enqueue(t); err != nil {
			n.metrics.IncTXDropped(ib.name)
			if cyerr.Is(err, cyerr.KindMemory) {
				n.MarkPoolFailure()
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Respond enqueues a service response transfer addressed to dest, echoing
// the request's transfer-ID and priority as spec.md §4.4 "respond(...)"
// describes, on every attached interface (redundant-interface replication,
// spec.md §5 "Ordering guarantees").
func (n *Node) Respond(serviceID uint16, dest dsdl.NodeID, tid dsdl.TransferID, priority dsdl.Priority, payload []byte, now time.Duration) error {
	var firstErr error
	for _, ib := range n.ifaces {
		t := transfer.Transfer{
			Source:      n.nodeID,
			Destination: dest,
			PortID:      dsdl.PortID(serviceID),
			Kind:        transfer.KindResponse,
			TransferID:  tid,
			Priority:    priority,
			Payload:     payload,
			Deadline:    now + ControlTimeout,
		}
		if err := ib.tx.Enqueue(t); err != nil {
			n.metrics.IncTXDropped(ib.name)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Subscribe creates a subject subscription, joining the corresponding
// multicast group on every attached interface that supports it (e.g.
// udpmcast.Adapter.Join). A duplicate portID is a configuration error.
func (n *Node) Subscribe(portID dsdl.PortID, extent int, tidTimeout time.Duration, crc transfer.CRCKind, handler transfer.Handler) error {
	if portID == dsdl.PortIDUnset {
		return nil
	}
	if _, exists := n.subjectSubs[portID]; exists {
		return cyerr.New("node.Subscribe", cyerr.KindAlreadyExists, "subject already subscribed")
	}
	n.subjectSubs[portID] = transfer.NewSubscription(portID, extent, tidTimeout, crc, handler)

	type joiner interface{ Join(dsdl.PortID) error }
	for _, ib := range n.ifaces {
		if j, ok := ib.adapter.(joiner); ok {
			if err := j.Join(portID); err != nil {
				n.logger.Warn("multicast join failed", zap.String("iface", ib.name), zap.Error(err))
			}
		}
	}
	return nil
}

// RegisterServer registers handler as the server for serviceID and wires a
// matching RX subscription that dispatches completed requests to it,
// replying through Respond with the handler's returned payload.
func (n *Node) RegisterServer(serviceID uint16, extent int, tidTimeout time.Duration, crc transfer.CRCKind, handler dispatch.Handler) error {
	if err := n.dispatcher.Register(serviceID, true, handler); err != nil {
		return err
	}
	port := dsdl.PortID(serviceID)
	n.serviceSubs[port] = transfer.NewSubscription(port, extent, tidTimeout, crc, func(r transfer.Received) {
		resp, matched, err := n.dispatcher.Dispatch(r)
		if err != nil {
			n.logger.Warn("service handler error", zap.Uint16("service", serviceID), zap.Error(err))
			return
		}
		if !matched {
			n.metrics.IncDispatchUnmatched()
			return
		}
		if resp == nil {
			return
		}
		if err := n.Respond(serviceID, r.Source, r.TransferID, r.Priority, resp, n.clock.Now()); err != nil {
			n.logger.Warn("failed to enqueue response", zap.Uint16("service", serviceID), zap.Error(err))
		}
	})
	return nil
}

// EnableRPC starts the dispatcher once the node has acquired a node-ID
// (spec.md §4.7 "start the RPC dispatcher" on PnP success).
func (n *Node) EnableRPC() error { return n.dispatcher.Enable(n.nodeID) }

// AdoptNodeID transitions the node from Anonymous to Operational, per
// spec.md §4.7 "adopt the proposed ID, tear down the PnP subscription
// (free its resources), persist the new ID ..., and start the RPC
// dispatcher". It is a no-op (P8 idempotence) if already operational.
func (n *Node) AdoptNodeID(id dsdl.NodeID) error {
	if !n.Anonymous() {
		return nil
	}
	if err := n.tree.Assign(n.nodeIDReg.Name, register.Natural16(uint16(id))); err != nil {
		return err
	}
	n.nodeID = id
	delete(n.subjectSubs, SubjectPnP)
	return n.EnableRPC()
}

// IOStep drains ready RX datagrams (up to the configured batch size) and
// writable TX queues across every attached interface, per spec.md §4.8.
// budget bounds how long it may block waiting for an interface to become
// readable (spec.md §5 "Suspension points": "the only place a tick may
// block is the I/O step, which waits on socket readiness with an explicit
// deadline"); it is the Scheduler's nearest remaining periodic deadline.
func (n *Node) IOStep(now time.Duration, budget time.Duration) {
	for _, ib := range n.ifaces {
		ib.adapter.Poll(budget)
		for i := 0; i < n.ioBatch; i++ {
			d, ok, err := ib.adapter.Receive()
			if err != nil {
				n.logger.Warn("adapter receive error", zap.String("iface", ib.name), zap.Error(err))
				break
			}
			if !ok {
				break
			}
			n.metrics.IncFramesReceived(ib.name)
			n.handleDatagram(ib, d, now)
		}

		for {
			item, ok := ib.tx.Pop(now)
			if !ok {
				break
			}
			if err := ib.adapter.Send(iface.Datagram{Data: item.Data}); err != nil {
				n.logger.Warn("adapter send error", zap.String("iface", ib.name), zap.Error(err))
			} else {
				n.metrics.IncFramesSent(ib.name)
			}
			ib.tx.Free(item)
		}
	}
	n.metrics.SetPoolUsed(n.pool.Diagnostics().Used)
}

func (n *Node) handleDatagram(ib *ifaceBinding, d iface.Datagram, now time.Duration) {
	h, payload, ok := transfer.DecodeFragment(d.Data)
	if !ok {
		n.metrics.IncFramesDiscarded(ib.name)
		return
	}
	if h.Destination != dsdl.NodeIDUnset && h.Destination != n.nodeID {
		return // addressed to a different node (spec.md §4.6 "destination-node-ID==local")
	}

	var sub *transfer.Subscription
	switch h.Kind {
	case transfer.KindMessage:
		sub = n.subjectSubs[h.PortID]
	case transfer.KindRequest:
		sub = n.serviceSubs[h.PortID]
	default:
		return // response-role client dispatch is not implemented by this node
	}
	if sub == nil {
		return
	}
	if err := sub.Receive(h.Source, h, payload, now); err != nil {
		n.logger.Debug("reassembly rejected fragment",
			zap.String("iface", ib.name), zap.Uint16("port", uint16(h.PortID)), zap.Error(err))
	}
}

// ReapSubscriptions sweeps every subject and service subscription for
// sessions idle longer than their transfer-ID timeout, completed or not
// (spec.md §4.5 step 6), driven by the scheduler's 1 Hz tick.
func (n *Node) ReapSubscriptions(now time.Duration) int {
	total := 0
	for _, s := range n.subjectSubs {
		total += s.Reap(now)
	}
	for _, s := range n.serviceSubs {
		total += s.Reap(now)
	}
	return total
}

// SetReadiness records a new readiness subject value and derives the
// actuator's armed sub-state (spec.md §4.7 "armed := readiness >= ENGAGED"),
// refreshing the control-timeout clock.
func (n *Node) SetReadiness(v uint8, now time.Duration) {
	n.readiness = v
	n.lastControlAt = now
	n.armed = v >= dsdl.ReadinessEngaged
	n.metrics.SetArmed(n.armed)
}

// UpdateSetpoint caches the latest setpoint subject value and refreshes
// the control-timeout clock; the cache is read by the application layer
// and applied to hardware only while Armed (spec.md §4.7).
func (n *Node) UpdateSetpoint(sp dsdl.SetpointMsg, now time.Duration) {
	n.setpoint = sp
	n.lastControlAt = now
}

// CheckControlTimeout disarms the actuator role if neither readiness nor
// setpoint has refreshed within ControlTimeout (spec.md §4.7 "1 Hz loop
// ... automatically disarm if the arming subject was not refreshed within
// the standard control-timeout window"). Returns true if it just disarmed.
func (n *Node) CheckControlTimeout(now time.Duration) bool {
	if n.armed && now-n.lastControlAt > ControlTimeout {
		n.armed = false
		n.metrics.SetArmed(false)
		return true
	}
	return false
}

// Health computes the Heartbeat.Health level from the node's current
// diagnostic state (spec.md §4.7 "CAUTION if the allocator has ever
// failed, otherwise NOMINAL").
func (n *Node) Health() uint8 {
	if n.poolEverFailed {
		return dsdl.HealthCaution
	}
	return dsdl.HealthNominal
}

// PublisherPorts lists the port-IDs of every defined publisher, for the
// port.List emitter (spec.md §4.7 "0.1 Hz loop").
func (n *Node) PublisherPorts() []dsdl.PortID {
	ports := make([]dsdl.PortID, 0, len(n.publishers))
	for p := range n.publishers {
		if p != dsdl.PortIDUnset {
			ports = append(ports, p)
		}
	}
	return ports
}

// SubscriberPorts lists the port-IDs of every subject subscription.
func (n *Node) SubscriberPorts() []dsdl.PortID {
	ports := make([]dsdl.PortID, 0, len(n.subjectSubs))
	for p := range n.subjectSubs {
		ports = append(ports, p)
	}
	return ports
}

// ServerPorts lists the service-IDs of every registered RPC server.
func (n *Node) ServerPorts() []dsdl.PortID {
	ports := make([]dsdl.PortID, 0, len(n.serviceSubs))
	for p := range n.serviceSubs {
		ports = append(ports, p)
	}
	return ports
}

// Shutdown persists registers and closes the KV store, per spec.md §4.3
// "stored on controlled shutdown".
func (n *Node) Shutdown() error {
	if err := n.tree.StorePersistent(); err != nil {
		n.logger.Warn("failed to persist registers on shutdown", zap.Error(err))
	}
	return n.kv.Close()
}
