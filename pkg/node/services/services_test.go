package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/iface"
	"github.com/opencyphal-garage/cynode/pkg/iface/mocktime"
	"github.com/opencyphal-garage/cynode/pkg/node"
	"github.com/opencyphal-garage/cynode/pkg/node/services"
	"github.com/opencyphal-garage/cynode/pkg/register"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

// loopbackAdapter mirrors pkg/node's test helper of the same name: a
// minimal in-memory iface.Adapter, one per test file since Go test
// packages don't share unexported helpers across package boundaries.
type loopbackAdapter struct {
	out chan []byte
	in  chan []byte
	mtu int
}

func newLoopbackPair(mtu int) (a, b *loopbackAdapter) {
	c1 := make(chan []byte, 64)
	c2 := make(chan []byte, 64)
	return &loopbackAdapter{out: c1, in: c2, mtu: mtu}, &loopbackAdapter{out: c2, in: c1, mtu: mtu}
}

func (a *loopbackAdapter) Poll(time.Duration) bool { return len(a.in) > 0 }
func (a *loopbackAdapter) Send(d iface.Datagram) error {
	a.out <- append([]byte(nil), d.Data...)
	return nil
}
func (a *loopbackAdapter) Receive() (iface.Datagram, bool, error) {
	select {
	case data := <-a.in:
		return iface.Datagram{Data: data}, true, nil
	default:
		return iface.Datagram{}, false, nil
	}
}
func (a *loopbackAdapter) MTU() int       { return a.mtu }
func (a *loopbackAdapter) Discarded() int { return 0 }
func (a *loopbackAdapter) Close() error   { return nil }

func canFrame(h transfer.FragmentHeader, payload []byte) []byte {
	trailer := transfer.NewCRC16().Block(payload).Bytes()
	full := append(append([]byte(nil), payload...), trailer[:]...)
	return transfer.EncodeFragment(h, full)
}

func newTestNode(t *testing.T, nodeID dsdl.NodeID) (*node.Node, *mocktime.Manual) {
	t.Helper()
	clock := mocktime.NewManual()
	n, err := node.New(node.WithNodeID(nodeID), node.WithClock(clock), node.WithUniqueID([16]byte{1, 2, 3, 4}))
	require.NoError(t, err)
	return n, clock
}

func TestRegisterAccessWriteThenRead(t *testing.T) {
	n, _ := newTestNode(t, 5)
	handler := services.NewRegisterAccess(n)

	writeReq := dsdl.AccessRequest{Name: "uavcan.node.description", Value: register.String("abc")}
	payload, err := writeReq.MarshalBinary()
	require.NoError(t, err)

	respBytes, err := handler.Handle(transfer.Received{Payload: payload})
	require.NoError(t, err)

	var resp dsdl.AccessResponse
	require.NoError(t, resp.UnmarshalBinary(respBytes))
	require.Equal(t, "abc", resp.Value.Str)
	require.True(t, resp.Persistent)
	require.True(t, resp.RemotelyMutable)

	readReq := dsdl.AccessRequest{Name: "uavcan.node.description"}
	payload, err = readReq.MarshalBinary()
	require.NoError(t, err)
	respBytes, err = handler.Handle(transfer.Received{Payload: payload})
	require.NoError(t, err)
	require.NoError(t, resp.UnmarshalBinary(respBytes))
	require.Equal(t, "abc", resp.Value.Str)
}

func TestRegisterAccessRejectsMismatchedVariant(t *testing.T) {
	n, _ := newTestNode(t, 5)
	handler := services.NewRegisterAccess(n)

	// uavcan.node.id is a natural16 register; writing a string must be
	// refused, leaving the stored value unchanged (invariant 6 / P6).
	req := dsdl.AccessRequest{Name: "uavcan.node.id", Value: register.String("nope")}
	payload, err := req.MarshalBinary()
	require.NoError(t, err)

	respBytes, err := handler.Handle(transfer.Received{Payload: payload})
	require.NoError(t, err)

	var resp dsdl.AccessResponse
	require.NoError(t, resp.UnmarshalBinary(respBytes))
	require.Equal(t, register.KindInt, resp.Value.Kind)
	require.Equal(t, int64(5), resp.Value.Ints[0])
}

func TestRegisterAccessUnknownNameReturnsEmpty(t *testing.T) {
	n, _ := newTestNode(t, 5)
	handler := services.NewRegisterAccess(n)

	req := dsdl.AccessRequest{Name: "uavcan.does.not.exist"}
	payload, err := req.MarshalBinary()
	require.NoError(t, err)

	respBytes, err := handler.Handle(transfer.Received{Payload: payload})
	require.NoError(t, err)

	var resp dsdl.AccessResponse
	require.NoError(t, resp.UnmarshalBinary(respBytes))
	require.Equal(t, register.KindEmpty, resp.Value.Kind)
}

func TestRegisterListEnumeratesThenReturnsEmptyPastEnd(t *testing.T) {
	n, _ := newTestNode(t, 5)
	n.Tree().Freeze()
	handler := services.NewRegisterList(n)

	names := map[string]bool{}
	for i := uint16(0); i < uint16(n.Tree().Len()); i++ {
		req := dsdl.ListRequest{Index: i}
		payload, err := req.MarshalBinary()
		require.NoError(t, err)
		respBytes, err := handler.Handle(transfer.Received{Payload: payload})
		require.NoError(t, err)
		var resp dsdl.ListResponse
		require.NoError(t, resp.UnmarshalBinary(respBytes))
		require.NotEmpty(t, resp.Name)
		names[resp.Name] = true
	}
	require.Contains(t, names, "uavcan.node.id")

	req := dsdl.ListRequest{Index: uint16(n.Tree().Len()) + 10}
	payload, err := req.MarshalBinary()
	require.NoError(t, err)
	respBytes, err := handler.Handle(transfer.Received{Payload: payload})
	require.NoError(t, err)
	var resp dsdl.ListResponse
	require.NoError(t, resp.UnmarshalBinary(respBytes))
	require.Empty(t, resp.Name)
}

func TestExecuteCommandRestart(t *testing.T) {
	n, _ := newTestNode(t, 5)
	handler := services.NewExecuteCommand(n)

	req := dsdl.ExecuteCommandRequest{Command: dsdl.CommandRestart}
	payload, err := req.MarshalBinary()
	require.NoError(t, err)
	respBytes, err := handler.Handle(transfer.Received{Payload: payload})
	require.NoError(t, err)

	var resp dsdl.ExecuteCommandResponse
	require.NoError(t, resp.UnmarshalBinary(respBytes))
	require.Equal(t, dsdl.StatusSuccess, resp.Status)
	require.True(t, n.RestartRequired())
}

func TestExecuteCommandUnknownIsBadCommand(t *testing.T) {
	n, _ := newTestNode(t, 5)
	handler := services.NewExecuteCommand(n)

	req := dsdl.ExecuteCommandRequest{Command: 1234}
	payload, err := req.MarshalBinary()
	require.NoError(t, err)
	respBytes, err := handler.Handle(transfer.Received{Payload: payload})
	require.NoError(t, err)

	var resp dsdl.ExecuteCommandResponse
	require.NoError(t, resp.UnmarshalBinary(respBytes))
	require.Equal(t, dsdl.StatusBadCommand, resp.Status)
}

func TestExecuteCommandBeginSoftwareUpdateIsBadState(t *testing.T) {
	n, _ := newTestNode(t, 5)
	handler := services.NewExecuteCommand(n)

	req := dsdl.ExecuteCommandRequest{Command: dsdl.CommandBeginSoftwareUpdate}
	payload, err := req.MarshalBinary()
	require.NoError(t, err)
	respBytes, err := handler.Handle(transfer.Received{Payload: payload})
	require.NoError(t, err)

	var resp dsdl.ExecuteCommandResponse
	require.NoError(t, resp.UnmarshalBinary(respBytes))
	require.Equal(t, dsdl.StatusBadState, resp.Status)
}

func TestHeartbeatSilentWhileAnonymous(t *testing.T) {
	n, clock := newTestNode(t, dsdl.NodeIDUnset)
	a, _ := newLoopbackPair(64)
	n.AttachInterface("loop", a, transfer.CRCCyphalCAN)

	hb := services.NewHeartbeat(n, node.SubjectHeartbeat, dsdl.PriorityNominal)
	require.NoError(t, hb.Tick(clock.Now()))
	n.IOStep(clock.Now(), 0)

	select {
	case <-a.out:
		t.Fatal("anonymous node must not emit a heartbeat (invariant 1 / P7)")
	default:
	}
}

func TestHeartbeatPublishesWhenOperational(t *testing.T) {
	n, clock := newTestNode(t, 5)
	a, _ := newLoopbackPair(64)
	n.AttachInterface("loop", a, transfer.CRCCyphalCAN)

	hb := services.NewHeartbeat(n, node.SubjectHeartbeat, dsdl.PriorityNominal)
	require.NoError(t, hb.Tick(clock.Now()))
	n.IOStep(clock.Now(), 0)

	select {
	case <-a.out:
	default:
		t.Fatal("expected an operational node to emit a heartbeat frame")
	}
}

func TestPnPAcceptanceAdoptsNodeIDAndIgnoresLateDuplicates(t *testing.T) {
	n, clock := newTestNode(t, dsdl.NodeIDUnset)
	a, _ := newLoopbackPair(128)
	n.AttachInterface("loop", a, transfer.CRCCyphalCAN)

	client, err := services.NewPnPClient(n, 64, time.Second, transfer.CRCCyphalCAN,
		services.WithCoin(func() bool { return true }))
	require.NoError(t, err)

	require.NoError(t, client.Tick(clock.Now()))
	n.IOStep(clock.Now(), 0)
	select {
	case <-a.out:
	default:
		t.Fatal("expected a PnP allocation request to have been enqueued")
	}

	resp := dsdl.NodeIDAllocationData{UniqueID: n.UniqueID(), NodeID: 125}
	respPayload, err := resp.MarshalBinary()
	require.NoError(t, err)
	frame := canFrame(transfer.FragmentHeader{
		Priority: dsdl.PrioritySlow, Kind: transfer.KindMessage,
		Source: 1, Destination: dsdl.NodeIDUnset, PortID: node.SubjectPnP,
		TransferID: 0, Index: 0, Count: 1,
	}, respPayload)
	a.in <- frame

	n.IOStep(clock.Now(), 0)
	require.Equal(t, dsdl.NodeID(125), n.NodeID())
	require.False(t, n.Anonymous())

	// a late duplicate response must not reconfigure the node (P8);
	// AdoptNodeID removed the PnP subscription, so the frame is discarded
	// before it reaches the handler.
	dup := canFrame(transfer.FragmentHeader{
		Priority: dsdl.PrioritySlow, Kind: transfer.KindMessage,
		Source: 1, Destination: dsdl.NodeIDUnset, PortID: node.SubjectPnP,
		TransferID: 1, Index: 0, Count: 1,
	}, respPayload)
	a.in <- dup
	n.IOStep(clock.Now(), 0)
	require.Equal(t, dsdl.NodeID(125), n.NodeID())
}

func TestPnPIgnoresResponseForOtherUniqueID(t *testing.T) {
	n, clock := newTestNode(t, dsdl.NodeIDUnset)
	a, _ := newLoopbackPair(128)
	n.AttachInterface("loop", a, transfer.CRCCyphalCAN)

	_, err := services.NewPnPClient(n, 64, time.Second, transfer.CRCCyphalCAN)
	require.NoError(t, err)

	other := dsdl.NodeIDAllocationData{UniqueID: [16]byte{9, 9, 9}, NodeID: 77}
	payload, err := other.MarshalBinary()
	require.NoError(t, err)
	frame := canFrame(transfer.FragmentHeader{
		Priority: dsdl.PrioritySlow, Kind: transfer.KindMessage,
		Source: 2, Destination: dsdl.NodeIDUnset, PortID: node.SubjectPnP,
		TransferID: 0, Index: 0, Count: 1,
	}, payload)
	a.in <- frame

	n.IOStep(clock.Now(), 0)
	require.True(t, n.Anonymous())
}

func TestPortListAdvertisesActivePorts(t *testing.T) {
	n, clock := newTestNode(t, 5)
	a, _ := newLoopbackPair(256)
	n.AttachInterface("loop", a, transfer.CRCCyphalCAN)

	require.NoError(t, n.Subscribe(50, 64, time.Second, transfer.CRCCyphalCAN, func(transfer.Received) {}))
	pl := services.NewPortList(n, node.SubjectPortList)
	require.NoError(t, pl.Tick(clock.Now()))
	n.IOStep(clock.Now(), 0)

	select {
	case <-a.out:
	default:
		t.Fatal("expected a port.List frame")
	}
}

func TestActuatorFastTickSharesTransferIDAndRespectsArming(t *testing.T) {
	n, clock := newTestNode(t, 5)
	a, _ := newLoopbackPair(128)
	n.AttachInterface("loop", a, transfer.CRCCyphalCAN)

	ports := services.ActuatorPorts{
		DynamicsPort:     100,
		DynamicsPriority: dsdl.PriorityHigh,
		FeedbackPort:     10,
		FeedbackPriority: dsdl.PriorityHigh,
		ReadinessPort:    51,
		SetpointPort:     50,
	}
	act, err := services.NewActuator(n, ports, 64, time.Second, transfer.CRCCyphalCAN)
	require.NoError(t, err)

	require.NoError(t, act.FastTick(clock.Now()))
	n.IOStep(clock.Now(), 0)

	var frames [][]byte
	for {
		select {
		case f := <-a.out:
			frames = append(frames, f)
			continue
		default:
		}
		break
	}
	require.Len(t, frames, 2, "dynamics and feedback must both publish")
	h0, _, ok := transfer.DecodeFragment(frames[0])
	require.True(t, ok)
	h1, _, ok := transfer.DecodeFragment(frames[1])
	require.True(t, ok)
	require.Equal(t, h0.TransferID, h1.TransferID, "same-tick publishes must share one transfer-ID")

	readiness := dsdl.ReadinessMsg{Value: dsdl.ReadinessEngaged}
	payload, err := readiness.MarshalBinary()
	require.NoError(t, err)
	a.in <- canFrame(transfer.FragmentHeader{
		Priority: dsdl.PriorityNominal, Kind: transfer.KindMessage,
		Source: 9, Destination: dsdl.NodeIDUnset, PortID: 51,
		TransferID: 0, Index: 0, Count: 1,
	}, payload)
	n.IOStep(clock.Now(), 0)
	require.True(t, n.Armed())

	act.OneHzTick(clock.Now())
	require.True(t, n.Armed(), "must stay armed before the control timeout elapses")

	clock.Advance(node.ControlTimeout + time.Millisecond)
	act.OneHzTick(clock.Now())
	require.False(t, n.Armed())
}
