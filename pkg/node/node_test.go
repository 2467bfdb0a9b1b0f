package node_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/iface"
	"github.com/opencyphal-garage/cynode/pkg/iface/mocktime"
	"github.com/opencyphal-garage/cynode/pkg/node"
)

// loopbackAdapter is a minimal in-memory iface.Adapter for tests, standing
// in for a real CAN/UDP socket: Send appends to out, Receive drains in.
type loopbackAdapter struct {
	out       chan []byte
	in        chan []byte
	mtu       int
	discarded int
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
func (a *loopbackAdapter) Discarded() int { return a.discarded }
func (a *loopbackAdapter) Close() error   { return nil }

func newTestNode(t *testing.T, nodeID dsdl.NodeID) (*node.Node, *mocktime.Manual) {
	t.Helper()
	clock := mocktime.NewManual()
	n, err := node.New(node.WithNodeID(nodeID), node.WithClock(clock))
	require.NoError(t, err)
	return n, clock
}

func TestAnonymousRPCDispatchIsConfigurationError(t *testing.T) {
	n, _ := newTestNode(t, dsdl.NodeIDUnset)
	require.True(t, n.Anonymous())
	err := n.EnableRPC()
	require.Error(t, err)
}

func TestArmingTimeoutDisarms(t *testing.T) {
	n, clock := newTestNode(t, 5)

	n.SetReadiness(dsdl.ReadinessEngaged, clock.Now())
	require.True(t, n.Armed())

	clock.Advance(node.ControlTimeout + time.Millisecond)
	disarmed := n.CheckControlTimeout(clock.Now())
	require.True(t, disarmed)
	require.False(t, n.Armed())
}

func TestArmingHoldsWhileRefreshed(t *testing.T) {
	n, clock := newTestNode(t, 5)

	n.SetReadiness(dsdl.ReadinessEngaged, clock.Now())
	clock.Advance(node.ControlTimeout / 2)
	n.UpdateSetpoint(dsdl.SetpointMsg{Position: 1}, clock.Now())
	clock.Advance(node.ControlTimeout / 2)

	require.False(t, n.CheckControlTimeout(clock.Now()))
	require.True(t, n.Armed())
}

func TestFastTickTIDAdvancesOncePerCall(t *testing.T) {
	n, _ := newTestNode(t, 5)
	first := n.FastTickTID()
	second := n.FastTickTID()
	require.Equal(t, first+1, second)
}

func TestPoolFailureEscalatesHealth(t *testing.T) {
	n, _ := newTestNode(t, 5)
	require.Equal(t, dsdl.HealthNominal, n.Health())
	n.MarkPoolFailure()
	require.Equal(t, dsdl.HealthCaution, n.Health())
}

func TestAdoptNodeIDIsIdempotent(t *testing.T) {
	n, _ := newTestNode(t, dsdl.NodeIDUnset)
	require.NoError(t, n.AdoptNodeID(42))
	require.Equal(t, dsdl.NodeID(42), n.NodeID())

	// a second adoption attempt (e.g. a duplicate PnP response) must not
	// reconfigure the node (P8).
	require.NoError(t, n.AdoptNodeID(99))
	require.Equal(t, dsdl.NodeID(42), n.NodeID())
}

func TestPublishMultiFrameRejectedWhileAnonymous(t *testing.T) {
	n, clock := newTestNode(t, dsdl.NodeIDUnset)
	a, _ := newLoopbackPair(30) // small MTU (8-byte chunk capacity) forces multi-frame fragmentation
	n.AttachInterface("loop", a, 0)

	pub := n.DefinePublisher(100, dsdl.PriorityNominal, node.ControlTimeout)
	err := n.Publish(pub, make([]byte, 64), clock.Now())
	require.Error(t, err)
}
