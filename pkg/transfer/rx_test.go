package transfer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

// sendTransfer fragments and feeds a transfer through a subscription in one
// shot, for tests that don't care about per-fragment delivery.
func sendTransfer(t *testing.T, sub *transfer.Subscription, tid dsdl.TransferID, payload []byte, now time.Duration, skipIndex int) {
	t.Helper()
	sum := transfer.NewCRC16().Block(payload).Bytes()
	full := append(append([]byte{}, payload...), sum[:]...)

	const chunk = 8
	count := (len(full) + chunk - 1) / chunk
	for i := 0; i < count; i++ {
		if i == skipIndex {
			continue
		}
		start := i * chunk
		end := start + chunk
		if end > len(full) {
			end = len(full)
		}
		h := transfer.FragmentHeader{
			Priority: dsdl.PriorityNominal, Kind: transfer.KindMessage,
			PortID: 50, TransferID: tid, Index: uint16(i), Count: uint16(count),
		}
		require.NoError(t, sub.Receive(7, h, full[start:end], now))
	}
}

func TestReassemblyDeliversOnLastFragment(t *testing.T) {
	var delivered *transfer.Received
	sub := transfer.NewSubscription(50, 1024, time.Second, transfer.CRCCyphalCAN, func(r transfer.Received) {
		delivered = &r
	})
	payload := []byte("position=-3.14")
	sendTransfer(t, sub, 1, payload, 0, -1)

	require.NotNil(t, delivered)
	require.Equal(t, payload, delivered.Payload)
	require.Equal(t, 0, sub.SessionCount())
}

func TestDroppedFragmentPreventsDeliveryAndIsReaped(t *testing.T) {
	// scenario 6: a 2-frame transfer with fragment 2 dropped never invokes
	// the handler; the session is reaped after the transfer-ID timeout; the
	// next transfer with a new transfer-ID is delivered normally.
	delivered := 0
	sub := transfer.NewSubscription(50, 1024, 100*time.Millisecond, transfer.CRCCyphalCAN, func(transfer.Received) {
		delivered++
	})

	payload := make([]byte, 14) // with the 2-byte CRC, spans 2 chunks of 8 bytes at the test's chunk size
	sendTransfer(t, sub, 1, payload, 0, 1)
	require.Equal(t, 0, delivered)
	require.Equal(t, 1, sub.SessionCount())

	n := sub.Reap(200 * time.Millisecond)
	require.Equal(t, 1, n)
	require.Equal(t, 0, sub.SessionCount())

	sendTransfer(t, sub, 2, payload, 200*time.Millisecond, -1)
	require.Equal(t, 1, delivered)
}

func TestDuplicateTransferIDWithinTimeoutIsDiscarded(t *testing.T) {
	delivered := 0
	sub := transfer.NewSubscription(50, 1024, time.Second, transfer.CRCCyphalCAN, func(transfer.Received) {
		delivered++
	})
	payload := []byte("hello")
	sendTransfer(t, sub, 5, payload, 0, -1)
	require.Equal(t, 1, delivered)

	// a repeat of the same transfer-ID arriving again within the timeout
	// window must be treated as a duplicate single-fragment retransmission,
	// not a second delivery.
	sendTransfer(t, sub, 5, payload, 10*time.Millisecond, -1)
	require.Equal(t, 1, delivered, "P1: duplicate transfer-ID must not redeliver")
}

func TestOversizedTransferExceedsExtent(t *testing.T) {
	delivered := 0
	sub := transfer.NewSubscription(50, 10, time.Second, transfer.CRCCyphalCAN, func(transfer.Received) {
		delivered++
	})
	payload := make([]byte, 40)
	sendTransfer(t, sub, 1, payload, 0, -1)
	require.Equal(t, 0, delivered, "P2: oversized transfer must be rejected, not delivered")
}
