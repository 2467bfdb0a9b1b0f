package transfer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/pool"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

func newQueue(t *testing.T, mtu int) (*transfer.TXQueue, *pool.Pool) {
	t.Helper()
	p := pool.New(64*1024, 256)
	return transfer.NewTXQueue(p, mtu, transfer.CRCCyphalCAN), p
}

func TestEnqueueFragmentsPayload(t *testing.T) {
	q, _ := newQueue(t, 32) // small MTU (10 data bytes after the 22-byte header) forces multiple fragments
	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, q.Enqueue(transfer.Transfer{
		PortID:     100,
		Kind:       transfer.KindMessage,
		TransferID: 1,
		Priority:   dsdl.PriorityNominal,
		Payload:    payload,
	}))
	require.Greater(t, q.Len(), 1)

	var reassembled []byte
	count := q.Len()
	for i := 0; i < count; i++ {
		item, ok := q.Pop(0)
		require.True(t, ok)
		h, frag, ok := transfer.DecodeFragment(item.Data)
		require.True(t, ok)
		require.Equal(t, dsdl.TransferID(1), h.TransferID)
		reassembled = append(reassembled, frag...)
		q.Free(item)
	}
	// strip the 2-byte CRC16 trailer appended by Enqueue.
	require.Equal(t, payload, reassembled[:len(reassembled)-2])
}

func TestQueueOrderingIsPriorityThenFIFO(t *testing.T) {
	// scenario 5: an Optional-priority port-list enqueued before a
	// Nominal-priority heartbeat must still drain the heartbeat first.
	q, _ := newQueue(t, 256)
	require.NoError(t, q.Enqueue(transfer.Transfer{
		PortID: 384, Kind: transfer.KindMessage, TransferID: 1,
		Priority: dsdl.PriorityOptional, Payload: make([]byte, 200),
	}))
	require.NoError(t, q.Enqueue(transfer.Transfer{
		PortID: 32085, Kind: transfer.KindMessage, TransferID: 1,
		Priority: dsdl.PriorityNominal, Payload: make([]byte, 7),
	}))

	item, ok := q.Pop(0)
	require.True(t, ok)
	h, _, ok := transfer.DecodeFragment(item.Data)
	require.True(t, ok)
	require.Equal(t, dsdl.PortID(32085), h.PortID, "higher-priority heartbeat must leave first")
}

func TestPopDropsExpiredItems(t *testing.T) {
	q, p := newQueue(t, 64)
	require.NoError(t, q.Enqueue(transfer.Transfer{
		PortID: 1, Kind: transfer.KindMessage, TransferID: 1,
		Priority: dsdl.PriorityNominal, Payload: []byte("x"),
		Deadline: 10 * time.Millisecond,
	}))
	_, ok := q.Pop(20 * time.Millisecond)
	require.False(t, ok, "expired item must be dropped, not returned")
	require.Equal(t, 1, q.Dropped())
	require.Equal(t, pool.Diagnostics{Capacity: p.Diagnostics().Capacity, Used: 0, Peak: 1, Requests: 1, OOM: 0}, p.Diagnostics())
}
