package transfer

import (
	"container/heap"
	"time"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/pool"
)

// CRCKind selects which transport trailer a TXQueue appends to the last
// fragment of a transfer, per spec.md §6 (CAN gets a CRC16 trailer, UDP a
// CRC32C trailer).
type CRCKind uint8

const (
	CRCNone CRCKind = iota
	CRCCyphalCAN
	CRCCyphalUDP
)

// Item is one queued outgoing wire fragment (spec.md §3 "TxItem"). Pop
// transfers ownership of Data to the caller, who must return it to Pool via
// Free once transmitted.
type Item struct {
	Priority dsdl.Priority
	Deadline time.Duration
	Data     []byte

	seq uint64
}

// txHeap implements container/heap.Interface with the spec's queue order:
// "(priority desc, insertion order)" (§4.4).
type txHeap []*Item

func (h txHeap) Len() int { return len(h) }
func (h txHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority // lower numeric value = higher priority
	}
	return h[i].seq < h[j].seq
}
func (h txHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *txHeap) Push(x any)   { *h = append(*h, x.(*Item)) }
func (h *txHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// TXQueue is the per-interface priority queue of outgoing fragments
// (spec.md §4.4). Queued frame storage is allocated from a shared Pool;
// Enqueue returns a *cyerr.Error of kind Memory rather than blocking when
// the pool is exhausted.
type TXQueue struct {
	pool *pool.Pool
	mtu  int
	crc  CRCKind

	items txHeap
	seq   uint64

	dropped int
}

// NewTXQueue creates a queue that fragments payloads to at most mtu bytes
// of fragment header+data and appends the trailer selected by crc.
func NewTXQueue(p *pool.Pool, mtu int, crc CRCKind) *TXQueue {
	return &TXQueue{pool: p, mtu: mtu, crc: crc}
}

// Enqueue fragments t's payload and pushes one Item per fragment, all
// sharing t.TransferID and t.Priority (spec.md §4.4 "Algorithm").
func (q *TXQueue) Enqueue(t Transfer) error {
	full := t.Payload
	switch q.crc {
	case CRCCyphalCAN:
		c := NewCRC16().Block(t.Payload)
		trailer := c.Bytes()
		full = append(append([]byte{}, t.Payload...), trailer[:]...)
	case CRCCyphalUDP:
		sum := CRC32C(t.Payload)
		var trailer [4]byte
		trailer[0] = byte(sum)
		trailer[1] = byte(sum >> 8)
		trailer[2] = byte(sum >> 16)
		trailer[3] = byte(sum >> 24)
		full = append(append([]byte{}, t.Payload...), trailer[:]...)
	}

	chunkCap := q.mtu - FragmentHeaderSize
	if chunkCap <= 0 {
		return cyerr.New("transfer.TXQueue.Enqueue", cyerr.KindArgument, "mtu too small for fragment header")
	}
	count := (len(full) + chunkCap - 1) / chunkCap
	if count == 0 {
		count = 1 // zero-length payload still produces one empty fragment
	}

	for i := 0; i < count; i++ {
		start := i * chunkCap
		end := start + chunkCap
		if end > len(full) {
			end = len(full)
		}
		chunk := full[start:end]

		buf, err := q.pool.AllocateOrErr("transfer.TXQueue.Enqueue", FragmentHeaderSize+len(chunk))
		if err != nil {
			q.dropped++
			return err
		}
		encoded := EncodeFragment(FragmentHeader{
			Priority:    t.Priority,
			Kind:        t.Kind,
			Source:      t.Source,
			Destination: t.Destination,
			PortID:      t.PortID,
			TransferID:  t.TransferID,
			Index:       uint16(i),
			Count:       uint16(count),
		}, chunk)
		copy(buf, encoded)

		q.seq++
		heap.Push(&q.items, &Item{
			Priority: t.Priority,
			Deadline: t.Deadline,
			Data:     buf,
			seq:      q.seq,
		})
	}
	return nil
}

// Pop removes and returns the highest-priority, oldest-enqueued item,
// dropping (and freeing) any expired items first per spec.md §7
// "Cancellation / timeouts": "on or after that deadline the item is
// dropped without transmission".
func (q *TXQueue) Pop(now time.Duration) (Item, bool) {
	for q.items.Len() > 0 {
		item := heap.Pop(&q.items).(*Item)
		if item.Deadline != 0 && now >= item.Deadline {
			q.pool.Deallocate(item.Data)
			q.dropped++
			continue
		}
		return *item, true
	}
	return Item{}, false
}

// Free returns a popped item's storage to the pool. Callers must call this
// exactly once per successful Pop, after the fragment has been transmitted
// (or otherwise disposed of).
func (q *TXQueue) Free(item Item) { q.pool.Deallocate(item.Data) }

// Len reports the number of fragments currently queued.
func (q *TXQueue) Len() int { return q.items.Len() }

// Dropped reports the cumulative count of items dropped for deadline
// expiry or pool exhaustion.
func (q *TXQueue) Dropped() int { return q.dropped }
