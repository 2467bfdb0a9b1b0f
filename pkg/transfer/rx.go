package transfer

import (
	"time"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
	"github.com/opencyphal-garage/cynode/pkg/dsdl"
)

// Handler receives a fully reassembled transfer, per spec.md §3
// "Subscription ... handler".
type Handler func(Received)

// session is a per-source reassembly session, per spec.md §3: "{expected
// transfer-ID, accumulated fragments, start-timestamp, CRC state} keyed by
// source node-ID".
type session struct {
	transferID dsdl.TransferID
	seen       bool // false until the first fragment of any transfer arrives
	completed  bool // true once transferID was fully delivered (or rejected)
	fragments  [][]byte
	count      uint16
	received   uint16
	start      time.Duration
}

func (s *session) reset(tid dsdl.TransferID, count uint16, now time.Duration) {
	s.transferID = tid
	s.seen = true
	s.completed = false
	s.fragments = make([][]byte, count)
	s.count = count
	s.received = 0
	s.start = now
}

// finish marks the current transferID as resolved (delivered or dropped)
// without forgetting it, so a late duplicate of the same transfer-ID is
// still recognized as a duplicate rather than reopening a session.
func (s *session) finish(now time.Duration) {
	s.completed = true
	s.fragments = nil
	s.received = 0
	s.start = now
}

func (s *session) complete() bool { return s.received == s.count }

func (s *session) totalLen() int {
	n := 0
	for _, f := range s.fragments {
		n += len(f)
	}
	return n
}

func (s *session) assemble() []byte {
	out := make([]byte, 0, s.totalLen())
	for _, f := range s.fragments {
		out = append(out, f...)
	}
	return out
}

// Subscription is a contract to accept messages on one port-ID with
// payloads of at most Extent bytes (spec.md §4.5). Per-source reassembly
// sessions are created lazily on first frame.
type Subscription struct {
	PortID            dsdl.PortID
	Extent            int
	TransferIDTimeout time.Duration
	CRC               CRCKind
	Handler           Handler

	sessions map[dsdl.NodeID]*session
}

// NewSubscription creates a subscription ready to receive frames.
func NewSubscription(portID dsdl.PortID, extent int, tidTimeout time.Duration, crc CRCKind, handler Handler) *Subscription {
	return &Subscription{
		PortID:            portID,
		Extent:            extent,
		TransferIDTimeout: tidTimeout,
		CRC:               crc,
		Handler:           handler,
		sessions:          make(map[dsdl.NodeID]*session),
	}
}

// tidOlder reports whether a is strictly older than b, given a transport
// width-modulo-wrap is out of scope here (spec.md §4.5 step 4 assumes an
// unambiguous ordering within the timeout window; this node's transfer-ID
// is carried as a full uint64 on the wire and never wraps in practice).
func tidOlder(a, b dsdl.TransferID) bool { return a < b }

// Receive processes one incoming fragment, implementing spec.md §4.5 steps
// 1-5. When the last fragment of a valid transfer arrives it invokes
// Handler directly with the reassembled Received. Duplicates and transfers
// larger than Extent are dropped with a nil error; a fragment index out of
// range or a failed CRC/length check returns a non-nil error.
func (s *Subscription) Receive(source dsdl.NodeID, h FragmentHeader, payload []byte, now time.Duration) error {
	sess, ok := s.sessions[source]
	if !ok {
		sess = &session{}
		s.sessions[source] = sess
	}

	switch {
	case !sess.seen:
		sess.reset(h.TransferID, h.Count, now)
	case h.TransferID == sess.transferID:
		if sess.completed {
			// a late fragment of an already-resolved transfer: duplicate.
			return nil
		}
		// same transfer still in progress; fall through to index check.
	case tidOlder(sess.transferID, h.TransferID):
		// newer transfer-ID: reset and start fresh, treating this frame as
		// the new start (step 3).
		sess.reset(h.TransferID, h.Count, now)
	case now-sess.start <= s.TransferIDTimeout:
		// older transfer-ID within the timeout window: duplicate, discard.
		return nil
	default:
		// older transfer-ID beyond the timeout: peer restarted, accept as
		// fresh (step 4).
		sess.reset(h.TransferID, h.Count, now)
	}

	if int(h.Index) >= len(sess.fragments) {
		sess.finish(now)
		return cyerr.New("transfer.Subscription.Receive", cyerr.KindArgument, "fragment index out of range")
	}
	if sess.fragments[h.Index] == nil {
		sess.received++
	}
	sess.fragments[h.Index] = payload

	// Extent bounds the payload; the transport trailer rides on top of it.
	limit := s.Extent
	switch s.CRC {
	case CRCCyphalCAN:
		limit += 2
	case CRCCyphalUDP:
		limit += 4
	}
	if sess.totalLen() > limit {
		// oversized transfer: drop it without invoking the handler.
		sess.finish(now)
		return nil
	}

	if !sess.complete() {
		return nil
	}

	full := sess.assemble()
	sess.finish(now)

	payloadOut, ok := stripTrailer(full, s.CRC)
	if !ok {
		return cyerr.New("transfer.Subscription.Receive", cyerr.KindArgument, "CRC or length validation failed")
	}

	s.Handler(Received{
		Source:     source,
		PortID:     s.PortID,
		Kind:       h.Kind,
		TransferID: h.TransferID,
		Priority:   h.Priority,
		Timestamp:  now,
		Payload:    payloadOut,
	})
	return nil
}

// stripTrailer validates and removes the transport trailer, per spec.md
// §4.5 step 5 "validate CRC and length".
func stripTrailer(full []byte, crc CRCKind) ([]byte, bool) {
	switch crc {
	case CRCCyphalCAN:
		if len(full) < 2 {
			return nil, false
		}
		payload, trailer := full[:len(full)-2], full[len(full)-2:]
		want := NewCRC16().Block(payload).Bytes()
		if want[0] != trailer[0] || want[1] != trailer[1] {
			return nil, false
		}
		return payload, true
	case CRCCyphalUDP:
		if len(full) < 4 {
			return nil, false
		}
		payload, trailer := full[:len(full)-4], full[len(full)-4:]
		want := CRC32C(payload)
		got := uint32(trailer[0]) | uint32(trailer[1])<<8 | uint32(trailer[2])<<16 | uint32(trailer[3])<<24
		if want != got {
			return nil, false
		}
		return payload, true
	default:
		return full, true
	}
}

// Reap removes every session idle for longer than the transfer-ID timeout,
// per spec.md §4.5 step 6: incomplete sessions as well as completed ones
// kept for duplicate detection. It returns the number removed. Driven by
// the scheduler's 1 Hz tick, not a dedicated goroutine.
func (s *Subscription) Reap(now time.Duration) int {
	n := 0
	for src, sess := range s.sessions {
		if now-sess.start > s.TransferIDTimeout {
			delete(s.sessions, src)
			n++
		}
	}
	return n
}

// SessionCount reports the number of reassembly sessions still awaiting
// completion (excludes sessions kept only for duplicate detection after
// delivering or rejecting their transfer), for diagnostics and tests.
func (s *Subscription) SessionCount() int {
	n := 0
	for _, sess := range s.sessions {
		if !sess.completed {
			n++
		}
	}
	return n
}
