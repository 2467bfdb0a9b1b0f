// Package cansock implements the CAN/CAN-FD adapter over a Linux SocketCAN
// raw socket (spec.md §6's first wire transport), grounded on the direct
// syscall discipline used for raw device I/O in the pack's ublk backend
// (explicit errno handling, no abstraction layer between the call and the
// kernel).
//
// A logical datagram handed to Send (already carrying a
// transfer.FragmentHeader) is almost always larger than one physical
// CAN/CAN-FD frame's data field, so this adapter runs its own inner
// fragmentation beneath the transfer engine's: each physical frame's last
// data byte is a tail byte (start/end/toggle/sequence), the same role
// spec.md §6 calls "transfer framing flags". The transfer engine never
// sees this layer; it only sees Adapter.MTU().
package cansock

import (
	"time"

	"golang.org/x/sys/unix"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
	"github.com/opencyphal-garage/cynode/pkg/iface"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

const (
	effFlag = 0x80000000 // extended frame format; every ID here is 29-bit

	tailStart   = 1 << 7
	tailEnd     = 1 << 6
	tailToggle  = 1 << 5
	tailSeqMask = 0x1F

	// logicalMTU bounds the reassembled datagram size the transfer engine
	// is told about; chosen generously since the inner fragmentation cost
	// is paid transparently by this adapter.
	logicalMTU = 512
)

// Adapter is a SocketCAN raw-socket Adapter. One Adapter owns one bound
// socket against one named CAN interface (e.g. "can0", "vcan0").
type Adapter struct {
	fd            int
	dataLen       int // 8 for classic frames, 64 for CAN-FD
	frameWireSize int // 16 for classic, 72 for FD

	rx        map[uint32]*rxState
	ready     [][]byte
	discarded int

	txSeq map[uint32]byte
}

type rxState struct {
	buf   []byte
	seq   byte
	first bool
}

type canFactory struct{ fdEnabled bool }

func init() {
	iface.RegisterFactory("can", &canFactory{fdEnabled: false})
	iface.RegisterFactory("canfd", &canFactory{fdEnabled: true})
}

func (f *canFactory) NewAdapter(name string) (iface.Adapter, error) {
	return Open(name, f.fdEnabled)
}

// Open binds a non-blocking CAN_RAW socket to the named interface.
// fdEnabled selects CAN-FD framing (64 data bytes) over classic CAN (8).
func Open(name string, fdEnabled bool) (*Adapter, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW|unix.SOCK_NONBLOCK, unix.CAN_RAW)
	if err != nil {
		return nil, cyerr.Wrap("cansock.Open", cyerr.KindIO, err)
	}

	ifr, err := unix.NewIfreq(name)
	if err != nil {
		unix.Close(fd)
		return nil, cyerr.Wrap("cansock.Open", cyerr.KindArgument, err)
	}
	if err := unix.IoctlIfreq(fd, unix.SIOCGIFINDEX, ifr); err != nil {
		unix.Close(fd)
		return nil, cyerr.Wrap("cansock.Open", cyerr.KindIO, err)
	}
	ifindex := int(ifr.Uint32())

	dataLen, wireSize := 8, 16
	if fdEnabled {
		if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
			unix.Close(fd)
			return nil, cyerr.Wrap("cansock.Open", cyerr.KindIO, err)
		}
		dataLen, wireSize = 64, 72
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifindex}); err != nil {
		unix.Close(fd)
		return nil, cyerr.Wrap("cansock.Open", cyerr.KindIO, err)
	}

	return &Adapter{
		fd:            fd,
		dataLen:       dataLen,
		frameWireSize: wireSize,
		rx:            make(map[uint32]*rxState),
		txSeq:         make(map[uint32]byte),
	}, nil
}

// MTU reports the logical datagram size the transfer engine may fragment
// to; this adapter further splits each datagram across physical frames.
func (a *Adapter) MTU() int { return logicalMTU }

// Discarded reports physical frames dropped for an invalid data length
// code. Tail-byte toggle and sequence bits are not checked on receive.
func (a *Adapter) Discarded() int { return a.discarded }

// Poll waits up to timeout for the socket to become readable.
func (a *Adapter) Poll(timeout time.Duration) bool {
	fds := []unix.PollFd{{Fd: int32(a.fd), Events: unix.POLLIN}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil || n <= 0 {
		return len(a.ready) > 0
	}
	return fds[0].Revents&unix.POLLIN != 0 || len(a.ready) > 0
}

// Send fragments d.Data across as many physical CAN/CAN-FD frames as
// needed, deriving the 29-bit CAN ID from the transfer.FragmentHeader
// encoded at the start of d.Data.
func (a *Adapter) Send(d iface.Datagram) error {
	h, _, ok := transfer.DecodeFragment(d.Data)
	if !ok {
		return cyerr.New("cansock.Send", cyerr.KindArgument, "datagram is not a valid fragment")
	}
	id := encodeCANID(canID{
		Priority:    h.Priority,
		IsService:   h.Kind != transfer.KindMessage,
		IsRequest:   h.Kind == transfer.KindRequest,
		PortID:      h.PortID,
		Source:      h.Source,
		Destination: h.Destination,
	})

	chunkSize := a.dataLen - 1 // reserve the tail byte
	payload := d.Data
	count := (len(payload) + chunkSize - 1) / chunkSize
	if count == 0 {
		count = 1
	}

	seq := a.txSeq[id]
	toggle := byte(0)
	for i := 0; i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[start:end]

		tail := seq & tailSeqMask
		if i == 0 {
			tail |= tailStart
		}
		if i == count-1 {
			tail |= tailEnd
		}
		if toggle != 0 {
			tail |= tailToggle
		}
		toggle ^= 1
		seq++

		frame := make([]byte, a.frameWireSize)
		putUint32LE(frame[0:4], id|effFlag)
		frame[4] = byte(len(chunk) + 1)
		copy(frame[8:8+len(chunk)], chunk)
		frame[8+len(chunk)] = tail

		if _, err := unix.Write(a.fd, frame); err != nil {
			return cyerr.Wrap("cansock.Send", cyerr.KindIO, err)
		}
	}
	a.txSeq[id] = seq
	return nil
}

// Receive drains any pending physical frames, reassembling complete
// datagrams, and returns the oldest one ready for delivery.
func (a *Adapter) Receive() (iface.Datagram, bool, error) {
	a.drain()
	if len(a.ready) == 0 {
		return iface.Datagram{}, false, nil
	}
	d := a.ready[0]
	a.ready = a.ready[1:]
	return iface.Datagram{Data: d}, true, nil
}

func (a *Adapter) drain() {
	buf := make([]byte, a.frameWireSize)
	for {
		n, err := unix.Read(a.fd, buf)
		if err != nil || n < 8 {
			return
		}
		id := getUint32LE(buf[0:4]) &^ effFlag
		dlc := int(buf[4])
		if dlc < 1 || dlc > a.dataLen || dlc > n-8 {
			a.discarded++
			continue
		}
		chunk := buf[8 : 8+dlc-1]
		tail := buf[8+dlc-1]

		st, ok := a.rx[id]
		if !ok || tail&tailStart != 0 {
			st = &rxState{}
			a.rx[id] = st
		}
		st.buf = append(st.buf, chunk...)

		if tail&tailEnd != 0 {
			a.ready = append(a.ready, st.buf)
			delete(a.rx, id)
		}
	}
}

// Close releases the underlying socket.
func (a *Adapter) Close() error {
	return unix.Close(a.fd)
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func getUint32LE(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
