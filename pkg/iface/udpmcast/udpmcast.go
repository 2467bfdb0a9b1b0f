// Package udpmcast implements the UDP/IPv4 multicast adapter (spec.md §6's
// second wire transport): "multicast group 239.0.0.0/8 with the subject-ID
// encoded in low-order bits; TTL >= 16". DSCP is set once per socket from
// the PriorityNominal entry of PriorityTOS (zero by default), not per
// datagram priority. Socket creation goes through net.ListenUDP,
// matching the teacher's net.Conn/net.Listener-shaped transports; the
// multicast-specific sockopts (IP_ADD_MEMBERSHIP, IP_TOS, TTL) go through
// golang.org/x/sys/unix directly via the connection's raw syscall conn,
// same discipline as pkg/iface/cansock.
package udpmcast

import (
	"net"
	"time"

	"golang.org/x/sys/unix"

	"github.com/opencyphal-garage/cynode/pkg/cyerr"
	"github.com/opencyphal-garage/cynode/pkg/dsdl"
	"github.com/opencyphal-garage/cynode/pkg/iface"
	"github.com/opencyphal-garage/cynode/pkg/transfer"
)

// DefaultPort is the standard destination UDP port for the Cyphal
// multicast transport (spec.md §6).
const DefaultPort = 9382

// DefaultMTU bounds a single UDP datagram's fragment payload, comfortably
// under the common Ethernet MTU minus IP/UDP headers.
const DefaultMTU = 1408

// PriorityTOS maps a transfer priority to an IP_TOS (DSCP) byte; the zero
// value (all priorities map to 0) matches the spec's stated default. The
// adapter applies only the PriorityNominal entry, once at Open, to every
// datagram it sends; the other entries are not used.
type PriorityTOS [8]byte

// Adapter is a UDP/IPv4 multicast Adapter. One Adapter owns one bound
// socket and the set of multicast groups it has joined on behalf of
// active subscriptions.
type Adapter struct {
	conn      *net.UDPConn
	iface     *net.Interface
	ttl       int
	tos       PriorityTOS
	mtu       int
	port      int
	joined    map[string]bool
	discarded int
}

type udpFactory struct{}

func init() {
	iface.RegisterFactory("udp", &udpFactory{})
}

func (udpFactory) NewAdapter(name string) (iface.Adapter, error) {
	return Open(name, DefaultPort, 16, PriorityTOS{})
}

// Open binds a UDP socket on the named network interface for multicast
// send/receive. port is the shared destination port (DefaultPort unless
// testing); ttl must be >= 16 per spec.md §6.
func Open(ifaceName string, port, ttl int, tos PriorityTOS) (*Adapter, error) {
	nif, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, cyerr.Wrap("udpmcast.Open", cyerr.KindArgument, err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, cyerr.Wrap("udpmcast.Open", cyerr.KindIO, err)
	}

	a := &Adapter{
		conn:   conn,
		iface:  nif,
		ttl:    ttl,
		tos:    tos,
		mtu:    DefaultMTU,
		port:   port,
		joined: make(map[string]bool),
	}
	if err := a.setSockopts(); err != nil {
		conn.Close()
		return nil, err
	}
	return a, nil
}

func (a *Adapter) setSockopts() error {
	raw, err := a.conn.SyscallConn()
	if err != nil {
		return cyerr.Wrap("udpmcast.setSockopts", cyerr.KindIO, err)
	}
	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MULTICAST_TTL, a.ttl)
		if sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, int(a.tos[dsdl.PriorityNominal]))
	})
	if ctrlErr != nil {
		return cyerr.Wrap("udpmcast.setSockopts", cyerr.KindIO, ctrlErr)
	}
	return sockErr
}

// groupForPort derives the destination multicast address for a port-ID,
// per spec.md §6: "multicast group 239.0.0.0/8 with the subject-ID
// encoded in low-order bits".
func groupForPort(portID dsdl.PortID) net.IP {
	return net.IPv4(239, 0, byte(portID>>8), byte(portID))
}

// Join starts accepting datagrams addressed to portID's multicast group,
// called when a subscription for that port is created.
func (a *Adapter) Join(portID dsdl.PortID) error {
	group := groupForPort(portID)
	key := group.String()
	if a.joined[key] {
		return nil
	}

	raw, err := a.conn.SyscallConn()
	if err != nil {
		return cyerr.Wrap("udpmcast.Join", cyerr.KindIO, err)
	}
	mreq := &unix.IPMreq{}
	copy(mreq.Multiaddr[:], group.To4())
	if addrs, err := a.iface.Addrs(); err == nil {
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok {
				if v4 := ipNet.IP.To4(); v4 != nil {
					copy(mreq.Interface[:], v4)
					break
				}
			}
		}
	}

	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptIPMreq(int(fd), unix.IPPROTO_IP, unix.IP_ADD_MEMBERSHIP, mreq)
	})
	if ctrlErr != nil {
		return cyerr.Wrap("udpmcast.Join", cyerr.KindIO, ctrlErr)
	}
	if sockErr != nil {
		return cyerr.Wrap("udpmcast.Join", cyerr.KindIO, sockErr)
	}
	a.joined[key] = true
	return nil
}

// MTU reports the maximum fragment payload this adapter will carry in one
// UDP datagram.
func (a *Adapter) MTU() int { return a.mtu }

// Discarded reports datagrams dropped for being unparseable as a fragment.
func (a *Adapter) Discarded() int { return a.discarded }

// Poll waits up to timeout for the socket to become readable, using a raw
// poll(2) on the underlying fd so it never consumes a datagram itself.
func (a *Adapter) Poll(timeout time.Duration) bool {
	raw, err := a.conn.SyscallConn()
	if err != nil {
		return false
	}
	var ready bool
	_ = raw.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, perr := unix.Poll(fds, int(timeout.Milliseconds()))
		ready = perr == nil && n > 0 && fds[0].Revents&unix.POLLIN != 0
	})
	return ready
}

// Send writes one datagram to the multicast group derived from the
// fragment header encoded at the start of d.Data.
func (a *Adapter) Send(d iface.Datagram) error {
	h, _, ok := transfer.DecodeFragment(d.Data)
	if !ok {
		return cyerr.New("udpmcast.Send", cyerr.KindArgument, "datagram is not a valid fragment")
	}
	group := groupForPort(h.PortID)
	_, err := a.conn.WriteToUDP(d.Data, &net.UDPAddr{IP: group, Port: a.port})
	if err != nil {
		return cyerr.Wrap("udpmcast.Send", cyerr.KindIO, err)
	}
	return nil
}

// Receive returns the next available datagram without blocking.
func (a *Adapter) Receive() (iface.Datagram, bool, error) {
	_ = a.conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	buf := make([]byte, a.mtu)
	n, _, err := a.conn.ReadFromUDP(buf)
	if err != nil {
		return iface.Datagram{}, false, nil
	}
	if _, _, ok := transfer.DecodeFragment(buf[:n]); !ok {
		a.discarded++
		return iface.Datagram{}, false, nil
	}
	return iface.Datagram{Data: buf[:n]}, true, nil
}

// Close releases the underlying socket.
func (a *Adapter) Close() error { return a.conn.Close() }
