package conntrack

// This package is responsible for the firewall module's connection table:
// parsing its rows, formatting the pending-row the proxy writes back, and
// reading/writing the sysfs attribute through Table.
//
// The kernel owns the table. The proxy never drives TCP state transitions;
// it only reads rows and registers FTP data connections it anticipates.

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// TCPState is the connection state as reported by the kernel module (1..10).
type TCPState int

const (
	StateClosed TCPState = iota + 1
	StateListen
	StateSynSent
	StateSynRcvd
	StateEstablished
	StateFinWait1
	StateCloseWait
	StateFinWait2
	StateLastAck
	StateTimeWait
)

var stateNames = [...]string{
	StateClosed:      "CLOSED",
	StateListen:      "LISTEN",
	StateSynSent:     "SYN_SENT",
	StateSynRcvd:     "SYN_RCVD",
	StateEstablished: "ESTABLISHED",
	StateFinWait1:    "FIN_WAIT_1",
	StateCloseWait:   "CLOSE_WAIT",
	StateFinWait2:    "FIN_WAIT_2",
	StateLastAck:     "LAST_ACK",
	StateTimeWait:    "TIME_WAIT",
}

// Valid reports whether s is one of the ten states the module emits.
func (s TCPState) Valid() bool {
	return s >= StateClosed && s <= StateTimeWait
}

func (s TCPState) String() string {
	if !s.Valid() {
		return "UNKNOWN(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// ParseTCPState accepts either the numeric value or the state name.
func ParseTCPState(v string) (TCPState, error) {
	if n, err := strconv.Atoi(v); err == nil {
		s := TCPState(n)
		if !s.Valid() {
			return 0, fmt.Errorf("tcp state %d out of range", n)
		}
		return s, nil
	}
	for i, name := range stateNames {
		if name != "" && strings.EqualFold(name, v) {
			return TCPState(i), nil
		}
	}
	return 0, fmt.Errorf("unknown tcp state %q", v)
}

// Entry is one row of the connection table.
//
// IPs are kept as the module prints them: the IPv4 address as an unsigned
// 32-bit integer with the first octet in the most significant byte.
type Entry struct {
	RealSrcIP   uint32
	RealSrcPort uint16
	RealDstIP   uint32
	RealDstPort uint16
	State       TCPState
	Timestamp   uint64

	FakeSrcIP   uint32
	FakeSrcPort uint16
	FakeDstIP   uint32
	FakeDstPort uint16
	FakeState   TCPState
}

// Matches reports whether the entry is the row for a redirected connection
// seen by the proxy as client -> fakeDst. All four fields must agree.
func (e Entry) Matches(client, fakeDst netip.AddrPort) bool {
	return e.RealSrcIP == IPToUint32(client.Addr()) &&
		e.RealSrcPort == client.Port() &&
		e.FakeDstIP == IPToUint32(fakeDst.Addr()) &&
		e.FakeDstPort == fakeDst.Port()
}

// RealDestination is the pre-redirection destination of the connection.
func (e Entry) RealDestination() netip.AddrPort {
	return netip.AddrPortFrom(Uint32ToIP(e.RealDstIP), e.RealDstPort)
}

func (e Entry) String() string {
	return fmt.Sprintf("%s -> %s [%s] via %s -> %s [%s]",
		netip.AddrPortFrom(Uint32ToIP(e.RealSrcIP), e.RealSrcPort),
		e.RealDestination(),
		e.State,
		netip.AddrPortFrom(Uint32ToIP(e.FakeSrcIP), e.FakeSrcPort),
		netip.AddrPortFrom(Uint32ToIP(e.FakeDstIP), e.FakeDstPort),
		e.FakeState,
	)
}

// IPToUint32 converts an IPv4 (or IPv4-mapped IPv6) address to the table's
// integer form. Any other address maps to 0, which never matches a real row.
func IPToUint32(a netip.Addr) uint32 {
	a = a.Unmap()
	if !a.Is4() {
		return 0
	}
	b := a.As4()
	return binary.BigEndian.Uint32(b[:])
}

func Uint32ToIP(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}
