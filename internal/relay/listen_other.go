//go:build !linux

package relay

import (
	"net"
	"net/netip"
)

// listenTCP falls back to the runtime's default backlog off Linux.
func listenTCP(addr netip.AddrPort, _ int) (*net.TCPListener, error) {
	return net.ListenTCP("tcp", net.TCPAddrFromAddrPort(addr))
}
