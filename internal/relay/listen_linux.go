//go:build linux

package relay

import (
	"fmt"
	"net"
	"net/netip"
	"os"

	"golang.org/x/sys/unix"
)

// listenTCP binds addr with an explicit accept backlog. net.Listen always
// uses the system maximum, so the socket is built by hand and handed to the
// runtime poller through net.FileListener.
func listenTCP(addr netip.AddrPort, backlog int) (*net.TCPListener, error) {
	ip := addr.Addr().Unmap()

	var (
		family int
		sa     unix.Sockaddr
	)
	if ip.Is4() {
		family = unix.AF_INET
		sa = &unix.SockaddrInet4{Port: int(addr.Port()), Addr: ip.As4()}
	} else {
		family = unix.AF_INET6
		sa = &unix.SockaddrInet6{Port: int(addr.Port()), Addr: ip.As16()}
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}

	f := os.NewFile(uintptr(fd), "tcp:"+addr.String())
	// FileListener dups the descriptor; ours is closed either way.
	ln, err := net.FileListener(f)
	_ = f.Close()
	if err != nil {
		return nil, err
	}

	tl, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, fmt.Errorf("listener for %s is %T, not TCP", addr, ln)
	}
	return tl, nil
}
