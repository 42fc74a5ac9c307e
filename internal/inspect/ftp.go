package inspect

import (
	"net/netip"
	"regexp"
	"strconv"

	"fw-proxy/internal/errors"
)

// portCommand matches an active-mode announcement: PORT h1,h2,h3,h4,p1,p2.
var portCommand = regexp.MustCompile(`PORT[ \t]+(\d+),(\d+),(\d+),(\d+),(\d+),(\d+)`)

// Registrar records a connection the kernel filter should let through and
// track. conntrack.Table implements it.
type Registrar interface {
	RegisterPendingDataConnection(src, dst netip.AddrPort) error
}

// PortHandler watches an FTP control stream for PORT commands and registers
// the data connection the server is about to open.
type PortHandler struct {
	Registrar Registrar
	// DataPort is the port the real server opens data connections from.
	DataPort uint16
}

// ParsePortCommand finds the first PORT command in chunk. ok is false when
// there is none; err is set when one is present but does not describe a
// valid IPv4 address and port.
func ParsePortCommand(chunk []byte) (netip.AddrPort, bool, error) {
	m := portCommand.FindSubmatch(chunk)
	if m == nil {
		return netip.AddrPort{}, false, nil
	}

	var n [6]int
	for i := range n {
		v, err := strconv.Atoi(string(m[i+1]))
		if err != nil {
			return netip.AddrPort{}, true, errors.Wrapf(err, errors.KindPolicy, "ftp: bad PORT field %q", m[i+1])
		}
		n[i] = v
	}

	var ip [4]byte
	for i := 0; i < 4; i++ {
		if n[i] > 255 {
			return netip.AddrPort{}, true, errors.Errorf(errors.KindPolicy, "ftp: PORT address octet %d out of range", n[i])
		}
		ip[i] = byte(n[i])
	}

	port := n[4]*256 + n[5]
	if port > 65535 {
		return netip.AddrPort{}, true, errors.Errorf(errors.KindPolicy, "ftp: PORT port %d out of range", port)
	}

	return netip.AddrPortFrom(netip.AddrFrom4(ip), uint16(port)), true, nil
}

// Check returns nil when chunk carries no PORT command or when the announced
// data connection from server's host was registered. A malformed command or a
// failed registration is a KindPolicy error: an unregistered data connection
// could not be inspected.
func (h *PortHandler) Check(chunk []byte, server netip.AddrPort) error {
	ann, ok, err := ParsePortCommand(chunk)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	src := netip.AddrPortFrom(server.Addr().Unmap(), h.DataPort)
	if err := h.Registrar.RegisterPendingDataConnection(src, ann); err != nil {
		return errors.Wrapf(err, errors.KindPolicy, "ftp: register data connection %s -> %s", src, ann)
	}
	return nil
}

// Handle reports whether the chunk may be forwarded.
func (h *PortHandler) Handle(chunk []byte, server netip.AddrPort) bool {
	return h.Check(chunk, server) == nil
}
