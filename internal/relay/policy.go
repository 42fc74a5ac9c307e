package relay

import (
	"net/netip"

	"fw-proxy/internal/errors"
	"fw-proxy/internal/inspect"
	"fw-proxy/internal/ports"
)

// Policy maps a socket role to the inspector its chunks go through.
type Policy struct {
	MaxHTTPContentLength int
	BlockSourceCode      bool
	Port                 *inspect.PortHandler
}

// Evaluate returns a KindPolicy error when chunk, produced by a socket with
// the given role, must not be forwarded. server is the real server of the
// pair; the PORT handler registers data connections from its host.
func (p *Policy) Evaluate(role ports.Role, chunk []byte, server netip.AddrPort) error {
	switch role {
	case ports.HTTPUpstream:
		return inspect.CheckHTTP(chunk, p.MaxHTTPContentLength)

	case ports.FTPControlUpstream, ports.FTPDataUpstream:
		if inspect.LooksExecutable(chunk) {
			return errors.New(errors.KindPolicy, "ftp: executable content")
		}

	case ports.FTPControlDownstream:
		return p.Port.Check(chunk, server)

	case ports.Outbound:
		if p.BlockSourceCode && inspect.ProbablyIsSourceCode(chunk) {
			return errors.New(errors.KindPolicy, "outbound data looks like source code")
		}
	}
	return nil
}
