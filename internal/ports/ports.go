package ports

import "strconv"

// Real-server ports the firewall redirects.
const (
	HTTP       uint16 = 80
	FTPControl uint16 = 21
	FTPData    uint16 = 20
)

// Local ports the proxy listens on for redirected traffic.
const (
	HTTPSpoof       uint16 = 8080
	FTPControlSpoof uint16 = 21212
	FTPDataSpoof    uint16 = 20202
)

// Service identifies which redirected protocol a listening port receives.
type Service int

const (
	ServiceHTTP Service = iota
	ServiceFTP
	ServiceFTPData
)

var Services = []Service{ServiceHTTP, ServiceFTP, ServiceFTPData}

func (s Service) String() string {
	switch s {
	case ServiceHTTP:
		return "http"
	case ServiceFTP:
		return "ftp"
	case ServiceFTPData:
		return "ftp-data"
	}
	return "service(" + strconv.Itoa(int(s)) + ")"
}

// Map carries the port numbers the proxy binds and resolves roles against.
// Production uses Default(); tests override the real-server ports and bind
// ephemeral spoof ports.
type Map struct {
	HTTP       uint16
	FTPControl uint16
	FTPData    uint16

	HTTPSpoof       uint16
	FTPControlSpoof uint16
	FTPDataSpoof    uint16
}

func Default() Map {
	return Map{
		HTTP:            HTTP,
		FTPControl:      FTPControl,
		FTPData:         FTPData,
		HTTPSpoof:       HTTPSpoof,
		FTPControlSpoof: FTPControlSpoof,
		FTPDataSpoof:    FTPDataSpoof,
	}
}

// SpoofPort is the local port the given service is intercepted on.
func (m Map) SpoofPort(s Service) uint16 {
	switch s {
	case ServiceFTP:
		return m.FTPControlSpoof
	case ServiceFTPData:
		return m.FTPDataSpoof
	default:
		return m.HTTPSpoof
	}
}

// Role says which inspector runs on the bytes a socket produces. It is
// resolved once when a pair is created.
type Role int

const (
	Passthrough Role = iota
	// HTTPUpstream: bytes from a real HTTP server.
	HTTPUpstream
	// FTPControlUpstream: bytes from a real FTP control server.
	FTPControlUpstream
	// FTPDataUpstream: bytes from a real FTP data source (port 20).
	FTPDataUpstream
	// FTPControlDownstream: bytes from an FTP client heading to the server.
	FTPControlDownstream
	// Outbound: bytes a client sends on an HTTP or FTP data flow, only
	// inspected when source-code blocking is enabled.
	Outbound
)

func (r Role) String() string {
	switch r {
	case HTTPUpstream:
		return "http-upstream"
	case FTPControlUpstream:
		return "ftp-upstream"
	case FTPDataUpstream:
		return "ftp-data-upstream"
	case FTPControlDownstream:
		return "ftp-downstream"
	case Outbound:
		return "outbound"
	default:
		return "passthrough"
	}
}

// RoleFor resolves the role of one socket of a pair.
//
// peerPort is the remote port of that socket and accepted tells whether it is
// the socket the listener for svc accepted (as opposed to the one the proxy
// dialed). An accepted socket is resolved by its listener, except on the data
// listener where active-mode FTP data arrives from the server's port 20. A
// dialed socket is resolved by the real server port it is connected to.
func (m Map) RoleFor(peerPort uint16, svc Service, accepted bool) Role {
	if accepted {
		switch svc {
		case ServiceFTP:
			return FTPControlDownstream
		case ServiceHTTP:
			return Outbound
		case ServiceFTPData:
			if peerPort == m.FTPData {
				return FTPDataUpstream
			}
			return Outbound
		}
		return Passthrough
	}

	switch peerPort {
	case m.HTTP:
		return HTTPUpstream
	case m.FTPControl:
		return FTPControlUpstream
	case m.FTPData:
		return FTPDataUpstream
	}
	if svc == ServiceFTPData {
		// The user's side of a data connection.
		return Outbound
	}
	return Passthrough
}
