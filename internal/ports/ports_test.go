package ports

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoleFor(t *testing.T) {
	m := Default()

	tests := []struct {
		name     string
		peer     uint16
		svc      Service
		accepted bool
		want     Role
	}{
		{"http server reply", 80, ServiceHTTP, false, HTTPUpstream},
		{"http client request", 51001, ServiceHTTP, true, Outbound},
		{"ftp control reply", 21, ServiceFTP, false, FTPControlUpstream},
		{"ftp client command", 51000, ServiceFTP, true, FTPControlDownstream},
		{"active ftp data from server", 20, ServiceFTPData, true, FTPDataUpstream},
		{"active ftp data client side", 51210, ServiceFTPData, false, Outbound},
		{"http to non-standard server", 8000, ServiceHTTP, false, Passthrough},
		{"ftp to non-standard server", 2121, ServiceFTP, false, Passthrough},
		{"ftp client from port 21", 21, ServiceFTP, true, FTPControlDownstream},
		{"ftp client from port 20", 20, ServiceFTP, true, FTPControlDownstream},
		{"http client from port 80", 80, ServiceHTTP, true, Outbound},
		{"http client from port 21", 21, ServiceHTTP, true, Outbound},
		{"data listener peer from port 80", 80, ServiceFTPData, true, Outbound},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.want, m.RoleFor(tc.peer, tc.svc, tc.accepted), tc.name)
	}
}

func TestSpoofPort(t *testing.T) {
	m := Default()
	assert.Equal(t, uint16(8080), m.SpoofPort(ServiceHTTP))
	assert.Equal(t, uint16(21212), m.SpoofPort(ServiceFTP))
	assert.Equal(t, uint16(20202), m.SpoofPort(ServiceFTPData))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "ftp-data", ServiceFTPData.String())
	assert.Equal(t, "http-upstream", HTTPUpstream.String())
	assert.Equal(t, "passthrough", Role(42).String())
}
