package conntrack

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

const entryFields = 11

// ParseLine parses a single connection-table row:
//
//	real_src_ip real_src_port real_dst_ip real_dst_port tcp_state timestamp \
//	  fake_src_ip fake_src_port fake_dst_ip fake_dst_port fake_tcp_state
//
// Unlike a tolerant log parser this one is strict: anything other than
// exactly eleven decimal fields that fit their width is an error, because a row the proxy
// cannot read must never be mistaken for a different connection.
func ParseLine(line string) (Entry, error) {
	fields := strings.Fields(line)
	if len(fields) != entryFields {
		return Entry{}, fmt.Errorf("expected %d fields, got %d", entryFields, len(fields))
	}

	var e Entry
	p := fieldParser{fields: fields}

	e.RealSrcIP = p.ip(0)
	e.RealSrcPort = p.port(1)
	e.RealDstIP = p.ip(2)
	e.RealDstPort = p.port(3)
	e.State = p.state(4)
	e.Timestamp = p.uint(5, 64)
	e.FakeSrcIP = p.ip(6)
	e.FakeSrcPort = p.port(7)
	e.FakeDstIP = p.ip(8)
	e.FakeDstPort = p.port(9)
	e.FakeState = p.state(10)

	if p.err != nil {
		return Entry{}, p.err
	}
	return e, nil
}

// FormatPending renders the four-field row the module accepts for announcing
// an FTP data connection: "src_ip src_port dst_ip dst_port\n".
func FormatPending(src, dst netip.AddrPort) string {
	return fmt.Sprintf("%d %d %d %d\n",
		IPToUint32(src.Addr()), src.Port(),
		IPToUint32(dst.Addr()), dst.Port(),
	)
}

// fieldParser remembers the first failure so ParseLine reads top to bottom.
type fieldParser struct {
	fields []string
	err    error
}

func (p *fieldParser) uint(i, bits int) uint64 {
	if p.err != nil {
		return 0
	}
	n, err := strconv.ParseUint(p.fields[i], 10, bits)
	if err != nil {
		p.err = fmt.Errorf("field %d: %w", i+1, err)
		return 0
	}
	return n
}

func (p *fieldParser) ip(i int) uint32 {
	return uint32(p.uint(i, 32))
}

func (p *fieldParser) port(i int) uint16 {
	return uint16(p.uint(i, 16))
}

// state accepts any value that fits in 31 bits, not only the ten known
// states: the value is informational and a kernel with extra states must not
// make rows unreadable.
func (p *fieldParser) state(i int) TCPState {
	return TCPState(p.uint(i, 31))
}
