package conntrack

import (
	"bufio"
	"bytes"
	"net/netip"

	"fw-proxy/internal/errors"
	"fw-proxy/internal/sysfs"
)

// DefaultPath is the sysfs-relative location of the module's connection table.
const DefaultPath = "class/fw/fw/conn_tab"

// Table reads and extends the kernel's connection table.
//
// Nothing is cached: the kernel rewrites the table between calls, so every
// lookup reads the attribute again.
type Table struct {
	FS   sysfs.FS
	Path string
}

func NewTable(fs sysfs.FS, rel string) *Table {
	if rel == "" {
		rel = DefaultPath
	}
	return &Table{FS: fs, Path: rel}
}

// LookupRealDestination returns the pre-redirection destination of the
// connection the proxy sees as client -> fakeDst.
//
// The first row matching (real_src_ip, real_src_port, fake_dst_ip,
// fake_dst_port) wins. A malformed row stops the scan and the lookup reports
// KindNotFound (wrapping the parse error), so a corrupted table can never
// resolve to an unintended destination. An unreadable table is KindUnavailable.
func (t *Table) LookupRealDestination(client, fakeDst netip.AddrPort) (netip.AddrPort, error) {
	raw, err := t.FS.ReadFileLocked(t.Path)
	if err != nil {
		return netip.AddrPort{}, errors.Wrapf(err, errors.KindUnavailable, "read %s", t.FS.Path(t.Path))
	}

	sc := newLineScanner(raw)
	for sc.Scan() {
		line := sc.Text()
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}

		e, err := ParseLine(line)
		if err != nil {
			return netip.AddrPort{}, errors.Wrapf(
				errors.Wrapf(err, errors.KindMalformed, "malformed row %q", line),
				errors.KindNotFound, "no destination for %s -> %s", client, fakeDst)
		}
		if e.Matches(client, fakeDst) {
			return e.RealDestination(), nil
		}
	}
	if err := sc.Err(); err != nil {
		return netip.AddrPort{}, errors.Wrapf(err, errors.KindUnavailable, "scan %s", t.FS.Path(t.Path))
	}

	return netip.AddrPort{}, errors.Errorf(errors.KindNotFound, "no destination for %s -> %s", client, fakeDst)
}

// RegisterPendingDataConnection tells the module to expect a connection from
// src to dst. The write replaces the attribute's content with a single
// four-field row; the module turns it into a full entry.
func (t *Table) RegisterPendingDataConnection(src, dst netip.AddrPort) error {
	row := FormatPending(src, dst)
	if err := t.FS.OverwriteLocked(t.Path, []byte(row)); err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "write %s", t.FS.Path(t.Path))
	}
	return nil
}

// Entries parses the whole table. Unlike LookupRealDestination it skips
// malformed rows and reports how many it dropped; it feeds metrics only and
// never decides where a connection goes.
func (t *Table) Entries() ([]Entry, int, error) {
	raw, err := t.FS.ReadFileLocked(t.Path)
	if err != nil {
		return nil, 0, errors.Wrapf(err, errors.KindUnavailable, "read %s", t.FS.Path(t.Path))
	}

	var (
		out       []Entry
		malformed int
	)
	sc := newLineScanner(raw)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		e, err := ParseLine(sc.Text())
		if err != nil {
			malformed++
			continue
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, 0, errors.Wrapf(err, errors.KindUnavailable, "scan %s", t.FS.Path(t.Path))
	}

	return out, malformed, nil
}

func newLineScanner(raw []byte) *bufio.Scanner {
	sc := bufio.NewScanner(bytes.NewReader(raw))
	// A row is well under 200 bytes, but the table itself can be large.
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return sc
}
