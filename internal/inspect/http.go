package inspect

import (
	"bufio"
	"bytes"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"fw-proxy/internal/errors"
)

// MaxHTTPContentLength is the largest body the proxy lets through from an
// HTTP server.
const MaxHTTPContentLength = 5000

// CheckHTTP parses chunk as the head of an HTTP message (start line and
// headers; the body may be partial or absent) and returns a KindPolicy error
// unless it declares a Content-Length between 0 and maxContentLength.
//
// Only the one chunk is looked at. Headers split across two reads fail the
// check, since the terminating blank line is missing.
func CheckHTTP(chunk []byte, maxContentLength int) error {
	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(chunk)))

	start, err := tp.ReadLine()
	if err != nil {
		return errors.Wrap(err, errors.KindPolicy, "http: missing start line")
	}
	if !validStartLine(start) {
		return errors.Errorf(errors.KindPolicy, "http: malformed start line %q", start)
	}

	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		return errors.Wrap(err, errors.KindPolicy, "http: malformed headers")
	}

	values := hdr.Values("Content-Length")
	if len(values) == 0 {
		return errors.New(errors.KindPolicy, "http: no content-length")
	}

	var length int64 = -1
	for _, v := range values {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			return errors.Errorf(errors.KindPolicy, "http: invalid content-length %q", v)
		}
		if length >= 0 && n != length {
			return errors.Errorf(errors.KindPolicy, "http: conflicting content-length values %q", values)
		}
		length = n
	}

	if length > int64(maxContentLength) {
		return errors.Errorf(errors.KindPolicy, "http: content-length %d exceeds %d", length, maxContentLength)
	}
	return nil
}

// IsAcceptableHTTP reports whether chunk passes CheckHTTP.
func IsAcceptableHTTP(chunk []byte, maxContentLength int) bool {
	return CheckHTTP(chunk, maxContentLength) == nil
}

// validStartLine accepts a status line ("HTTP/1.1 200 OK") or a request line
// ("GET / HTTP/1.1").
func validStartLine(line string) bool {
	if strings.HasPrefix(line, "HTTP/") {
		proto, rest, _ := strings.Cut(line, " ")
		if _, _, ok := http.ParseHTTPVersion(proto); !ok {
			return false
		}
		code, _, _ := strings.Cut(strings.TrimLeft(rest, " "), " ")
		if len(code) != 3 {
			return false
		}
		n, err := strconv.Atoi(code)
		return err == nil && n >= 100
	}

	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return false
	}
	if strings.IndexFunc(parts[0], func(r rune) bool { return r < 'A' || r > 'Z' }) >= 0 {
		return false
	}
	_, _, ok := http.ParseHTTPVersion(parts[2])
	return ok
}
