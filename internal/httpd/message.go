// Package httpd is the streaming front end. It speaks HTTP/1.x over
// raw TCP because renderer quirks require byte-level control of
// framing: some devices mis-state Content-Length, others need chunked
// bodies reassembled before dispatch, and range serving must interleave the
// status line with the first body chunk.
package httpd

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const (
	// readChunkSize is the receive buffer granularity.
	readChunkSize = 4096
	// maxHeaderReads bounds the polling reads while waiting for the
	// end of the header block.
	maxHeaderReads = 30
	// maxBodyReads bounds the polling reads while draining a body.
	maxBodyReads = 4096
	// maxDirectChunk is the largest single write when serving a file.
	maxDirectChunk = 1 << 20
	// maxTranscodeChunk is the largest chunk when the body length is
	// unknown and the response is chunk-encoded.
	maxTranscodeChunk = 64 << 10
)

var (
	crlfcrlf = []byte("\r\n\r\n")

	errBadRequestLine = errors.New("httpd: malformed request line")
	errBadHeader      = errors.New("httpd: malformed header field")
)

// Request is a parsed inbound message.
type Request struct {
	Method   string
	Target   string
	Proto    string
	Body     []byte
	RemoteIP string

	headers map[string]string

	// Framing, derived from the headers.
	ContentLength int
	Chunked       bool

	HasRange   bool
	RangeStart int64
	RangeEnd   int64 // -1 when open ended
}

// Header returns a header value by case-insensitive name.
func (r *Request) Header(name string) string {
	return r.headers[strings.ToLower(name)]
}

// Query returns one query parameter from the request target.
func (r *Request) Query(name string) string {
	_, rawQuery, found := strings.Cut(r.Target, "?")
	if !found {
		return ""
	}
	for _, pair := range strings.Split(rawQuery, "&") {
		k, v, _ := strings.Cut(pair, "=")
		if k == name {
			return v
		}
	}
	return ""
}

// Path returns the request target without the query string.
func (r *Request) Path() string {
	path, _, _ := strings.Cut(r.Target, "?")
	return path
}

var rangePattern = regexp.MustCompile(`bytes=(\d*)-(\d*)`)

// parseHeader parses the header block, including the request line and
// everything the receive loop needs to frame the body.
func parseHeader(block []byte) (*Request, error) {
	lines := strings.Split(string(block), "\r\n")
	if len(lines) == 0 {
		return nil, errBadRequestLine
	}
	parts := strings.SplitN(strings.TrimSpace(lines[0]), " ", 3)
	if len(parts) != 3 {
		return nil, errBadRequestLine
	}

	req := &Request{
		Method:        strings.ToUpper(parts[0]),
		Target:        parts[1],
		Proto:         parts[2],
		headers:       make(map[string]string),
		ContentLength: -1,
		RangeEnd:      -1,
	}
	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, errBadHeader
		}
		req.headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	if v := req.Header("Content-Length"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("httpd: bad content length %q", v)
		}
		req.ContentLength = n
	}
	req.Chunked = strings.EqualFold(req.Header("Transfer-Encoding"), "chunked")

	if v := req.Header("Range"); v != "" {
		if m := rangePattern.FindStringSubmatch(v); m != nil {
			req.HasRange = true
			if m[1] != "" {
				req.RangeStart, _ = strconv.ParseInt(m[1], 10, 64)
			}
			if m[2] != "" {
				req.RangeEnd, _ = strconv.ParseInt(m[2], 10, 64)
			}
		}
	}
	return req, nil
}

// dechunk reassembles a chunk-encoded body. It returns the decoded
// bytes and whether the terminal zero chunk has arrived; an incomplete
// body returns false so the receive loop keeps reading. The input is
// never written: the receive loop re-runs dechunk over the same buffer
// after every read until the terminator shows up.
func dechunk(body []byte) ([]byte, bool, error) {
	decoded := make([]byte, 0, len(body))
	rest := body
	for {
		line, tail, found := bytes.Cut(rest, []byte("\r\n"))
		if !found {
			return nil, false, nil
		}
		sizeField := strings.TrimSpace(string(line))
		if i := strings.IndexByte(sizeField, ';'); i >= 0 {
			sizeField = sizeField[:i]
		}
		size, err := strconv.ParseInt(sizeField, 16, 32)
		if err != nil {
			return nil, false, fmt.Errorf("httpd: bad chunk size %q", sizeField)
		}
		if size == 0 {
			return decoded, true, nil
		}
		if int64(len(tail)) < size+2 {
			return nil, false, nil
		}
		decoded = append(decoded, tail[:size]...)
		rest = tail[size+2:]
	}
}

// isXboxQuirk reports whether the device is known to announce a
// three byte body and send only two.
func isXboxQuirk(req *Request) bool {
	agent := req.Header("User-Agent")
	return strings.Contains(agent, "Xbox") || strings.Contains(agent, "Xenon")
}

var statusText = map[int]string{
	200: "OK",
	206: "Partial Content",
	400: "Bad Request",
	403: "Forbidden",
	404: "Not Found",
	500: "Internal Server Error",
	503: "Service Unavailable",
}
