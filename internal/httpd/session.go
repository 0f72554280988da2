package httpd

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Response is what a handler produces. Exactly one of Body, File or
// Stream carries the payload; File responses honour range requests and
// Stream responses are chunk-encoded because their length is unknown.
type Response struct {
	Status      int
	ContentType string
	Headers     map[string]string

	Body     []byte
	File     *os.File
	FileSize int64
	Stream   io.ReadCloser
}

// Handler turns requests into responses.
type Handler interface {
	Handle(req *Request) *Response
}

// session owns one accepted connection for its lifetime: one request,
// one response, then close.
type session struct {
	log     *zap.Logger
	conn    net.Conn
	handler Handler

	readTimeout time.Duration
	finished    atomic.Bool
}

func (s *session) run() {
	defer s.finished.Store(true)
	defer s.conn.Close()

	req, err := s.receive()
	if err != nil {
		s.log.Debug("receive failed", zap.Error(err))
		if req != nil || !errors.Is(err, io.EOF) {
			_ = s.send(req, &Response{Status: 400})
		}
		return
	}

	resp := s.handler.Handle(req)
	if resp == nil {
		resp = &Response{Status: 500}
	}
	if err := s.send(req, resp); err != nil {
		s.log.Debug("send failed",
			zap.String("target", req.Target), zap.Error(err))
	}
}

// receive reads one framed request. The loop reads in fixed size
// slices, locates the end of the header block, then drains the body
// according to its framing. Idle reads are bounded: a client that
// stalls mid-header gets few retries, one that stalls mid-body gets
// more since large uploads arrive in bursts.
func (s *session) receive() (*Request, error) {
	buf := make([]byte, readChunkSize)
	var msg []byte
	var req *Request
	headerLen := -1
	idleReads := 0

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		n, err := s.conn.Read(buf)
		if n > 0 {
			msg = append(msg, buf[:n]...)
			idleReads = 0
		}
		sawEOF := false
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				idleReads++
				limit := maxHeaderReads
				if headerLen >= 0 {
					limit = maxBodyReads
				}
				if idleReads >= limit {
					return req, fmt.Errorf("httpd: receive timed out after %d idle reads", idleReads)
				}
				continue
			}
			if !errors.Is(err, io.EOF) {
				return req, err
			}
			if headerLen < 0 && indexCRLFCRLF(msg) < 0 {
				return nil, io.EOF
			}
			sawEOF = true
		}

		if headerLen < 0 {
			i := indexCRLFCRLF(msg)
			if i < 0 {
				continue
			}
			headerLen = i + len(crlfcrlf)
			req, err = parseHeader(msg[:headerLen])
			if err != nil {
				return nil, err
			}
			if host, _, splitErr := net.SplitHostPort(s.conn.RemoteAddr().String()); splitErr == nil {
				req.RemoteIP = host
			}
		}

		body := msg[headerLen:]
		switch {
		case req.Chunked:
			decoded, complete, err := dechunk(body)
			if err != nil {
				return nil, err
			}
			if complete {
				req.Body = decoded
				return req, nil
			}
		case req.ContentLength >= 0:
			if len(body) >= req.ContentLength {
				req.Body = body[:req.ContentLength]
				return req, nil
			}
			// Some renderers announce three bytes and send two.
			if req.ContentLength == 3 && len(body) == 2 && isXboxQuirk(req) {
				req.Body = body
				return req, nil
			}
		default:
			return req, nil
		}

		if sawEOF {
			return req, io.ErrUnexpectedEOF
		}
	}
}

func indexCRLFCRLF(b []byte) int {
	for i := 0; i+len(crlfcrlf) <= len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' && b[i+2] == '\r' && b[i+3] == '\n' {
			return i
		}
	}
	return -1
}

func (s *session) send(req *Request, resp *Response) error {
	if resp.Stream != nil {
		defer resp.Stream.Close()
	}
	if resp.File != nil {
		defer resp.File.Close()
	}

	method := ""
	if req != nil {
		method = req.Method
	}

	switch {
	case resp.File != nil:
		return s.sendFile(req, resp)
	case resp.Stream != nil:
		return s.sendStream(method, resp)
	default:
		return s.sendBuffered(method, resp)
	}
}

func headerBlock(resp *Response, extra map[string]string) []byte {
	text := statusText[resp.Status]
	if text == "" {
		text = "Unknown"
	}
	var b []byte
	b = fmt.Appendf(b, "HTTP/1.1 %d %s\r\n", resp.Status, text)
	contentType := resp.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	b = fmt.Appendf(b, "Content-Type: %s\r\n", contentType)
	b = fmt.Appendf(b, "Server: fennec\r\n")
	b = fmt.Appendf(b, "Connection: close\r\n")
	for k, v := range resp.Headers {
		b = fmt.Appendf(b, "%s: %s\r\n", k, v)
	}
	for k, v := range extra {
		b = fmt.Appendf(b, "%s: %s\r\n", k, v)
	}
	return append(b, crlfcrlf[:2]...)
}

func (s *session) sendBuffered(method string, resp *Response) error {
	header := headerBlock(resp, map[string]string{
		"Content-Length": strconv.Itoa(len(resp.Body)),
	})
	if method == "HEAD" {
		_, err := s.conn.Write(header)
		return err
	}
	_, err := s.conn.Write(append(header, resp.Body...))
	return err
}

// sendFile serves a file with range semantics: any syntactically valid
// Range header gets a 206 with Content-Range, HEAD and out-of-bounds
// starts get headers only, and the body goes out in bounded chunks
// with the header block riding along with the first one.
func (s *session) sendFile(req *Request, resp *Response) error {
	size := resp.FileSize
	start := int64(0)
	end := size - 1
	status := resp.Status
	if status == 0 {
		status = 200
	}

	extra := map[string]string{"Accept-Ranges": "bytes"}
	if req != nil && req.HasRange {
		status = 206
		start = req.RangeStart
		if req.RangeEnd >= 0 && req.RangeEnd < end {
			end = req.RangeEnd
		}
		extra["Content-Range"] = fmt.Sprintf("bytes %d-%d/%d", start, end, size)
	}
	length := end - start + 1
	if length < 0 {
		length = 0
	}
	extra["Content-Length"] = strconv.FormatInt(length, 10)

	resp.Status = status
	header := headerBlock(resp, extra)

	if (req != nil && req.Method == "HEAD") || start >= size {
		_, err := s.conn.Write(header)
		return err
	}

	if _, err := resp.File.Seek(start, io.SeekStart); err != nil {
		return err
	}

	buf := make([]byte, maxDirectChunk)
	remaining := length
	first := true
	for remaining > 0 {
		want := int64(len(buf))
		if remaining < want {
			want = remaining
		}
		n, err := io.ReadFull(resp.File, buf[:want])
		if n == 0 {
			return err
		}
		payload := buf[:n]
		if first {
			payload = append(header, payload...)
			first = false
		}
		if _, err := s.conn.Write(payload); err != nil {
			return err
		}
		remaining -= int64(n)
		if err != nil {
			return err
		}
	}
	if first {
		_, err := s.conn.Write(header)
		return err
	}
	return nil
}

// sendStream serves a body of unknown length with chunked encoding.
// A failed write aborts the producer immediately so a transcoder does
// not keep burning CPU for a client that went away.
func (s *session) sendStream(method string, resp *Response) error {
	header := headerBlock(resp, map[string]string{
		"Transfer-Encoding": "chunked",
	})
	if method == "HEAD" {
		_, err := s.conn.Write(header)
		return err
	}

	buf := make([]byte, maxTranscodeChunk)
	first := true
	for {
		n, readErr := resp.Stream.Read(buf)
		if n > 0 {
			chunk := fmt.Appendf(nil, "%x\r\n", n)
			chunk = append(chunk, buf[:n]...)
			chunk = append(chunk, '\r', '\n')
			if first {
				chunk = append(header, chunk...)
				first = false
			}
			if _, err := s.conn.Write(chunk); err != nil {
				return err
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				return readErr
			}
			break
		}
	}

	terminal := []byte("0\r\n\r\n")
	if first {
		terminal = append(header, terminal...)
	}
	_, err := s.conn.Write(terminal)
	return err
}
