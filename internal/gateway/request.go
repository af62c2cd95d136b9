package gateway

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrBadRequest is returned when the bytes written by a node are not an
// HTTP/1.x request the gateway can forward.
var ErrBadRequest = errors.New("bad request")

// ParseRequest turns raw request bytes from a node into an outbound request.
//
// Nodes are lenient writers: the protocol version may be missing from the
// request line, the header block may not be terminated and the request-URI is
// usually relative. A relative URI is resolved against the Host header using
// https when secure is set and http otherwise. An absolute URI keeps its own
// scheme unless secure forces https.
func ParseRequest(raw []byte, secure bool) (*http.Request, error) {
	text := normalize(string(raw))
	if text == "" {
		return nil, fmt.Errorf("%w: empty request", ErrBadRequest)
	}

	req, err := http.ReadRequest(bufio.NewReader(strings.NewReader(text)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	u := req.URL
	if !u.IsAbs() {
		if req.Host == "" {
			return nil, fmt.Errorf("%w: relative request-URI %q without Host header", ErrBadRequest, req.RequestURI)
		}
		u.Host = req.Host
		u.Scheme = "http"
	}
	if secure {
		u.Scheme = "https"
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrBadRequest, u.Scheme)
	}

	out, err := http.NewRequest(req.Method, u.String(), req.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	out.Header = req.Header
	out.ContentLength = req.ContentLength
	return out, nil
}

func normalize(s string) string {
	s = strings.TrimLeft(s, "\r\n")
	s = strings.TrimRight(s, "\x00")
	if strings.TrimSpace(s) == "" {
		return ""
	}

	head, body, terminated := cutHeader(s)
	lines := strings.Split(strings.ReplaceAll(head, "\r\n", "\n"), "\n")
	if fields := strings.Fields(lines[0]); len(fields) == 2 {
		lines[0] = fields[0] + " " + fields[1] + " HTTP/1.1"
	}

	var b bytes.Buffer
	for _, l := range lines {
		if l == "" {
			continue
		}
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	if terminated {
		b.WriteString(body)
	}
	return b.String()
}

func cutHeader(s string) (head, body string, terminated bool) {
	crlf := strings.Index(s, "\r\n\r\n")
	lf := strings.Index(s, "\n\n")
	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return s[:crlf], s[crlf+4:], true
	case lf >= 0:
		return s[:lf], s[lf+2:], true
	default:
		return s, "", false
	}
}
