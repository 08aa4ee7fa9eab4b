package cgihttp

import (
	"bytes"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Response is the structured form of a backend's raw output: an optional
// CGI header block followed by the body.
type Response struct {
	StatusCode int
	Reason     string
	Header     http.Header
	Body       []byte

	// Headerless reports that no blank-line delimiter was found and the
	// whole input was taken as body. Minimal CGI scripts emit only a body;
	// this is a recovered condition, not an error.
	Headerless bool
}

// ParseResponse turns raw backend output into a Response.
//
// The first blank line splits the header block from the body. Without one
// the entire input is body and the status defaults to 200. A "Status:"
// header of the form "<code> <reason>" overrides the default, and output
// that opens with an HTTP status line (non-parsed-header scripts) is read
// as such.
func ParseResponse(raw []byte) (*Response, error) {
	if bytes.HasPrefix(raw, []byte("HTTP/")) {
		return parseStatusLine(raw)
	}

	block, body, found := splitHeaderBlock(raw)
	if !found {
		return &Response{
			StatusCode: http.StatusOK,
			Reason:     http.StatusText(http.StatusOK),
			Header:     make(http.Header),
			Body:       raw,
			Headerless: true,
		}, nil
	}

	resp := &Response{Header: make(http.Header), Body: body}

	if err := parseHeaderBlock(resp, block); err != nil {
		return nil, err
	}

	if resp.StatusCode == 0 && resp.Header.Get("Location") != "" {
		resp.StatusCode = http.StatusFound
	}

	if resp.StatusCode == 0 {
		resp.StatusCode = http.StatusOK
	}

	if resp.Reason == "" {
		resp.Reason = http.StatusText(resp.StatusCode)
	}

	return resp, nil
}

// HTTP maps the parsed response into the shape an http.RoundTripper must
// return.
func (r *Response) HTTP(req *http.Request) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.StatusCode, r.Reason),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.Header,
		Body:          ioutil.NopCloser(bytes.NewReader(r.Body)),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}
}

// parseStatusLine handles non-parsed-header output, where the script wrote
// a full HTTP status line itself.
func parseStatusLine(raw []byte) (*Response, error) {
	line := raw
	rest := []byte(nil)

	if i := bytes.IndexByte(raw, '\n'); i >= 0 {
		line = bytes.TrimRight(raw[:i], "\r")
		rest = raw[i+1:]
	}

	parts := strings.SplitN(string(line), " ", 3)
	if len(parts) < 2 {
		return nil, errors.Errorf("cgihttp: malformed status line %q", line)
	}

	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, errors.Wrapf(err, "cgihttp: malformed status line %q", line)
	}

	resp := &Response{StatusCode: code, Header: make(http.Header)}
	if len(parts) == 3 {
		resp.Reason = parts[2]
	}

	block, body, found := splitHeaderBlock(rest)
	if !found {
		resp.Body = rest
	} else {
		resp.Body = body
		if err := parseHeaderBlock(resp, block); err != nil {
			return nil, err
		}
	}

	if resp.Reason == "" {
		resp.Reason = http.StatusText(resp.StatusCode)
	}

	return resp, nil
}

// splitHeaderBlock locates the first blank line, accepting either CRLF or
// bare LF terminators.
func splitHeaderBlock(raw []byte) (block, body []byte, found bool) {
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))
	lf := bytes.Index(raw, []byte("\n\n"))

	switch {
	case crlf >= 0 && (lf < 0 || crlf <= lf):
		return raw[:crlf], raw[crlf+4:], true
	case lf >= 0:
		return raw[:lf], raw[lf+2:], true
	}

	return nil, nil, false
}

func parseHeaderBlock(resp *Response, block []byte) error {
	var lastKey string

	for _, rawLine := range bytes.Split(block, []byte("\n")) {
		line := string(bytes.TrimRight(rawLine, "\r"))
		if line == "" {
			continue
		}

		//folded continuation line, appended to the previous value
		if (line[0] == ' ' || line[0] == '\t') && lastKey != "" {
			values := resp.Header[lastKey]
			values[len(values)-1] += " " + strings.TrimSpace(line)
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) < 2 {
			continue
		}

		key := textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(parts[0]))
		value := strings.TrimSpace(parts[1])

		if key == "Status" {
			if len(value) < 3 {
				return errors.Errorf("cgihttp: malformed Status header %q", value)
			}

			code, err := strconv.Atoi(value[:3])
			if err != nil {
				return errors.Wrapf(err, "cgihttp: malformed Status header %q", value)
			}

			resp.StatusCode = code
			if len(value) > 4 {
				resp.Reason = strings.TrimSpace(value[3:])
			}

			continue
		}

		resp.Header.Add(key, value)
		lastKey = key
	}

	return nil
}
