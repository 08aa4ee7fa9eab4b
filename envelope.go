package cgihttp

import (
	"io/ioutil"
	"net/http"

	"github.com/pkg/errors"
)

// Envelope is an immutable snapshot of one outgoing request, reduced to the
// fields the CGI convention cares about. It is built once per exchange and
// only read afterwards.
type Envelope struct {
	Method     string
	Path       string
	Query      string
	RequestURI string
	Proto      string
	Host       string
	Header     http.Header
	Body       []byte

	RemoteAddr string
	RemotePort string
	ServerAddr string
	ServerPort string

	// User is the Basic-Auth-derived identity, empty when absent.
	User string
}

// NewEnvelope snapshots req. The request body, if any, is read to
// completion here; adapters never touch req.Body again.
func NewEnvelope(req *http.Request) (*Envelope, error) {
	if req.URL == nil {
		return nil, errors.New("cgihttp: request has no URL")
	}

	env := &Envelope{
		Method:     req.Method,
		Path:       req.URL.Path,
		Query:      req.URL.RawQuery,
		RequestURI: req.URL.RequestURI(),
		Proto:      "HTTP/1.1",
		Host:       req.Host,

		//there is no real peer socket; scripts expecting an address get
		//the loopback convention, scripts expecting a port get nothing
		RemoteAddr: "127.0.0.1",
	}

	if env.Method == "" {
		env.Method = "GET"
	}

	if env.Path == "" {
		env.Path = "/"
	}

	if env.Host == "" {
		env.Host = req.URL.Host
	}

	env.ServerAddr = req.URL.Hostname()
	env.ServerPort = req.URL.Port()

	if env.ServerPort == "" {
		switch req.URL.Scheme {
		case "https":
			env.ServerPort = "443"
		default:
			env.ServerPort = "80"
		}
	}

	if user, _, ok := req.BasicAuth(); ok {
		env.User = user
	}

	env.Header = make(http.Header, len(req.Header))
	for name, values := range req.Header {
		env.Header[name] = append([]string(nil), values...)
	}

	if req.Body != nil {
		body, err := ioutil.ReadAll(req.Body)
		req.Body.Close()

		if err != nil {
			return nil, errors.Wrap(err, "cgihttp: read request body")
		}

		env.Body = body
	}

	return env, nil
}
