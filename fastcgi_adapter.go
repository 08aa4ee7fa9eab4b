package cgihttp

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/pkg/errors"

	"cgihttp/fastcgi"
)

// FastCGIAdapter sends requests to an already running FastCGI responder
// over one persistent, shared connection. It implements http.RoundTripper
// and is safe for concurrent use; concurrent requests are multiplexed on
// the connection by request id.
type FastCGIAdapter struct {
	network string
	address string
	cfg     config

	mu     sync.Mutex
	client *fastcgi.Client
}

// NewFastCGIAdapter builds an adapter for the responder at address.
// Network is "unix" or "tcp"; a "unix://" prefix on the address selects
// unix itself, and a tcp address without a port defaults to 9000. The
// connection is established lazily on the first request and re-established
// after a connection-level failure.
func NewFastCGIAdapter(network, address string, opts ...Option) (*FastCGIAdapter, error) {
	network, address, err := fastcgi.CanonicalAddress(network, address)
	if err != nil {
		return nil, err
	}

	return &FastCGIAdapter{
		network: network,
		address: address,
		cfg:     newConfig(opts),
	}, nil
}

// RoundTrip implements http.RoundTripper.
func (a *FastCGIAdapter) RoundTrip(req *http.Request) (*http.Response, error) {
	return a.roundTrip(req, nil)
}

func (a *FastCGIAdapter) roundTrip(req *http.Request, extra map[string]string) (*http.Response, error) {
	env, err := NewEnvelope(req)
	if err != nil {
		return nil, err
	}

	ctx, cancel := callContext(req.Context(), a.cfg.timeout)
	defer cancel()

	client, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}

	vars := BuildEnviron(env)
	vars["SERVER_SOFTWARE"] = a.cfg.software
	a.socketAddresses(client, vars)

	for k, v := range extra {
		vars[k] = v
	}

	for k, v := range a.cfg.env {
		vars[k] = v
	}

	reply, err := client.Do(ctx, vars, env.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.WithMessagef(ErrTimeout, "fastcgi %s", a.address)
		}

		return nil, err
	}

	if reply.AppStatus != 0 {
		a.cfg.log.Warnf("cgihttp: fastcgi application status %d", reply.AppStatus)
	}

	if len(reply.Stderr) > 0 {
		a.cfg.log.Debugf("cgihttp: fastcgi stderr: %s", reply.Stderr)
	}

	resp, err := ParseResponse(reply.Stdout)
	if err != nil {
		return nil, err
	}

	a.cfg.log.Debugf("cgihttp: %s %s -> %d (%d bytes)",
		env.Method, env.RequestURI, resp.StatusCode, len(resp.Body))

	return resp.HTTP(req), nil
}

// Close tears down the shared connection, failing any in-flight calls.
func (a *FastCGIAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client == nil {
		return nil
	}

	err := a.client.Close()
	a.client = nil

	return err
}

//conn returns the live shared client, dialing or redialing as needed
func (a *FastCGIAdapter) conn(ctx context.Context) (*fastcgi.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.client != nil && a.client.Alive() {
		return a.client, nil
	}

	if a.client != nil {
		_ = a.client.Close()
		a.client = nil
	}

	opts := []fastcgi.Option{fastcgi.WithLogger(a.cfg.log)}
	if a.cfg.maxInflight > 0 {
		opts = append(opts, fastcgi.WithMaxInflight(a.cfg.maxInflight))
	}

	client, err := fastcgi.DialContext(ctx, a.network, a.address, opts...)
	if err != nil {
		return nil, errors.WithMessagef(ErrBackendUnavailable, "%v", err)
	}

	a.client = client

	return client, nil
}

//socketAddresses fills the address variables from the real socket when
//the transport is TCP
func (a *FastCGIAdapter) socketAddresses(client *fastcgi.Client, vars map[string]string) {
	if a.network != "tcp" && a.network != "tcp4" && a.network != "tcp6" {
		return
	}

	if remote := client.RemoteAddr(); remote != nil {
		if host, port, err := net.SplitHostPort(remote.String()); err == nil {
			vars["SERVER_ADDR"] = host
			vars["SERVER_PORT"] = port
		}
	}

	if local := client.LocalAddr(); local != nil {
		if host, port, err := net.SplitHostPort(local.String()); err == nil {
			vars["REMOTE_ADDR"] = host
			vars["REMOTE_PORT"] = port
		}
	}
}
