package cgihttp

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type config struct {
	log         logrus.FieldLogger
	dir         string
	env         map[string]string
	timeout     time.Duration
	software    string
	runner      Runner
	phpCommand  []string
	maxInflight uint32
}

// Option configures an adapter.
type Option func(*config)

// WithLogger sets the logger. Defaults to the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *config) { c.log = log }
}

// WithDir sets the working directory for spawned processes.
func WithDir(dir string) Option {
	return func(c *config) { c.dir = dir }
}

// WithEnv overrides or extends the CGI variables sent to the backend.
// Applied last, after everything the builder derives from the request.
func WithEnv(env map[string]string) Option {
	return func(c *config) { c.env = env }
}

// WithTimeout bounds each call when the request carries no context
// deadline of its own.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithServerSoftware overrides the SERVER_SOFTWARE variable.
func WithServerSoftware(name string) Option {
	return func(c *config) { c.software = name }
}

// WithRunner substitutes the process backend, mainly for tests.
func WithRunner(r Runner) Option {
	return func(c *config) { c.runner = r }
}

// WithPHPCommand overrides the php-cgi argument vector used by the PHP
// adapter.
func WithPHPCommand(argv []string) Option {
	return func(c *config) { c.phpCommand = argv }
}

// WithMaxInflight bounds concurrently outstanding FastCGI requests on the
// shared connection.
func WithMaxInflight(n uint32) Option {
	return func(c *config) { c.maxInflight = n }
}

func newConfig(opts []Option) config {
	cfg := config{
		log:      logrus.StandardLogger(),
		software: DefaultServerSoftware,
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	return cfg
}

// CGIAdapter invokes a CGI script as a child process per request. It
// implements http.RoundTripper.
type CGIAdapter struct {
	argv []string
	cfg  config
}

// NewCGIAdapter builds an adapter executing argv for every request.
func NewCGIAdapter(argv []string, opts ...Option) (*CGIAdapter, error) {
	if len(argv) == 0 || argv[0] == "" {
		return nil, errors.New("cgihttp: empty argv")
	}

	cfg := newConfig(opts)
	if cfg.runner == nil {
		cfg.runner = &ProcessRunner{Dir: cfg.dir}
	}

	return &CGIAdapter{
		argv: append([]string(nil), argv...),
		cfg:  cfg,
	}, nil
}

// RoundTrip implements http.RoundTripper.
func (a *CGIAdapter) RoundTrip(req *http.Request) (*http.Response, error) {
	return a.roundTrip(req, nil)
}

func (a *CGIAdapter) roundTrip(req *http.Request, extra map[string]string) (*http.Response, error) {
	env, err := NewEnvelope(req)
	if err != nil {
		return nil, err
	}

	vars := BuildEnviron(env)
	vars["SERVER_SOFTWARE"] = a.cfg.software

	for k, v := range extra {
		vars[k] = v
	}

	for k, v := range a.cfg.env {
		vars[k] = v
	}

	ctx, cancel := callContext(req.Context(), a.cfg.timeout)
	defer cancel()

	stdout, stderr, err := a.cfg.runner.Run(ctx, a.argv, vars, env.Body)
	if err != nil {
		var exit *ExitError
		if errors.As(err, &exit) {
			//a nonzero exit does not guarantee a dead backend: scripts
			//exit nonzero after writing perfectly usable error pages
			if resp, perr := ParseResponse(stdout); perr == nil && !resp.Headerless {
				a.cfg.log.Warnf("cgihttp: %s exited with status %d but produced a response",
					a.argv[0], exit.Code)

				return resp.HTTP(req), nil
			}
		}

		return nil, err
	}

	if len(stderr) > 0 {
		a.cfg.log.Debugf("cgihttp: %s stderr: %s", a.argv[0], stderr)
	}

	resp, err := ParseResponse(stdout)
	if err != nil {
		return nil, err
	}

	a.cfg.log.Debugf("cgihttp: %s %s -> %d (%d bytes)",
		env.Method, env.RequestURI, resp.StatusCode, len(resp.Body))

	return resp.HTTP(req), nil
}

//callContext applies the configured per-call bound unless the request
//already carries a deadline
func callContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}

	return context.WithCancel(ctx)
}
