package cgihttp

import "net/http"

// PHPAdapter runs a PHP script through php-cgi. It is a CGIAdapter with
// the variables PHP insists on.
type PHPAdapter struct {
	*CGIAdapter
	script string
}

// NewPHPAdapter builds an adapter executing script with php-cgi (override
// the binary with WithPHPCommand). An empty script leaves SCRIPT_FILENAME
// to WithEnv or the php-cgi configuration.
func NewPHPAdapter(script string, opts ...Option) (*PHPAdapter, error) {
	cfg := newConfig(opts)

	command := cfg.phpCommand
	if len(command) == 0 {
		command = []string{"php-cgi"}
	}

	base, err := NewCGIAdapter(command, opts...)
	if err != nil {
		return nil, err
	}

	return &PHPAdapter{CGIAdapter: base, script: script}, nil
}

// RoundTrip implements http.RoundTripper.
func (a *PHPAdapter) RoundTrip(req *http.Request) (*http.Response, error) {
	extra := map[string]string{
		//php-cgi refuses to run without it
		"REDIRECT_STATUS": "200",
	}

	if a.script != "" {
		extra["SCRIPT_FILENAME"] = a.script
	}

	return a.roundTrip(req, extra)
}
