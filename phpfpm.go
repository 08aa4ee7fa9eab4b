package cgihttp

import "net/http"

// PHPFPMAdapter sends requests to a PHP-FPM pool over FastCGI. It is a
// FastCGIAdapter with the variables PHP insists on.
type PHPFPMAdapter struct {
	*FastCGIAdapter
	script string
}

// NewPHPFPMAdapter builds an adapter for the PHP-FPM pool at address,
// executing script. Network and address take the forms NewFastCGIAdapter
// accepts. An empty script leaves SCRIPT_FILENAME to WithEnv or the pool
// configuration.
func NewPHPFPMAdapter(network, address, script string, opts ...Option) (*PHPFPMAdapter, error) {
	base, err := NewFastCGIAdapter(network, address, opts...)
	if err != nil {
		return nil, err
	}

	return &PHPFPMAdapter{FastCGIAdapter: base, script: script}, nil
}

// RoundTrip implements http.RoundTripper.
func (a *PHPFPMAdapter) RoundTrip(req *http.Request) (*http.Response, error) {
	extra := map[string]string{
		//php refuses to run without it
		"REDIRECT_STATUS": "200",
	}

	if a.script != "" {
		extra["SCRIPT_FILENAME"] = a.script
	}

	return a.roundTrip(req, extra)
}
