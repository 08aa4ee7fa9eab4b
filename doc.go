// Package cgihttp lets a standard *http.Client talk to CGI, PHP-CGI and
// FastCGI backends without a web server in between. Each backend kind is
// exposed as an http.RoundTripper, so mounting one is a single assignment:
//
//	adapter, err := cgihttp.NewCGIAdapter([]string{"sh", "app.sh"})
//	...
//	client := &http.Client{Transport: adapter}
//	resp, err := client.Get("http://app.local/")
//
// The CGI and PHP-CGI adapters spawn one process per request and speak the
// CGI environment/stdin/stdout convention. The FastCGI adapter keeps one
// persistent connection to an already running responder and multiplexes
// concurrent requests over it (see the fastcgi subpackage).
package cgihttp
