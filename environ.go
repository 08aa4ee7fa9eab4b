package cgihttp

import (
	"strconv"
	"strings"
)

// DefaultServerSoftware is reported as SERVER_SOFTWARE unless overridden
// with WithServerSoftware.
const DefaultServerSoftware = "cgihttp"

// BuildEnviron maps an Envelope onto the CGI variable set. Pure and
// deterministic: every required variable is always present, unset source
// fields become empty strings rather than missing keys.
//
// Each request header X becomes HTTP_X with hyphens turned to underscores
// and the name upper-cased. Content-Type and Content-Length are mapped to
// CONTENT_TYPE and CONTENT_LENGTH without the prefix, per CGI convention;
// CONTENT_LENGTH is the decimal body length, "0" for an empty body.
func BuildEnviron(env *Envelope) map[string]string {
	vars := map[string]string{
		"GATEWAY_INTERFACE": "CGI/1.1",
		"REQUEST_METHOD":    env.Method,
		"SCRIPT_NAME":       "/",
		"PATH_INFO":         env.Path,
		"QUERY_STRING":      env.Query,
		"REQUEST_URI":       env.RequestURI,
		"SERVER_PROTOCOL":   env.Proto,
		"SERVER_SOFTWARE":   DefaultServerSoftware,
		"SERVER_NAME":       env.Host,
		"SERVER_ADDR":       env.ServerAddr,
		"SERVER_PORT":       env.ServerPort,
		"REMOTE_ADDR":       env.RemoteAddr,
		"REMOTE_PORT":       env.RemotePort,
		"REMOTE_USER":       env.User,
		"CONTENT_TYPE":      env.Header.Get("Content-Type"),
		"CONTENT_LENGTH":    strconv.Itoa(len(env.Body)),
	}

	for name, values := range env.Header {
		upper := strings.Replace(strings.ToUpper(name), "-", "_", -1)

		//mapped without the HTTP_ prefix above
		if upper == "CONTENT_TYPE" || upper == "CONTENT_LENGTH" {
			continue
		}

		vars["HTTP_"+upper] = strings.Join(values, ", ")
	}

	if env.Host != "" {
		vars["HTTP_HOST"] = env.Host
	}

	return vars
}
