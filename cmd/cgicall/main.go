// cgicall sends one HTTP request to a CGI, PHP-CGI or FastCGI backend and
// prints the response as JSON.
//
//	cgicall -backend cgi -exec "sh app.sh" http://app.local/path?q=1
//	cgicall -backend php -script index.php -X POST -d '{"a":1}' http://app.local/api
//	cgicall -backend fastcgi -addr unix:///run/php-fpm.sock http://app.local/
package main

import (
	"flag"
	"io/ioutil"
	"net/http"
	"os"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"cgihttp"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type result struct {
	Status  int                 `json:"status"`
	Headers map[string][]string `json:"headers"`
	Body    string              `json:"body"`
}

func main() {
	var (
		backend = flag.String("backend", "cgi", "backend kind: cgi, php or fastcgi")
		execCmd = flag.String("exec", "", "command to run for the cgi backend, space separated")
		script  = flag.String("script", "", "php script path for the php backend")
		phpCmd  = flag.String("php-cmd", "php-cgi", "php-cgi binary for the php backend")
		addr    = flag.String("addr", "127.0.0.1:9000", "fastcgi responder address (host:port, socket path or unix:// url)")
		network = flag.String("network", "", "fastcgi network: unix or tcp, inferred when empty")
		method  = flag.String("X", "GET", "request method")
		body    = flag.String("d", "", "request body")
		timeout = flag.Duration("timeout", 30*time.Second, "per request timeout")
		verbose = flag.Bool("v", false, "debug logging")
	)

	flag.Parse()

	log := logrus.New()
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if flag.NArg() != 1 {
		log.Fatal("usage: cgicall [flags] <url>")
	}

	transport, err := buildTransport(*backend, *execCmd, *script, *phpCmd, *network, *addr, *timeout, log)
	if err != nil {
		log.Fatal(err)
	}

	client := &http.Client{Transport: transport}

	req, err := http.NewRequest(*method, flag.Arg(0), strings.NewReader(*body))
	if err != nil {
		log.Fatal(err)
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	defer resp.Body.Close()

	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		log.Fatal(err)
	}

	out, err := json.MarshalIndent(result{
		Status:  resp.StatusCode,
		Headers: resp.Header,
		Body:    string(raw),
	}, "", "  ")
	if err != nil {
		log.Fatal(err)
	}

	os.Stdout.Write(append(out, '\n'))
}

func buildTransport(backend, execCmd, script, phpCmd, network, addr string, timeout time.Duration, log logrus.FieldLogger) (http.RoundTripper, error) {
	opts := []cgihttp.Option{
		cgihttp.WithLogger(log),
		cgihttp.WithTimeout(timeout),
	}

	switch backend {
	case "cgi":
		return cgihttp.NewCGIAdapter(strings.Fields(execCmd), opts...)

	case "php":
		opts = append(opts, cgihttp.WithPHPCommand(strings.Fields(phpCmd)))

		return cgihttp.NewPHPAdapter(script, opts...)

	case "fastcgi":
		return cgihttp.NewFastCGIAdapter(network, addr, opts...)
	}

	return nil, errors.Errorf("unknown backend %q", backend)
}
