package cgihttp

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/fcgi"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

//startResponder runs a real FastCGI responder on l, stdlib net/http/fcgi
//playing the application side
func startResponder(t *testing.T, l net.Listener, handler http.Handler) {
	t.Helper()

	go fcgi.Serve(l, handler)
	t.Cleanup(func() { l.Close() })
}

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Backend", "fcgi-test")
		w.Header().Set("X-Remote", r.RemoteAddr)
		io.Copy(w, r.Body)
	})
}

func TestFastCGIAdapterEcho(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot listen: %v", err)
	}
	startResponder(t, l, echoHandler())

	adapter, err := NewFastCGIAdapter("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("cannot build adapter: %v", err)
	}
	defer adapter.Close()

	client := &http.Client{Transport: adapter}

	resp, err := client.Post("http://example.com/echo", "text/plain", strings.NewReader("ECHO!"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if resp.StatusCode != 200 {
		t.Fatalf("want status 200 got %d", resp.StatusCode)
	}
	if got := readBody(t, resp); got != "ECHO!" {
		t.Fatalf("want body %q got %q", "ECHO!", got)
	}
	if got := resp.Header.Get("X-Backend"); got != "fcgi-test" {
		t.Fatalf("backend header missing, got %q", got)
	}
	//the adapter reports the real socket peer to the backend
	if got := resp.Header.Get("X-Remote"); !strings.HasPrefix(got, "127.0.0.1:") {
		t.Fatalf("want loopback remote addr, got %q", got)
	}
}

func TestFastCGIAdapterUnixSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.sock")

	l, err := net.Listen("unix", path)
	if err != nil {
		t.Fatalf("cannot listen: %v", err)
	}
	startResponder(t, l, echoHandler())

	adapter, err := NewFastCGIAdapter("", "unix://"+path)
	if err != nil {
		t.Fatalf("cannot build adapter: %v", err)
	}
	defer adapter.Close()

	client := &http.Client{Transport: adapter}

	resp, err := client.Post("http://example.com/", "text/plain", strings.NewReader("over unix"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := readBody(t, resp); got != "over unix" {
		t.Fatalf("want body %q got %q", "over unix", got)
	}
}

func TestFastCGIAdapterConcurrentRequests(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot listen: %v", err)
	}
	startResponder(t, l, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "tag=%s", r.URL.Query().Get("tag"))
	}))

	adapter, err := NewFastCGIAdapter("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("cannot build adapter: %v", err)
	}
	defer adapter.Close()

	client := &http.Client{Transport: adapter}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			resp, err := client.Get(fmt.Sprintf("http://example.com/?tag=%d", i))
			if err != nil {
				t.Errorf("request %d: %v", i, err)
				return
			}

			if got, want := readBody(t, resp), fmt.Sprintf("tag=%d", i); got != want {
				t.Errorf("request %d: want %q got %q", i, want, got)
			}
		}(i)
	}
	wg.Wait()
}

func TestFastCGIAdapterRedialsAfterClose(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot listen: %v", err)
	}
	startResponder(t, l, echoHandler())

	adapter, err := NewFastCGIAdapter("tcp", l.Addr().String())
	if err != nil {
		t.Fatalf("cannot build adapter: %v", err)
	}

	client := &http.Client{Transport: adapter}

	for i := 0; i < 2; i++ {
		resp, err := client.Post("http://example.com/", "text/plain", strings.NewReader("ping"))
		if err != nil {
			t.Fatalf("round %d: unexpected error: %v", i, err)
		}
		if got := readBody(t, resp); got != "ping" {
			t.Fatalf("round %d: want ping got %q", i, got)
		}

		//the next round must lazily re-establish the connection
		adapter.Close()
	}
}

func TestFastCGIAdapterTimeout(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot listen: %v", err)
	}
	startResponder(t, l, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))

	adapter, err := NewFastCGIAdapter("tcp", l.Addr().String(), WithTimeout(100*time.Millisecond))
	if err != nil {
		t.Fatalf("cannot build adapter: %v", err)
	}
	defer adapter.Close()

	client := &http.Client{Transport: adapter}

	_, err = client.Get("http://example.com/")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("want ErrTimeout got %v", err)
	}
}

func TestFastCGIAdapterUnavailable(t *testing.T) {
	//a listener that is closed immediately leaves a port nobody serves
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot listen: %v", err)
	}
	addr := l.Addr().String()
	l.Close()

	adapter, err := NewFastCGIAdapter("tcp", addr)
	if err != nil {
		t.Fatalf("cannot build adapter: %v", err)
	}

	client := &http.Client{Transport: adapter}

	_, err = client.Get("http://example.com/")
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("want ErrBackendUnavailable got %v", err)
	}
}

func TestPHPFPMAdapterEnvironment(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("cannot listen: %v", err)
	}
	startResponder(t, l, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		env := fcgi.ProcessEnv(r)
		fmt.Fprintf(w, "%s|%s", env["REDIRECT_STATUS"], env["SCRIPT_FILENAME"])
	}))

	adapter, err := NewPHPFPMAdapter("tcp", l.Addr().String(), "/srv/app/index.php")
	if err != nil {
		t.Fatalf("cannot build adapter: %v", err)
	}
	defer adapter.Close()

	client := &http.Client{Transport: adapter}

	resp, err := client.Get("http://example.com/index.php")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got, want := readBody(t, resp), "200|/srv/app/index.php"; got != want {
		t.Fatalf("want %q got %q", want, got)
	}
}

func TestNewFastCGIAdapterValidation(t *testing.T) {
	if _, err := NewFastCGIAdapter("udp", "127.0.0.1:9000"); err == nil {
		t.Fatal("expected error for unsupported network")
	}
	if _, err := NewFastCGIAdapter("tcp", ""); err == nil {
		t.Fatal("expected error for empty address")
	}
}
