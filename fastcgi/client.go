package fastcgi

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Reply is the outcome of one completed exchange: the responder's stdout
// stream, its diagnostic stderr stream, and the application exit status
// carried by END_REQUEST.
type Reply struct {
	Stdout    []byte
	Stderr    []byte
	AppStatus uint32
}

//call is one in-flight request on the shared connection
type call struct {
	id     uint16
	stdout bytes.Buffer
	stderr bytes.Buffer

	done  chan struct{}
	reply *Reply
	err   error
}

// Client owns one persistent connection to a FastCGI responder. Do is safe
// to invoke concurrently: writes are serialized per record, and a single
// reader loop routes incoming records to the call owning their request id.
type Client struct {
	conn *conn
	ids  idPool
	log  logrus.FieldLogger

	local, remote net.Addr

	mu      sync.Mutex
	pending map[uint16]*call
	zombies map[uint16]struct{}
	broken  error
	closed  bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger for connection lifecycle events. Defaults to
// the logrus standard logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		c.log = log
	}
}

//maxInflight bounds concurrently outstanding requests per connection
var maxInflight uint32 = 256

// WithMaxInflight bounds the number of concurrently outstanding requests
// on the connection; further calls block until an id frees up.
func WithMaxInflight(n uint32) Option {
	return func(c *Client) {
		c.ids = newIDs(n)
	}
}

// CanonicalAddress normalizes a connect target. A "unix://" prefix selects
// and strips the unix network, a tcp address without a port gets the
// conventional FastCGI port 9000, and an empty network is inferred from
// the address shape.
func CanonicalAddress(network, address string) (string, string, error) {
	if strings.HasPrefix(strings.ToLower(address), "unix://") {
		network = "unix"
		address = address[len("unix://"):]
	}

	if address == "" {
		return "", "", errors.New("fastcgi: empty address")
	}

	if network == "" {
		if strings.ContainsAny(address, "/") {
			network = "unix"
		} else {
			network = "tcp"
		}
	}

	switch network {
	case "unix":
	case "tcp", "tcp4", "tcp6":
		if !strings.Contains(address, ":") {
			address += ":9000"
		}
	default:
		return "", "", errors.Errorf("fastcgi: unsupported network %q", network)
	}

	return network, address, nil
}

// Dial establishes the persistent connection used by all subsequent calls.
func Dial(network, address string, opts ...Option) (*Client, error) {
	return DialContext(context.Background(), network, address, opts...)
}

// DialContext is Dial with a caller-supplied context bounding the connect.
func DialContext(ctx context.Context, network, address string, opts ...Option) (*Client, error) {
	network, address, err := CanonicalAddress(network, address)
	if err != nil {
		return nil, err
	}

	var d net.Dialer
	nc, err := d.DialContext(ctx, network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "fastcgi: connect %s %s", network, address)
	}

	c := NewClient(nc, opts...)
	c.log.Debugf("fastcgi: connected to %s %s", network, address)

	return c, nil
}

// NewClient wraps an already established connection and starts the reader
// loop that demultiplexes incoming records. Dial is the usual way in.
func NewClient(rwc io.ReadWriteCloser, opts ...Option) *Client {
	c := &Client{
		conn:    newConn(rwc),
		ids:     newIDs(maxInflight),
		log:     logrus.StandardLogger(),
		pending: make(map[uint16]*call),
		zombies: make(map[uint16]struct{}),
	}

	if nc, ok := rwc.(net.Conn); ok {
		c.local = nc.LocalAddr()
		c.remote = nc.RemoteAddr()
	}

	for _, opt := range opts {
		opt(c)
	}

	go c.readLoop()

	return c
}

// LocalAddr returns the connection's local address.
func (c *Client) LocalAddr() net.Addr { return c.local }

// RemoteAddr returns the responder's address.
func (c *Client) RemoteAddr() net.Addr { return c.remote }

// Alive reports whether the connection is still usable. Once a protocol
// error or disconnect poisons it, callers must dial a new client.
func (c *Client) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.broken == nil && !c.closed
}

// Do performs one full request/response exchange: BEGIN_REQUEST, the
// params stream, the stdin stream, then blocks until the call's
// END_REQUEST arrives or ctx is done. An empty stdin still sends the
// terminating empty STDIN record.
func (c *Client) Do(ctx context.Context, params map[string]string, stdin []byte) (*Reply, error) {
	c.mu.Lock()
	err := c.broken
	if c.closed {
		err = ErrClosed
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	reqID, err := c.ids.Alloc(ctx)
	if err != nil {
		return nil, errors.WithMessage(err, "fastcgi: waiting for request id")
	}

	cl := &call{id: reqID, done: make(chan struct{})}

	c.mu.Lock()
	c.pending[reqID] = cl
	c.mu.Unlock()

	if err := c.writeRequest(reqID, params, stdin); err != nil {
		c.abandon(reqID)

		return nil, err
	}

	select {
	case <-cl.done:
		return cl.reply, cl.err

	case <-ctx.Done():
		//tell the responder to drop the request and stop waiting; the id
		//stays quarantined until the responder's END_REQUEST arrives
		_ = c.conn.writeAbortRequest(reqID)
		c.abandon(reqID)

		return nil, errors.WithMessage(ctx.Err(), "fastcgi: call abandoned")
	}
}

// Close tears down the connection. Calls still in flight fail with
// ErrClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil
	}
	c.closed = true
	c.mu.Unlock()

	return c.conn.Close()
}

//writeRequest emits the full record sequence for one call
func (c *Client) writeRequest(reqID uint16, params map[string]string, stdin []byte) (err error) {
	defer func() {
		if err != nil {
			_ = c.conn.writeAbortRequest(reqID)
		}
	}()

	if err = c.conn.writeBeginRequest(reqID, RoleResponder, flagKeepConn); err != nil {
		return errors.Wrap(err, "fastcgi: write begin request")
	}

	if err = c.conn.writePairs(typeParams, reqID, params); err != nil {
		return errors.Wrap(err, "fastcgi: write params")
	}

	w := newWriter(c.conn, typeStdin, reqID)

	if len(stdin) > 0 {
		if _, err = w.Write(stdin); err != nil {
			return errors.Wrap(err, "fastcgi: write stdin")
		}
	}

	if err = w.Close(); err != nil {
		return errors.Wrap(err, "fastcgi: close stdin")
	}

	return nil
}

//readLoop is the demultiplexer: it decodes records in arrival order and
//routes each to the pending call identified by its request id
func (c *Client) readLoop() {
	var rec record

	for {
		if err := rec.read(c.conn.rwc); err != nil {
			c.fail(readFailure(err, c.isClosed()))

			return
		}

		switch rec.h.Type {
		case typeStdout:
			c.append(rec.h.ID, rec.content(), false)

		case typeStderr:
			c.append(rec.h.ID, rec.content(), true)

		case typeEndRequest:
			content := rec.content()
			if len(content) < 8 {
				c.fail(errors.WithMessage(ErrProtocol, "short END_REQUEST body"))

				return
			}

			c.complete(rec.h.ID, binary.BigEndian.Uint32(content[:4]), content[4])

		default:
			c.fail(errors.WithMessagef(ErrProtocol, "unexpected record type %d", rec.h.Type))

			return
		}
	}
}

func readFailure(err error, closed bool) error {
	if errors.Is(err, ErrProtocol) {
		return err
	}

	if closed || err == io.EOF {
		return ErrClosed
	}

	return errors.WithMessagef(ErrProtocol, "read record: %v", err)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

//append routes a stream chunk to its owning call; chunks for ids nobody
//owns (an abandoned call) are dropped
func (c *Client) append(reqID uint16, chunk []byte, stderr bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.pending[reqID]
	if !ok {
		return
	}

	if stderr {
		cl.stderr.Write(chunk)
	} else {
		cl.stdout.Write(chunk)
	}
}

//complete finalizes a request id and releases it for reuse
func (c *Client) complete(reqID uint16, appStatus uint32, protocolStatus uint8) {
	c.mu.Lock()
	if _, zombie := c.zombies[reqID]; zombie {
		//the responder's answer to an abort; the id is safe to reuse now
		delete(c.zombies, reqID)
		c.mu.Unlock()

		c.ids.Release(reqID)

		return
	}

	cl, ok := c.pending[reqID]
	delete(c.pending, reqID)
	c.mu.Unlock()

	if !ok {
		return
	}

	if protocolStatus != statusRequestComplete {
		cl.err = errors.WithMessagef(ErrProtocol, "request rejected: %s",
			protocolStatusName(protocolStatus))
	} else {
		cl.reply = &Reply{
			Stdout:    cl.stdout.Bytes(),
			Stderr:    cl.stderr.Bytes(),
			AppStatus: appStatus,
		}
	}

	close(cl.done)
	c.ids.Release(reqID)
}

//abandon stops waiting for a call. The id is quarantined rather than
//released: the responder answers the abort with END_REQUEST for this id,
//and releasing early would let a new call reuse the id and receive that
//stale END_REQUEST as its own
func (c *Client) abandon(reqID uint16) {
	c.mu.Lock()
	if _, ok := c.pending[reqID]; ok {
		delete(c.pending, reqID)
		c.zombies[reqID] = struct{}{}
	}
	c.mu.Unlock()
}

//fail poisons the connection: every pending call fails with the same
//error and subsequent calls must dial a new client
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.broken == nil {
		c.broken = err
	}

	failed := make([]*call, 0, len(c.pending))
	for id, cl := range c.pending {
		delete(c.pending, id)
		failed = append(failed, cl)
	}

	zombies := make([]uint16, 0, len(c.zombies))
	for id := range c.zombies {
		delete(c.zombies, id)
		zombies = append(zombies, id)
	}
	c.mu.Unlock()

	if !errors.Is(err, ErrClosed) {
		c.log.Debugf("fastcgi: connection failed: %v", err)
	}

	for _, cl := range failed {
		cl.err = err
		close(cl.done)
		c.ids.Release(cl.id)
	}

	//quarantined ids will never see their END_REQUEST on a dead connection
	for _, id := range zombies {
		c.ids.Release(id)
	}

	_ = c.conn.Close()
}
