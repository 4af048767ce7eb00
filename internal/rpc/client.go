package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-msgio"
)

// TransportError reports a failure of the connection itself, as opposed to an
// exception returned by the remote handler. The client is unusable afterwards.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("rpc %s: %v", e.Op, e.Err) }

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err is a connection-level failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// DialOptions configures a client connection.
type DialOptions struct {
	ConnectTimeout time.Duration
	// IOTimeout bounds the write of a request plus the read of its response.
	IOTimeout     time.Duration
	MaxFrameBytes int
}

// Client issues calls over one connection, one call at a time.
type Client struct {
	addr      string
	conn      net.Conn
	reader    msgio.ReadCloser
	writer    msgio.WriteCloser
	ioTimeout time.Duration
	maxFrame  int

	mu     sync.Mutex
	broken error
}

// Dial connects to addr.
func Dial(ctx context.Context, addr string, opts DialOptions) (*Client, error) {
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = DefaultMaxFrameBytes
	}
	d := net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err}
	}
	return &Client{
		addr:      addr,
		conn:      conn,
		reader:    msgio.NewReaderSize(conn, opts.MaxFrameBytes),
		writer:    msgio.NewWriter(conn),
		ioTimeout: opts.IOTimeout,
		maxFrame:  opts.MaxFrameBytes,
	}, nil
}

// Addr returns the remote address the client was dialled with.
func (c *Client) Addr() string { return c.addr }

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call invokes method with req and decodes the response body into resp (which
// may be nil). Remote failures come back as *cluster.ClusterException; any
// other error is a *TransportError and leaves the client broken.
func (c *Client) Call(ctx context.Context, method string, req, resp any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return &TransportError{Op: "call", Err: fmt.Errorf("connection unusable: %w", c.broken)}
	}

	env := &envelope{ID: uuid.NewString(), Method: method}
	if req != nil {
		body, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", method, err)
		}
		env.Body = body
	}
	frame, err := marshalFrame(env)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", method, err)
	}

	deadline := time.Time{}
	if c.ioTimeout > 0 {
		deadline = time.Now().Add(c.ioTimeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return c.fail("set deadline", err)
	}

	// Cancellation is delivered by expiring the deadline, so ctx.Err() is
	// already set by the time the blocked read returns.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := c.writer.WriteMsg(frame); err != nil {
		return c.fail("write", c.ctxErr(ctx, err))
	}

	for {
		data, err := c.reader.ReadMsg()
		if err != nil {
			return c.fail("read", c.ctxErr(ctx, err))
		}
		reply, err := unmarshalFrame(data, c.maxFrame)
		c.reader.ReleaseMsg(data)
		if err != nil {
			return c.fail("decode", err)
		}
		if reply.ID != env.ID {
			continue
		}
		if reply.Error != nil {
			return reply.Error
		}
		if resp != nil && len(reply.Body) > 0 {
			if err := json.Unmarshal(reply.Body, resp); err != nil {
				return fmt.Errorf("decode %s response: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Client) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (c *Client) fail(op string, err error) error {
	c.broken = err
	_ = c.conn.Close()
	return &TransportError{Op: op, Err: err}
}
