// Package master implements the worker's connection back to the master for
// the duration of one task.
//
// The connection policy is fixed: a 2 second connect timeout, a 10 second
// read/write timeout, and unlimited retries on transport failure. A call that
// cannot reach the master blocks until it succeeds or its context is
// cancelled; killing the task is what cancels it.
package master

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/mattjoyce/analyst/internal/cluster"
	"github.com/mattjoyce/analyst/internal/log"
	"github.com/mattjoyce/analyst/internal/metrics"
	"github.com/mattjoyce/analyst/internal/protocol"
	"github.com/mattjoyce/analyst/internal/rpc"
)

const (
	ConnectTimeout = 2 * time.Second
	IOTimeout      = 10 * time.Second

	// DefaultPort is used when the master host carries no port.
	DefaultPort = "5501"
)

type caller interface {
	Call(ctx context.Context, method string, req, resp any) error
	Close() error
}

// Client talks to one master on behalf of one task. It is safe for concurrent
// use, but calls are serialised so reports stay in order.
type Client struct {
	addr   string
	logger *slog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
	dial       func(ctx context.Context, addr string) (caller, error)

	mu   sync.Mutex
	conn caller
}

// New returns a client for host. No connection is made until the first call.
func New(host string, taskID int64) *Client {
	addr := normalizeAddr(host)
	return &Client{
		addr:       addr,
		logger:     log.WithTask(taskID).With("component", "master", "master", addr),
		minBackoff: 100 * time.Millisecond,
		maxBackoff: 5 * time.Second,
		dial: func(ctx context.Context, addr string) (caller, error) {
			return rpc.Dial(ctx, addr, rpc.DialOptions{
				ConnectTimeout: ConnectTimeout,
				IOTimeout:      IOTimeout,
			})
		},
	}
}

// Addr returns the master address calls are sent to.
func (c *Client) Addr() string { return c.addr }

// ReportTaskErrors sends errors raised while running taskID.
func (c *Client) ReportTaskErrors(ctx context.Context, taskID int64, errs []protocol.TaskError) error {
	return c.call(ctx, cluster.MethodReportTaskErrors, cluster.TaskErrors{TaskID: taskID, Errors: errs})
}

// Expand asks the master to schedule expand as a new task derived from taskID.
func (c *Client) Expand(ctx context.Context, taskID int64, expand cluster.Expand) error {
	return c.call(ctx, cluster.MethodExpand, cluster.TaskExpand{TaskID: taskID, Expand: expand})
}

// ReportTaskStats sends the current counters of taskID.
func (c *Client) ReportTaskStats(ctx context.Context, taskID int64, stats protocol.Stats) error {
	return c.call(ctx, cluster.MethodReportTaskStats, cluster.TaskStats{TaskID: taskID, Stats: stats})
}

// Close drops the connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) call(ctx context.Context, method string, req any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := &backoff.Backoff{
		Min:    c.minBackoff,
		Max:    c.maxBackoff,
		Factor: 2,
		Jitter: true,
	}

	for {
		err := c.attempt(ctx, method, req)
		if err == nil {
			if b.Attempt() > 0 {
				c.logger.Info("master call succeeded after retries", "method", method, "attempts", b.Attempt()+1)
			}
			return nil
		}
		if !rpc.IsTransport(err) {
			return fmt.Errorf("%s: %w", method, err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%s to %s abandoned: %w", method, c.addr, ctxErr)
		}

		wait := b.Duration()
		metrics.MasterCallRetries.WithLabelValues(method).Inc()
		c.logger.Warn("master unreachable, retrying", "method", method, "attempt", b.Attempt(), "backoff", wait, "error", err)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s to %s abandoned: %w", method, c.addr, ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Client) attempt(ctx context.Context, method string, req any) error {
	if c.conn == nil {
		conn, err := c.dial(ctx, c.addr)
		if err != nil {
			return err
		}
		c.conn = conn
	}

	err := c.conn.Call(ctx, method, req, nil)
	if rpc.IsTransport(err) {
		_ = c.conn.Close()
		c.conn = nil
	}
	return err
}

func normalizeAddr(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, DefaultPort)
}
