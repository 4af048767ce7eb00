package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/libp2p/go-msgio"
	"golang.org/x/sync/semaphore"

	"github.com/mattjoyce/analyst/internal/cluster"
	"github.com/mattjoyce/analyst/internal/log"
)

// Handler serves one method. The returned value is JSON-encoded as the
// response body; a returned error is normalised to a ClusterException.
type Handler func(ctx context.Context, body json.RawMessage) (any, error)

// HandlerFor adapts a typed function into a Handler.
func HandlerFor[Req, Resp any](fn func(ctx context.Context, req Req) (Resp, error)) Handler {
	return func(ctx context.Context, body json.RawMessage) (any, error) {
		var req Req
		if len(body) > 0 {
			if err := json.Unmarshal(body, &req); err != nil {
				return nil, cluster.NewException(cluster.CodeBadRequest, "decode request: %v", err)
			}
		}
		return fn(ctx, req)
	}
}

// ServerConfig holds transport tunables.
type ServerConfig struct {
	// Workers is the number of pooled handlers that may run at once.
	Workers int
	// MaxFrameBytes caps a single inbound frame.
	MaxFrameBytes int
	// OnRequest, when set, is called after every request with the method and
	// the resulting exception code (-1 on success).
	OnRequest func(method string, code int)
}

type route struct {
	handler Handler
	admit   Handler
	pooled  bool
}

// RouteOption adjusts how a method is served.
type RouteOption func(*route)

// WithAdmission runs check before a pooled handler waits for a slot. A
// request check rejects is answered at once and never queues.
func WithAdmission(check Handler) RouteOption {
	return func(r *route) { r.admit = check }
}

// Server accepts framed connections and dispatches requests to handlers.
type Server struct {
	cfg    ServerConfig
	routes map[string]route
	slots  *semaphore.Weighted
	logger *slog.Logger

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

// NewServer creates a Server. Register handlers before calling Serve.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.MaxFrameBytes <= 0 {
		cfg.MaxFrameBytes = DefaultMaxFrameBytes
	}
	return &Server{
		cfg:    cfg,
		routes: make(map[string]route),
		slots:  semaphore.NewWeighted(int64(cfg.Workers)),
		logger: log.WithComponent("rpc"),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Handle registers a handler that runs outside the worker pool.
func (s *Server) Handle(method string, h Handler) {
	s.routes[method] = route{handler: h}
}

// HandlePooled registers a handler that must hold a worker slot while it runs.
func (s *Server) HandlePooled(method string, h Handler, opts ...RouteOption) {
	r := route{handler: h, pooled: true}
	for _, opt := range opts {
		opt(&r)
	}
	s.routes[method] = r
}

// ListenAndServe listens on addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. It closes ln and
// every open connection, then waits for in-flight requests to finish.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.Info("rpc server listening", "addr", ln.Addr().String(), "workers", s.cfg.Workers)

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
		s.closeConns()
	})
	defer stop()

	var acceptErr error
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() == nil {
				acceptErr = fmt.Errorf("accept: %w", err)
			}
			break
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}

	s.closeConns()
	s.wg.Wait()
	s.logger.Info("rpc server stopped")
	if acceptErr != nil {
		return acceptErr
	}
	return ctx.Err()
}

func (s *Server) track(conn net.Conn) {
	s.mu.Lock()
	s.conns[conn] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.untrack(conn)
	defer conn.Close()

	remote := conn.RemoteAddr().String()
	reader := msgio.NewReaderSize(conn, s.cfg.MaxFrameBytes)
	writer := msgio.NewWriter(conn)
	var writeMu sync.Mutex

	for {
		frame, err := reader.ReadMsg()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), ctx.Err() != nil:
			case errors.Is(err, msgio.ErrMsgTooLarge):
				s.logger.Warn("frame exceeds limit, closing connection", "remote", remote, "max_bytes", s.cfg.MaxFrameBytes)
			default:
				s.logger.Debug("connection closed", "remote", remote, "error", err)
			}
			return
		}

		env, err := unmarshalFrame(frame, s.cfg.MaxFrameBytes)
		reader.ReleaseMsg(frame)
		if err != nil {
			s.logger.Warn("malformed frame, closing connection", "remote", remote, "error", err)
			return
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			resp := s.dispatch(ctx, env)

			out, err := marshalFrame(resp)
			if err != nil {
				s.logger.Error("failed to encode response", "method", env.Method, "error", err)
				out, _ = marshalFrame(&envelope{
					ID:    env.ID,
					Error: cluster.NewException(cluster.CodeUnknown, "encode response: %v", err),
				})
			}

			writeMu.Lock()
			defer writeMu.Unlock()
			if err := writer.WriteMsg(out); err != nil {
				s.logger.Warn("failed to write response", "method", env.Method, "remote", remote, "error", err)
			}
		}()
	}
}

func (s *Server) dispatch(ctx context.Context, req *envelope) *envelope {
	resp := &envelope{ID: req.ID}
	code := -1
	defer func() {
		if s.cfg.OnRequest != nil {
			s.cfg.OnRequest(req.Method, code)
		}
	}()

	r, ok := s.routes[req.Method]
	if !ok {
		resp.Error = cluster.NewException(cluster.CodeUnknownMethod, "unknown method %q", req.Method)
		code = resp.Error.Code
		return resp
	}

	if r.admit != nil {
		if _, err := invoke(ctx, req.Method, r.admit, req.Body); err != nil {
			resp.Error = cluster.Wrap(cluster.CodeExecution, err)
			code = resp.Error.Code
			return resp
		}
	}

	if r.pooled {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			resp.Error = cluster.NewException(cluster.CodeExecution, "server shutting down: %v", err)
			code = resp.Error.Code
			return resp
		}
		defer s.slots.Release(1)
	}

	result, err := invoke(ctx, req.Method, r.handler, req.Body)
	if err != nil {
		resp.Error = cluster.Wrap(cluster.CodeExecution, err)
		code = resp.Error.Code
		return resp
	}

	if result != nil {
		body, err := json.Marshal(result)
		if err != nil {
			resp.Error = cluster.NewException(cluster.CodeExecution, "encode result: %v", err)
			code = resp.Error.Code
			return resp
		}
		resp.Body = body
	}
	return resp
}

func invoke(ctx context.Context, method string, h Handler, body json.RawMessage) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.WithComponent("rpc").Error("handler panicked", "method", method, "panic", fmt.Sprint(rec))
			err = cluster.NewException(cluster.CodeExecution, "internal error in %s: %v", method, rec)
		}
	}()
	return h(ctx, body)
}
