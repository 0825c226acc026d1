// Package server implements the line-delimited JSON-RPC dispatcher served
// over stdin/stdout.
package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/liliang-cn/waktusolat-mcp/pkg/log"
	"github.com/liliang-cn/waktusolat-mcp/pkg/tools"
)

// State is the dispatcher lifecycle state.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Config holds the dispatcher tunables.
type Config struct {
	Name           string
	Version        string
	RateLimit      int
	RateWindow     time.Duration
	ReadTimeout    time.Duration
	EOFGrace       time.Duration
	HealthInterval time.Duration
	MaxIdleLines   int
}

func DefaultConfig() Config {
	return Config{
		Name:           "waktusolat-mcp",
		Version:        "dev",
		RateLimit:      60,
		RateWindow:     60 * time.Second,
		ReadTimeout:    300 * time.Second,
		EOFGrace:       10 * time.Second,
		HealthInterval: 30 * time.Second,
		MaxIdleLines:   5,
	}
}

// Options carries the collaborators of a Server. Zero values fall back to
// the process's stdin/stdout.
type Options struct {
	In  io.Reader
	Out io.Writer
	// IsTerminal reports whether input is still interactive after EOF.
	IsTerminal func() bool
	// Upstream is closed once all in-flight requests have finished.
	Upstream io.Closer
	Cache    CacheMaintainer
	Logger   *slog.Logger
}

// Server reads requests line by line, dispatches each one concurrently and
// writes one response line per request.
type Server struct {
	cfg        Config
	registry   *tools.Registry
	limiter    *RateLimiter
	health     *HealthMonitor
	in         *bufio.Reader
	out        io.Writer
	isTerminal func() bool
	upstream   io.Closer
	logger     *slog.Logger

	state        atomic.Int32
	lastActivity atomic.Int64
	inflight     sync.WaitGroup
	pending      atomic.Int64
	writeMu      sync.Mutex
	idleLines    int
}

func New(cfg Config, registry *tools.Registry, opts Options) *Server {
	def := DefaultConfig()
	if cfg.Name == "" {
		cfg.Name = def.Name
	}
	if cfg.Version == "" {
		cfg.Version = def.Version
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.EOFGrace < 0 {
		cfg.EOFGrace = def.EOFGrace
	}
	if cfg.MaxIdleLines <= 0 {
		cfg.MaxIdleLines = def.MaxIdleLines
	}

	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.IsTerminal == nil {
		opts.IsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }
	}
	if opts.Logger == nil {
		opts.Logger = log.WithModule("server")
	}

	s := &Server{
		cfg:        cfg,
		registry:   registry,
		limiter:    NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		in:         bufio.NewReader(opts.In),
		out:        opts.Out,
		isTerminal: opts.IsTerminal,
		upstream:   opts.Upstream,
		logger:     opts.Logger,
	}
	s.lastActivity.Store(time.Now().UnixNano())
	s.health = NewHealthMonitor(cfg.HealthInterval, s.LastActivity, opts.Cache, s.limiter, opts.Logger.With("component", "health"))
	return s
}

// State returns the current lifecycle state.
func (s *Server) State() State { return State(s.state.Load()) }

func (s *Server) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug("state changed", "state", st.String())
}

// LastActivity is the time the last non-empty line was received.
func (s *Server) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load())
}

type readResult struct {
	line []byte
	err  error
}

// Run serves until ctx is cancelled or input is exhausted, then drains
// in-flight requests and returns. It returns nil on a graceful stop.
func (s *Server) Run(ctx context.Context) error {
	s.setState(StateStarting)
	s.logger.Info("starting server", "name", s.cfg.Name, "version", s.cfg.Version)

	if err := s.health.Start(); err != nil {
		s.setState(StateStopped)
		return err
	}

	done := make(chan struct{})
	defer close(done)
	lines := make(chan readResult)
	go s.readLines(lines, done)

	s.setState(StateRunning)
	s.logger.Info("starting main request processing loop")

loop:
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutdown requested")
			break loop

		case <-time.After(s.cfg.ReadTimeout):
			s.logger.Debug("input timeout occurred, keeping server alive")

		case r := <-lines:
			if r.err == nil {
				s.handleLine(ctx, r.line)
				continue
			}
			if !errors.Is(r.err, io.EOF) {
				s.logger.Error("reading input failed", "error", r.err)
				break loop
			}

			s.logger.Info("received EOF, waiting for potential reconnection", "grace", s.cfg.EOFGrace)
			select {
			case <-ctx.Done():
				break loop
			case <-time.After(s.cfg.EOFGrace):
			}
			if !s.isTerminal() {
				s.logger.Info("no stdin available after EOF, initiating shutdown")
				break loop
			}
			go s.readLines(lines, done)
		}
	}

	s.drain()
	return nil
}

// readLines delivers input lines until a read error, which is delivered last.
func (s *Server) readLines(lines chan<- readResult, done <-chan struct{}) {
	for {
		line, err := s.in.ReadBytes('\n')
		if len(line) > 0 {
			select {
			case lines <- readResult{line: line}:
			case <-done:
				return
			}
		}
		if err != nil {
			select {
			case lines <- readResult{err: err}:
			case <-done:
			}
			return
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		s.logger.Debug("received empty request line")
		s.idleLines++
		if s.idleLines > s.cfg.MaxIdleLines {
			s.logger.Warn("too many consecutive empty requests, keeping server alive")
			s.idleLines = 0
		}
		return
	}
	s.idleLines = 0
	s.lastActivity.Store(time.Now().UnixNano())

	var req Request
	if line[0] != '{' {
		s.logger.Error("invalid JSON request", "error", "request is not a JSON object")
		s.write(errorResponse(nil, CodeParseError, "Invalid JSON request"))
		return
	}
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Error("invalid JSON request", "error", err)
		s.write(errorResponse(nil, CodeParseError, "Invalid JSON request"))
		return
	}

	clientID := string(req.Params.ClientID)
	if clientID == "" {
		clientID = defaultClientID
	}
	if !s.limiter.Allow(clientID) {
		s.logger.Warn("rate limit exceeded", "client_id", clientID)
		s.write(errorResponse(req.ID, CodeRateLimited, "Rate limit exceeded"))
		return
	}

	// Requests outlive a shutdown signal; the drain phase waits for them.
	reqCtx := context.WithoutCancel(ctx)
	s.inflight.Add(1)
	s.pending.Add(1)
	go func() {
		defer s.inflight.Done()
		defer s.pending.Add(-1)
		s.write(s.dispatch(reqCtx, req))
	}()
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	requestID := uuid.NewString()
	logger := s.logger.With("request_id", requestID, "method", req.Method)
	start := time.Now()
	defer func() {
		logger.Debug("request handled", "elapsed", time.Since(start))
	}()

	switch req.Method {
	case MethodInitialize:
		return resultResponse(req.ID, ServerInfo{
			Name:         s.cfg.Name,
			Version:      s.cfg.Version,
			Capabilities: map[string]any{},
		})

	case MethodListTools:
		return resultResponse(req.ID, map[string]any{"tools": s.registry.List()})

	case MethodCallTool:
		tool, ok := s.registry.Get(req.Params.Name)
		if !ok {
			logger.Warn("unknown tool", "tool", req.Params.Name)
			return errorResponse(req.ID, CodeMethodNotFound, "Unknown tool: "+req.Params.Name)
		}
		args := req.Params.Arguments
		if args == nil {
			args = map[string]any{}
		}
		result, err := callTool(ctx, tool, args)
		if err != nil {
			logger.Error("error handling tool", "tool", tool.Name, "error", err)
			return errorResponse(req.ID, CodeInternalError, "Tool execution failed: "+err.Error())
		}
		return resultResponse(req.ID, result)
	}

	logger.Warn("unknown method")
	return errorResponse(req.ID, CodeMethodNotFound, "Unknown method: "+req.Method)
}

func callTool(ctx context.Context, tool tools.Tool, args map[string]any) (result tools.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v", r)
		}
	}()
	return tool.Handler(ctx, args), nil
}

func (s *Server) write(resp Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("encode response", "error", err)
		data, _ = json.Marshal(errorResponse(resp.ID, CodeInternalError, "Server error: "+err.Error()))
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		s.logger.Error("write response", "error", err)
	}
}

func (s *Server) drain() {
	s.setState(StateDraining)
	s.logger.Info("initiating server shutdown sequence")

	if n := s.pending.Load(); n > 0 {
		s.logger.Info("waiting for active requests", "count", n)
	}
	s.inflight.Wait()

	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	s.health.Stop(stopCtx)
	cancel()

	if s.upstream != nil {
		if err := s.upstream.Close(); err != nil {
			s.logger.Error("error during cleanup", "error", err)
		}
	}

	s.setState(StateStopped)
	s.logger.Info("all resources released, server shutdown complete")
}
