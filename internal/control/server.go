// Package control is the local transport to project memories: newline
// delimited JSON commands over a unix socket, so tooling in any language
// can record errors and query patterns without speaking HTTP.
package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nebula-protocol/nebula/internal/types"
)

// Command types
const (
	CmdRecordError    = "record_error"
	CmdFindSimilar    = "find_similar"
	CmdRecordSolution = "record_solution"
	CmdGetPatterns    = "get_patterns"
	CmdRecordDecision = "record_decision"
	CmdTransitionGate = "transition_gate"
	CmdGetVersion     = "get_version"
	CmdBumpVersion    = "bump_version"
	CmdSetVersion     = "set_version"
	CmdStats          = "stats"
	CmdContext        = "context"
	CmdSyncNow        = "sync_now"
	CmdStatus         = "status"
)

// Command is one request line on the control socket
type Command struct {
	Type      string          `json:"type"`
	Project   string          `json:"project"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Response is one reply line. Code carries the error taxonomy code when
// Success is false.
type Response struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    string          `json:"code,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Handler executes a command and returns a JSON-encodable result
type Handler func(ctx context.Context, cmd Command) (interface{}, error)

// Server manages the control socket
type Server struct {
	socketPath string
	handler    Handler
	logger     *slog.Logger
	idle       time.Duration

	mu       sync.RWMutex
	listener net.Listener
	running  bool
	conns    sync.WaitGroup
	doneCh   chan struct{}
}

// NewServer creates a control server on socketPath. A stale socket file left
// by a crashed process is removed.
func NewServer(socketPath string, handler Handler, logger *slog.Logger) (*Server, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create socket directory: %w", err)
	}
	if err := os.RemoveAll(socketPath); err != nil {
		return nil, fmt.Errorf("failed to remove existing socket: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		handler:    handler,
		logger:     logger.With("component", "control"),
		idle:       30 * time.Second,
		doneCh:     make(chan struct{}),
	}, nil
}

// Start begins accepting connections. Stop, or cancelling ctx, ends it.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("control server already running")
	}
	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to create control socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = listener.Close()
		s.mu.Unlock()
		return fmt.Errorf("failed to restrict control socket: %w", err)
	}
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	s.logger.Info("control server listening", "socket", s.socketPath)
	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer close(s.doneCh)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection serves commands until the client hangs up or idles out
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReaderSize(conn, 64*1024)
	enc := json.NewEncoder(conn)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.idle)); err != nil {
			return
		}
		line, err := reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("connection closed", "error", err)
			}
			return
		}

		resp := s.dispatch(ctx, line)
		if werr := enc.Encode(resp); werr != nil {
			s.logger.Debug("failed to send response", "error", werr)
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, line []byte) Response {
	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return errorResponse(types.Invalid("command", "failed to decode command: %v", err))
	}
	if cmd.Timestamp.IsZero() {
		cmd.Timestamp = time.Now()
	}
	if s.handler == nil {
		return errorResponse(errors.New("no command handler registered"))
	}

	data, err := s.handler(ctx, cmd)
	if err != nil {
		s.logger.Debug("command failed", "type", cmd.Type, "project", cmd.Project, "error", err)
		return errorResponse(err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return errorResponse(fmt.Errorf("failed to encode result: %w", err))
	}
	return Response{Success: true, Data: raw}
}

func errorResponse(err error) Response {
	return Response{Success: false, Code: types.Code(err), Error: err.Error()}
}

// Stop closes the listener, waits for open connections, and removes the
// socket file
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Warn("error closing listener", "error", err)
	}

	select {
	case <-s.doneCh:
	case <-time.After(5 * time.Second):
		s.logger.Warn("timeout waiting for accept loop")
	}

	if err := os.RemoveAll(s.socketPath); err != nil {
		s.logger.Warn("failed to remove socket file", "error", err)
	}
	s.logger.Info("control server stopped")
	return nil
}

// Wait blocks until every open connection has finished
func (s *Server) Wait() {
	s.conns.Wait()
}

// IsRunning returns whether the server is currently running
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SocketPath returns the path to the control socket
func (s *Server) SocketPath() string {
	return s.socketPath
}
