// Package ipc implements the Local IPC Server (spec §4.6): a user-private
// Unix domain socket speaking newline-delimited JSON request/response.
package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/devbackup/devbackup/logging"
	"github.com/devbackup/devbackup/utils"
)

// connTimeout bounds how long the server waits on a read or write to one
// connection before giving up on it (spec §4.6).
const connTimeout = 5 * time.Second

// Request is one line of client input.
type Request struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id,omitempty"`
	Path      string `json:"path,omitempty"`
}

// Response is one line of server output.
type Response struct {
	Type      string `json:"type"`
	MessageID string `json:"message_id"`
	Payload   any    `json:"payload,omitempty"`
}

// Error codes carried in an error_response's payload (spec §4.6/§6).
const (
	ErrUnknownMessageType = "UNKNOWN_MESSAGE_TYPE"
	ErrInvalidMessage     = "INVALID_MESSAGE"
)

// ErrorPayload is the payload shape of an error_response (spec §4.6/§6):
// {type: "error_response", payload: {error: code, message}}.
type ErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// IPCError indicates a server-side failure to start or accept (spec §7).
type IPCError struct {
	Code   string
	Reason string
}

func (e *IPCError) Error() string { return fmt.Sprintf("ipc %s: %s", e.Code, e.Reason) }

// Backend supplies the data behind each request type. Returned values are
// marshaled directly as the response payload.
type Backend interface {
	Status(ctx context.Context) (any, error)
	Trigger(ctx context.Context) (any, error)
	Browse(ctx context.Context, path string) (any, error)
	Health(ctx context.Context) (any, error)
}

// Server listens on a Unix domain socket and dispatches newline-delimited
// JSON requests to a Backend.
type Server struct {
	socketPath string
	backend    Backend
	listener   net.Listener
}

// New creates a Server bound to socketPath, not yet listening.
func New(socketPath string, backend Backend) *Server {
	return &Server{socketPath: socketPath, backend: backend}
}

// Listen creates the socket, recovering from a stale one left behind by a
// crashed process: if a file already exists at socketPath, probe it with a
// connect — a refused connection means it's stale and safe to remove; a
// successful one means another instance is already serving (spec §4.6).
func (s *Server) Listen() error {
	dir := filepath.Dir(s.socketPath)
	if err := utils.EnsureDirs(dir); err != nil {
		return &IPCError{Code: "socket_dir", Reason: err.Error()}
	}
	if err := os.Chmod(dir, 0o700); err != nil { //nolint:mnd
		return &IPCError{Code: "socket_dir", Reason: err.Error()}
	}

	if _, err := os.Stat(s.socketPath); err == nil {
		if conn, dialErr := net.DialTimeout("unix", s.socketPath, time.Second); dialErr == nil {
			_ = conn.Close()
			return &IPCError{Code: "already_running", Reason: "another instance is already serving " + s.socketPath}
		}
		if err := os.Remove(s.socketPath); err != nil {
			return &IPCError{Code: "stale_socket", Reason: err.Error()}
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return &IPCError{Code: "listen", Reason: err.Error()}
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil { //nolint:mnd
		_ = ln.Close()
		return &IPCError{Code: "socket_perm", Reason: err.Error()}
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until ctx is cancelled, handling each
// concurrently. Must be called after a successful Listen.
func (s *Server) Serve(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		<-ctx.Done()
		return s.listener.Close()
	})

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return group.Wait()
			default:
				return &IPCError{Code: "accept", Reason: err.Error()}
			}
		}
		group.Go(func() error {
			s.handleConn(ctx, conn)
			return nil
		})
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close() //nolint:errcheck
	logger := logging.WithFunc("ipc.handleConn")

	scanner := bufio.NewScanner(conn)
	_ = conn.SetDeadline(time.Now().Add(connTimeout))
	for scanner.Scan() {
		_ = conn.SetDeadline(time.Now().Add(connTimeout))

		var req Request
		resp := Response{MessageID: uuid.NewString()}
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			resp.Type = "error_response"
			resp.Payload = ErrorPayload{Error: ErrInvalidMessage, Message: fmt.Sprintf("malformed request: %v", err)}
			s.write(conn, resp)
			continue
		}
		if req.MessageID != "" {
			resp.MessageID = req.MessageID
		}

		payload, respType, err := s.dispatch(ctx, req)
		if err != nil {
			resp.Type = "error_response"
			resp.Payload = ErrorPayload{Error: errCodeFor(req.Type), Message: err.Error()}
		} else {
			resp.Type = respType
			resp.Payload = payload
		}
		s.write(conn, resp)
	}
	if err := scanner.Err(); err != nil {
		logger.Warnf(ctx, "read: %v", err)
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) (any, string, error) {
	switch req.Type {
	case "status_request":
		payload, err := s.backend.Status(ctx)
		return payload, "status_response", err
	case "backup_trigger":
		payload, err := s.backend.Trigger(ctx)
		return payload, "backup_response", err
	case "browse_request":
		payload, err := s.backend.Browse(ctx, req.Path)
		return payload, "browse_response", err
	case "health_request":
		payload, err := s.backend.Health(ctx)
		return payload, "health_response", err
	default:
		return nil, "", fmt.Errorf("unknown request type: %q", req.Type)
	}
}

// errCodeFor picks the error_response payload code for a dispatch failure:
// the two spec-mandated codes cover an unrecognized request type and a
// malformed request; a recognized type whose backend call itself failed
// gets a distinct code so clients can tell the two apart.
func errCodeFor(reqType string) string {
	switch reqType {
	case "status_request", "backup_trigger", "browse_request", "health_request":
		return "BACKEND_ERROR"
	default:
		return ErrUnknownMessageType
	}
}

func (s *Server) write(conn net.Conn, resp Response) {
	_ = conn.SetDeadline(time.Now().Add(connTimeout))
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	data = append(data, '\n')
	_, _ = conn.Write(data)
}
