package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/oar-cd/bubble/domain"
	"github.com/oar-cd/bubble/lifecycle"
)

const writeTimeout = 5 * time.Second

// Launcher reserves bubbles and finishes bringing them up
type Launcher interface {
	Reserve(ctx context.Context, t domain.Target) (*lifecycle.Reservation, error)
	Complete(ctx context.Context, res *lifecycle.Reservation, opts lifecycle.OpenOptions) (*domain.Bubble, error)
}

// TokenVerifier maps a credential to the container it was issued to
type TokenVerifier interface {
	Verify(ctx context.Context, sealed string) (string, error)
}

// AdmissionLimiter decides whether a container may open another bubble now
type AdmissionLimiter interface {
	Allow(container string) (*RateLimitResult, error)
}

// TargetValidator turns a raw relayed target into one that may be opened
type TargetValidator interface {
	Validate(raw string) (domain.Target, error)
}

type ServerOptions struct {
	SocketPath string
	Launcher   Launcher
	Tokens     TokenVerifier
	Validator  TargetValidator
	Limiter    AdmissionLimiter
	Auditor    *Auditor
	// MaxConcurrent bounds connections handled at once; extra ones are answered busy
	MaxConcurrent int
	// RequestTimeout bounds reading the request line
	RequestTimeout time.Duration
}

// Server accepts relayed open requests on a unix socket
type Server struct {
	opts  ServerOptions
	slots chan struct{}

	activeConnections sync.WaitGroup
	launches          sync.WaitGroup
}

func NewServer(opts ServerOptions) *Server {
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 4
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 5 * time.Second
	}
	if opts.Limiter == nil {
		opts.Limiter = NewRateLimiter(DefaultLimits)
	}
	if opts.Auditor == nil {
		opts.Auditor = NewAuditor(nil, nil)
	}
	return &Server{
		opts:  opts,
		slots: make(chan struct{}, opts.MaxConcurrent),
	}
}

// Serve listens until ctx is cancelled. It then stops accepting, waits for
// open connections and launched bubbles, and removes the socket file.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	defer func() {
		listener.Close()
		if err := os.Remove(s.opts.SocketPath); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove relay socket", "path", s.opts.SocketPath, "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	slog.Info("Relay listening", "socket", s.opts.SocketPath, "max_concurrent", s.opts.MaxConcurrent)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			slog.Error("Service operation failed",
				"layer", "relay",
				"operation", "accept",
				"error", err)
			continue
		}

		select {
		case s.slots <- struct{}{}:
		default:
			s.activeConnections.Add(1)
			go func() {
				defer s.activeConnections.Done()
				defer conn.Close()
				slog.Warn("Relay busy, rejecting connection")
				s.opts.Auditor.Reject("", "", "busy")
				s.respond(conn, &Response{Status: StatusBusy, Reason: "Relay is busy, try again shortly."})
			}()
			continue
		}

		s.activeConnections.Add(1)
		go func() {
			defer s.activeConnections.Done()
			defer func() { <-s.slots }()
			s.handleConnection(ctx, conn)
		}()
	}

	s.activeConnections.Wait()
	s.launches.Wait()
	slog.Info("Relay stopped")
	return nil
}

// listen replaces any stale socket and creates one only the owner can connect to
func (s *Server) listen() (net.Listener, error) {
	if err := os.Remove(s.opts.SocketPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to remove stale socket %s: %w", s.opts.SocketPath, err)
	}

	old := unix.Umask(0o177)
	listener, err := net.Listen("unix", s.opts.SocketPath)
	unix.Umask(old)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.opts.SocketPath, err)
	}
	if err := os.Chmod(s.opts.SocketPath, 0o600); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to restrict socket %s: %w", s.opts.SocketPath, err)
	}
	return listener, nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Relay handler panicked", "panic", r, "stack", string(debug.Stack()))
			s.opts.Auditor.Reject("", "", "internal error")
			s.respond(conn, &Response{Status: StatusError, Reason: "Internal error."})
		}
	}()

	if pid, uid, ok := peerCred(conn); ok {
		slog.Debug("Relay connection", "peer_pid", pid, "peer_uid", uid)
	}

	_ = conn.SetReadDeadline(time.Now().Add(s.opts.RequestTimeout))
	line, err := readRequestLine(conn)
	if err != nil {
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			s.opts.Auditor.Reject("", "", "timeout")
			s.respond(conn, &Response{Status: StatusError, Reason: "Request timed out."})
		case errors.Is(err, errRequestTooLarge):
			s.opts.Auditor.Reject("", "", "request too large")
			s.respond(conn, &Response{Status: StatusError, Reason: "Request too large."})
		case errors.Is(err, io.EOF):
			// Closed before sending anything
			s.opts.Auditor.Reject("", "", "empty request")
		default:
			slog.Debug("Failed to read relay request", "error", err)
			s.opts.Auditor.Reject("", "", "read failed")
		}
		return
	}

	resp := s.handle(ctx, line)
	s.respond(conn, resp)
}

// handle runs one request through authentication, validation and rate
// limiting, then reserves the bubble. An invalid target does not use up
// the sender's quota.
func (s *Server) handle(ctx context.Context, line []byte) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.opts.Auditor.Reject("", "", "invalid JSON")
		return &Response{Status: StatusError, Reason: "Invalid request."}
	}

	if req.Token == "" {
		s.opts.Auditor.Reject("", req.Target, "missing token")
		return &Response{Status: StatusUnauthorized, Reason: "Relay token required."}
	}
	if len(req.Token) > MaxTokenLength {
		s.opts.Auditor.Reject("", req.Target, "invalid token")
		return &Response{Status: StatusUnauthorized, Reason: "Invalid relay token."}
	}
	container, err := s.opts.Tokens.Verify(ctx, req.Token)
	if err != nil {
		var unauthorized *domain.UnauthorizedRelayError
		if !errors.As(err, &unauthorized) {
			slog.Error("Service operation failed",
				"layer", "relay",
				"operation", "verify_token",
				"error", err)
		}
		s.opts.Auditor.Reject("", req.Target, "invalid token")
		return &Response{Status: StatusUnauthorized, Reason: "Invalid relay token."}
	}

	if req.Target == "" {
		s.opts.Auditor.Reject(container, "", "missing target")
		return &Response{Status: StatusError, Reason: "Missing target."}
	}

	t, err := s.opts.Validator.Validate(req.Target)
	if err != nil {
		s.opts.Auditor.Reject(container, req.Target, err.Error())
		if errors.Is(err, domain.ErrMirrorNotFound) {
			return &Response{Status: StatusUnknownRepo, Reason: err.Error()}
		}
		return &Response{Status: StatusError, Reason: err.Error()}
	}

	if _, err := s.opts.Limiter.Allow(container); err != nil {
		var limited *domain.RateLimitExceededError
		if errors.As(err, &limited) {
			s.opts.Auditor.Reject(container, req.Target, err.Error())
			return &Response{
				Status:     StatusRateLimited,
				Reason:     "Rate limit exceeded. Try again later.",
				RetryAfter: int(math.Ceil(limited.RetryAfter.Seconds())),
			}
		}
		slog.Error("Service operation failed",
			"layer", "relay",
			"operation", "rate_limit",
			"container", container,
			"error", err)
		s.opts.Auditor.Reject(container, req.Target, "rate limiter failed")
		return &Response{Status: StatusError, Reason: "Internal error."}
	}

	res, err := s.opts.Launcher.Reserve(ctx, t)
	if err != nil {
		slog.Error("Service operation failed",
			"layer", "relay",
			"operation", "reserve",
			"container", container,
			"target", t.String(),
			"error", err)
		s.opts.Auditor.Reject(container, req.Target, "reserve failed: "+err.Error())
		return &Response{Status: StatusError, Reason: domain.FormatErrorForUser(err)}
	}

	s.opts.Auditor.Accept(container, req.Target, res.Bubble.Name)
	s.launch(ctx, res)
	return &Response{
		Status:  StatusOK,
		Message: fmt.Sprintf("Opening bubble %s for %s.", res.Bubble.Name, t.String()),
		Name:    res.Bubble.Name,
	}
}

// launch finishes the reservation in the background. Repositories are never
// mirrored on behalf of a container.
func (s *Server) launch(ctx context.Context, res *lifecycle.Reservation) {
	switch res.Step {
	case lifecycle.StepAttach, lifecycle.StepWait:
		return
	}

	s.launches.Add(1)
	go func() {
		defer s.launches.Done()
		bgCtx := context.WithoutCancel(ctx)
		b, err := s.opts.Launcher.Complete(bgCtx, res, lifecycle.OpenOptions{NoClone: true})
		if err != nil {
			slog.Error("Service operation failed",
				"layer", "relay",
				"operation", "launch",
				"bubble", res.Bubble.Name,
				"error", err)
			return
		}
		slog.Info("Relayed bubble ready", "bubble", b.Name, "state", b.State.String())
	}()
}

func (s *Server) respond(conn net.Conn, resp *Response) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		slog.Debug("Failed to write relay response", "error", err)
	}
}

var errRequestTooLarge = errors.New("request too large")

// readRequestLine reads up to the first newline. The newline is optional when
// the client closes its side after writing.
func readRequestLine(r io.Reader) ([]byte, error) {
	reader := bufio.NewReader(io.LimitReader(r, MaxRequestSize+1))
	line, err := reader.ReadBytes('\n')
	if len(line) > MaxRequestSize {
		return nil, errRequestTooLarge
	}
	if errors.Is(err, io.EOF) && len(line) > 0 {
		return line, nil
	}
	return line, err
}

// peerCred returns the process and user on the other end of a unix connection
func peerCred(conn net.Conn) (int32, uint32, bool) {
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		return 0, 0, false
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return 0, 0, false
	}
	var cred *unix.Ucred
	var credErr error
	if err := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	}); err != nil || credErr != nil {
		return 0, 0, false
	}
	return cred.Pid, cred.Uid, true
}
