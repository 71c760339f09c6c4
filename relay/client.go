package relay

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/oar-cd/bubble/domain"
)

// Client sends relay requests from inside a bubble
type Client struct {
	SocketPath string
	TokenPath  string
	Timeout    time.Duration
}

// NewClient returns a client for the paths mounted into every bubble
func NewClient() *Client {
	return &Client{
		SocketPath: domain.RelaySocketMount,
		TokenPath:  domain.RelayTokenPath,
		Timeout:    10 * time.Second,
	}
}

// ErrNoRelay is returned when the relay socket is not mounted
var ErrNoRelay = errors.New("relay socket not available; is this running inside a bubble with the relay enabled?")

// Request asks the host to open target
func (c *Client) Request(ctx context.Context, target string) (*Response, error) {
	token, err := os.ReadFile(c.TokenPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read relay token %s: %w", c.TokenPath, err)
	}

	if _, err := os.Stat(c.SocketPath); err != nil {
		return nil, ErrNoRelay
	}

	dialer := net.Dialer{Timeout: c.Timeout}
	conn, err := dialer.DialContext(ctx, "unix", c.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	data, err := json.Marshal(Request{Target: target, Token: strings.TrimSpace(string(token))})
	if err != nil {
		return nil, err
	}
	if len(data)+1 > MaxRequestSize {
		return nil, &domain.InvalidRelayTargetError{Target: target, Reason: "target too long"}
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("failed to send relay request: %w", err)
	}

	line, err := bufio.NewReader(io.LimitReader(conn, 64*1024)).ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return nil, fmt.Errorf("failed to read relay response: %w", err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("invalid relay response: %w", err)
	}
	return &resp, nil
}
