// Package relay lets code inside a bubble ask the host to open another bubble.
//
// Containers reach the relay through a unix socket bind-mounted at
// /bubble/relay.sock. Each connection carries one newline-terminated JSON
// request and receives one JSON response. Requests are authenticated by the
// per-container token written to /bubble/relay-token, validated, rate limited
// and audited before a bubble is reserved.
package relay

import "fmt"

const (
	// MaxRequestSize bounds one request line
	MaxRequestSize = 1024
	// MaxTargetLength bounds the target string
	MaxTargetLength = 500
	// MaxTokenLength bounds the credential; longer values are rejected unverified
	MaxTokenLength = 512
)

// Response statuses
const (
	StatusOK           = "ok"
	StatusError        = "error"
	StatusUnauthorized = "unauthorized"
	StatusRateLimited  = "rate_limited"
	StatusUnknownRepo  = "unknown_repo"
	StatusBusy         = "busy"
)

// Request is what a container sends
type Request struct {
	Target string `json:"target"`
	Token  string `json:"token"`
}

// Response is what the relay answers
type Response struct {
	Status string `json:"status"`
	// Message describes an accepted request
	Message string `json:"message,omitempty"`
	// Reason explains a rejection
	Reason string `json:"reason,omitempty"`
	// Name is the reserved bubble, set when Status is ok
	Name string `json:"name,omitempty"`
	// RetryAfter is in seconds, set when Status is rate_limited
	RetryAfter int `json:"retry_after,omitempty"`
}

// OK reports whether the request was accepted
func (r *Response) OK() bool {
	return r.Status == StatusOK
}

// Err returns nil for an accepted request and a *RejectedError otherwise
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	return &RejectedError{Status: r.Status, Reason: r.Reason, RetryAfter: r.RetryAfter}
}

// RejectedError is a relay response other than ok
type RejectedError struct {
	Status     string
	Reason     string
	RetryAfter int
}

func (e *RejectedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("relay rejected request (%s): %s (retry in %ds)", e.Status, e.Reason, e.RetryAfter)
	}
	return fmt.Sprintf("relay rejected request (%s): %s", e.Status, e.Reason)
}

// Temporary reports whether the same request may succeed later
func (e *RejectedError) Temporary() bool {
	return e.Status == StatusRateLimited || e.Status == StatusBusy
}
