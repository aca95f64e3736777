package peer

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrPeerUnreachable is returned once every retry of an outbound call failed.
	// Callers degrade to grid-only trading.
	ErrPeerUnreachable = errors.New("peer unreachable")
	// ErrNegotiationFailed means the start-time handshake did not complete. The node must not start.
	ErrNegotiationFailed = errors.New("start negotiation failed")
	// ErrStaleData marks a cached snapshot older than the freshness threshold.
	ErrStaleData = errors.New("peer data is stale")
	// ErrNoPeerData means nothing has been received (or published) yet.
	ErrNoPeerData = errors.New("no peer data")
	// ErrInvalidMessage rejects a malformed inbound message.
	ErrInvalidMessage = errors.New("invalid peer message")
)

// Error codes carried in the error envelope of the peer RPC surface.
const (
	CodeNoData         = "NO_DATA"
	CodeInvalidMessage = "INVALID_MESSAGE"
	CodeUnreachable    = "UNREACHABLE"
	CodeInternal       = "INTERNAL_ERROR"
	CodeRateLimited    = "RATE_LIMITED"
)

// PeerError is a failed exchange with the peer.
// StatusCode is 0 when no HTTP response was received.
type PeerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *PeerError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Code, e.Message)
}

// Unwrap maps well-known codes onto the package sentinels.
func (e *PeerError) Unwrap() error {
	switch e.Code {
	case CodeNoData:
		return ErrNoPeerData
	case CodeInvalidMessage:
		return ErrInvalidMessage
	default:
		return nil
	}
}

// Retryable reports whether another attempt may succeed.
// Client errors other than rate limiting are final.
func (e *PeerError) Retryable() bool {
	if e.StatusCode == 0 || e.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return e.StatusCode >= 500
}

func retryable(err error) bool {
	var pe *PeerError
	if errors.As(err, &pe) {
		return pe.Retryable()
	}
	return true
}
