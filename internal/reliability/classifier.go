package reliability

import (
	"errors"
	"net"

	"github.com/gorilla/websocket"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// HTTPFailureClass labels a failed collaborator response for logs and metrics.
// Persistence is fire-and-forget, so the label never drives a retry.
func HTTPFailureClass(code int) string {
	switch {
	case code == 429:
		return "rate_limited"
	case IsRetryableHTTPStatus(code):
		return "transient"
	case code >= 400 && code < 500:
		return "rejected"
	case code >= 500:
		return "server_error"
	default:
		return "unexpected"
	}
}

// IsGracefulClose reports whether a websocket read/write error is an orderly
// shutdown (normal or going-away close frame, or a locally closed socket)
// rather than a transport failure.
func IsGracefulClose(err error) bool {
	if err == nil {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
