package reliability

import (
	"errors"
	"fmt"
	"io"
	"net"
	"testing"

	"github.com/gorilla/websocket"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestHTTPFailureClass(t *testing.T) {
	cases := map[int]string{
		429: "rate_limited",
		503: "transient",
		404: "rejected",
		501: "server_error",
		302: "unexpected",
	}
	for code, want := range cases {
		if got := HTTPFailureClass(code); got != want {
			t.Fatalf("HTTPFailureClass(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestIsGracefulClose(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, true},
		{"normal", &websocket.CloseError{Code: websocket.CloseNormalClosure}, true},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, true},
		{"abnormal", &websocket.CloseError{Code: websocket.CloseAbnormalClosure}, false},
		{"local close", fmt.Errorf("read: %w", net.ErrClosed), true},
		{"eof", io.ErrUnexpectedEOF, false},
		{"other", errors.New("connection reset by peer"), false},
	}
	for _, tc := range cases {
		if got := IsGracefulClose(tc.err); got != tc.want {
			t.Fatalf("%s: IsGracefulClose() = %v, want %v", tc.name, got, tc.want)
		}
	}
}
