package chat

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"ivf-chat/internal/integrations/chatapi"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{"nil", nil, FailureUnknown},
		{"typed 429", &chatapi.HTTPStatusError{StatusCode: http.StatusTooManyRequests, Status: "Too Many Requests"}, FailureRateLimited},
		{"text 429", errors.New("HTTP 429: Too Many Requests"), FailureRateLimited},
		{"typed 500", &chatapi.HTTPStatusError{StatusCode: http.StatusInternalServerError}, FailureServer},
		{"typed 503", &chatapi.HTTPStatusError{StatusCode: http.StatusServiceUnavailable}, FailureServer},
		{"text 502", errors.New("HTTP 502: Bad Gateway"), FailureServer},
		{"wrapped 500", fmt.Errorf("send: %w", &chatapi.HTTPStatusError{StatusCode: 500}), FailureServer},
		{"transport", &chatapi.TransportError{URL: "http://x/api/chat", Err: errors.New("connection refused")}, FailureNetwork},
		{"net error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("refused")}, FailureNetwork},
		{"text fetch", errors.New("TypeError: Failed to fetch"), FailureNetwork},
		{"typed 400", &chatapi.HTTPStatusError{StatusCode: http.StatusBadRequest}, FailureUnknown},
		{"malformed", chatapi.ErrMalformedResponse, FailureUnknown},
		{"other", errors.New("boom"), FailureUnknown},
		{"rate limit wins over server", errors.New("HTTP 429 after HTTP 500"), FailureRateLimited},
		{"server wins over network", errors.New("Failed to fetch: HTTP 500"), FailureServer},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Classify(tc.err))
		})
	}
}

func TestFallbackMessage(t *testing.T) {
	require.Equal(t, rateLimitedMessage, FallbackMessage(&chatapi.HTTPStatusError{StatusCode: 429}))
	require.Equal(t, serverErrorMessage, FallbackMessage(&chatapi.HTTPStatusError{StatusCode: 500}))
	require.Equal(t, networkMessage, FallbackMessage(&chatapi.TransportError{Err: errors.New("x")}))
	require.Equal(t, genericMessage, FallbackMessage(errors.New("boom")))
}

func TestFailureKind_String(t *testing.T) {
	require.Equal(t, "rate_limited", FailureRateLimited.String())
	require.Equal(t, "server_error", FailureServer.String())
	require.Equal(t, "network", FailureNetwork.String())
	require.Equal(t, "unknown", FailureUnknown.String())
}
