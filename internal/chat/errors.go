package chat

import (
	"errors"
	"net"
	"regexp"
	"strings"
)

// FailureKind classifies a failed send for the fallback reply.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureRateLimited
	FailureServer
	FailureNetwork
)

const (
	rateLimitedMessage = "I'm getting a lot of questions right now. Please wait a moment and try again."
	serverErrorMessage = "I'm experiencing some technical difficulties. Please try again in a few minutes."
	networkMessage     = "I can't connect to the server right now. Please check your internet connection and try again."
	genericMessage     = "I'm sorry, I encountered an error while processing your request. Please try rephrasing your question or try again later."
)

var serverStatus = regexp.MustCompile(`HTTP 5\d\d`)

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func (k FailureKind) String() string {
	switch k {
	case FailureRateLimited:
		return "rate_limited"
	case FailureServer:
		return "server_error"
	case FailureNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Classify maps err to a FailureKind. Checks run in priority order and the
// first match wins: rate limit, server error, network, unknown.
func Classify(err error) FailureKind {
	if err == nil {
		return FailureUnknown
	}
	desc := err.Error()
	status, hasStatus := upstreamStatusCode(err)

	switch {
	case (hasStatus && status == 429) || strings.Contains(desc, "HTTP 429"):
		return FailureRateLimited
	case (hasStatus && status >= 500 && status <= 599) || serverStatus.MatchString(desc):
		return FailureServer
	case isNetworkError(err) || strings.Contains(desc, "Failed to fetch"):
		return FailureNetwork
	default:
		return FailureUnknown
	}
}

// FallbackMessage returns the reply shown in place of a failed answer.
func FallbackMessage(err error) string {
	switch Classify(err) {
	case FailureRateLimited:
		return rateLimitedMessage
	case FailureServer:
		return serverErrorMessage
	case FailureNetwork:
		return networkMessage
	default:
		return genericMessage
	}
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}
