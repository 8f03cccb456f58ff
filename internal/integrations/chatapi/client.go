// Package chatapi calls the remote chat endpoint that answers widget messages.
package chatapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// ErrMalformedResponse is returned when a 2xx body is not {"response": "..."}.
var ErrMalformedResponse = errors.New("chatapi: malformed response")

type chatRequest struct {
	Message string `json:"message"`
}

type chatResponse struct {
	Response *string `json:"response"`
}

// tokenPayload is the expected JSON shape stored in SSM for the bearer token.
type tokenPayload struct {
	Token string `json:"token"`
}

// TokenParameter is the parameter holding the bearer token, relative to the
// getter's prefix.
const TokenParameter = "chat-token"

// Getter reads a parameter by name. Relative names are resolved by the getter.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// HTTPStatusError captures a non-2xx response. Its message has the form
// "HTTP <code>: <status text>".
type HTTPStatusError struct {
	StatusCode int
	Status     string
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Status)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// TransportError is returned when the request never produced a response.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("Failed to fetch %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client posts widget messages to the chat endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	getter     Getter

	tokenOnce sync.Once
	token     string
	tokenErr  error
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds each request. Without it the client waits for the
// endpoint indefinitely, unless ctx says otherwise.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Timeout: d}
		}
	}
}

// WithParamStoreToken sends a bearer token read once from TokenParameter
// through ps.
func WithParamStoreToken(ps Getter) Option {
	return func(c *Client) {
		c.getter = ps
	}
}

// NewClient creates a Client for the endpoint rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return nil, errors.New("chatapi: base URL must not be empty")
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func chatURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/api/chat") {
		return base
	}
	return base + "/api/chat"
}

// resolveToken fetches the token on first use and caches the result for the
// lifetime of the process. It returns "" when no parameter store is configured.
func (c *Client) resolveToken(ctx context.Context) (string, error) {
	if c.getter == nil {
		return "", nil
	}
	c.tokenOnce.Do(func() {
		c.token, c.tokenErr = fetchTokenFromParamStore(ctx, c.getter, TokenParameter)
	})
	return c.token, c.tokenErr
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return http.DefaultClient
}

// Send posts message and returns the endpoint's reply text.
func (c *Client) Send(ctx context.Context, message string) (string, error) {
	token, err := c.resolveToken(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(chatRequest{Message: message})
	if err != nil {
		return "", fmt.Errorf("chatapi: marshal request: %w", err)
	}

	url := chatURL(c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("chatapi: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return "", &TransportError{URL: url, Err: err}
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return "", &HTTPStatusError{
			StatusCode: res.StatusCode,
			Status:     http.StatusText(res.StatusCode),
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", &TransportError{URL: url, Err: err}
	}

	var payload chatResponse
	if err := json.Unmarshal(buf, &payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if payload.Response == nil {
		return "", fmt.Errorf("%w: missing response field", ErrMalformedResponse)
	}
	return *payload.Response, nil
}

func fetchTokenFromParamStore(ctx context.Context, getter Getter, name string) (string, error) {
	if getter == nil {
		return "", errors.New("chatapi: paramstore getter is nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("chatapi: token parameter name is empty")
	}

	raw, err := getter.GetParameter(ctx, name)
	if err != nil {
		return "", fmt.Errorf("chatapi: fetch token from paramstore: %w", err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("chatapi: unmarshal paramstore token value as JSON: %w", err)
	}
	if tp.Token == "" {
		return "", errors.New("chatapi: token is empty")
	}
	return tp.Token, nil
}
