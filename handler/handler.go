// Package handler serves the chat widget from an API Gateway proxy Lambda.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"ivf-chat/internal/chat"
	"ivf-chat/internal/domain"
)

const correlationHeader = "X-Correlation-Id"

// SessionGetter resolves the live widget session for a visitor.
type SessionGetter interface {
	Get(ctx context.Context, id string) (*chat.Session, error)
}

type sendRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
}

type widgetResponse struct {
	SessionID    string                   `json:"sessionId"`
	Outcome      chat.Outcome             `json:"outcome,omitempty"`
	Messages     []domain.RenderedMessage `json:"messages"`
	Turns        []domain.ChatTurn        `json:"turns,omitempty"`
	QuickReplies []domain.QuickReply      `json:"quickReplies,omitempty"`
}

type errorResponse struct {
	Error ErrorCode `json:"error"`
}

// Handler adapts API Gateway proxy requests to widget sessions.
type Handler struct {
	sessions SessionGetter
	logger   *slog.Logger
}

// NewHandler creates a Handler. A nil logger selects slog.Default.
func NewHandler(sessions SessionGetter, logger *slog.Logger) (*Handler, error) {
	if sessions == nil {
		return nil, errors.New("handler: session getter must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{sessions: sessions, logger: logger}, nil
}

// Handle routes one API Gateway request.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := correlationID(req.Headers)
	logger := h.logger.With("correlationId", corrID, "method", req.HTTPMethod, "path", req.Path)

	var (
		out widgetResponse
		err error
	)
	switch route := strings.TrimRight(req.Path, "/"); {
	case req.HTTPMethod == http.MethodPost && route == "/chat":
		out, err = h.send(ctx, logger, req)
	case req.HTTPMethod == http.MethodGet && route == "/chat/history":
		out, err = h.history(ctx, req)
	case req.HTTPMethod == http.MethodDelete && route == "/chat/history":
		out, err = h.clear(ctx, logger, req)
	case req.HTTPMethod == http.MethodGet && route == "/chat/suggestions":
		out, err = h.suggestions(ctx, req)
	default:
		err = newError(ErrorNotFound, "no route for "+req.HTTPMethod+" "+req.Path, nil)
	}
	if err != nil {
		return h.errorResponse(logger, err, corrID), nil
	}
	return respond(http.StatusOK, out, corrID), nil
}

func (h *Handler) errorResponse(logger *slog.Logger, err error, corrID string) events.APIGatewayProxyResponse {
	var herr *Error
	if !errors.As(err, &herr) {
		herr = newError(ErrorInternal, "unexpected error", err)
	}
	status := herr.StatusCode()
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", herr.Code, "reason", herr.Reason, "err", herr.Err)
	} else {
		logger.Warn("request rejected", "code", herr.Code, "reason", herr.Reason, "err", herr.Err)
	}
	return respond(status, errorResponse{Error: herr.Code}, corrID)
}

func (h *Handler) send(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) (widgetResponse, error) {
	var in sendRequest
	if err := json.Unmarshal([]byte(req.Body), &in); err != nil {
		return widgetResponse{}, newError(ErrorInvalidInput, "invalid request body", err)
	}
	sessionID := strings.TrimSpace(in.SessionID)
	if strings.TrimSpace(in.Message) == "" {
		return widgetResponse{
			SessionID: sessionID,
			Outcome:   chat.OutcomeIgnoredEmpty,
			Messages:  []domain.RenderedMessage{},
		}, nil
	}
	if sessionID == "" {
		sessionID = newUUID()
	}

	session, err := h.getSession(ctx, sessionID)
	if err != nil {
		return widgetResponse{}, err
	}

	res := session.Send(ctx, in.Message)
	logger.Info("chat send", "sessionId", sessionID, "outcome", res.Outcome)
	return widgetResponse{
		SessionID: sessionID,
		Outcome:   res.Outcome,
		Messages:  nonNil(res.Rendered),
	}, nil
}

func (h *Handler) history(ctx context.Context, req events.APIGatewayProxyRequest) (widgetResponse, error) {
	session, err := h.sessionFromQuery(ctx, req)
	if err != nil {
		return widgetResponse{}, err
	}
	return widgetResponse{
		SessionID: session.ID(),
		Messages:  nonNil(session.Messages()),
		Turns:     session.History(ctx),
	}, nil
}

func (h *Handler) clear(ctx context.Context, logger *slog.Logger, req events.APIGatewayProxyRequest) (widgetResponse, error) {
	session, err := h.sessionFromQuery(ctx, req)
	if err != nil {
		return widgetResponse{}, err
	}
	welcome := session.Clear(ctx)
	logger.Info("chat history cleared", "sessionId", session.ID())
	return widgetResponse{
		SessionID: session.ID(),
		Messages:  []domain.RenderedMessage{welcome},
	}, nil
}

func (h *Handler) suggestions(ctx context.Context, req events.APIGatewayProxyRequest) (widgetResponse, error) {
	session, err := h.sessionFromQuery(ctx, req)
	if err != nil {
		return widgetResponse{}, err
	}
	out := widgetResponse{SessionID: session.ID(), Messages: []domain.RenderedMessage{}}
	if intro, replies, ok := session.SuggestQuestions(); ok {
		out.Messages = []domain.RenderedMessage{intro}
		out.QuickReplies = replies
	}
	return out, nil
}

func (h *Handler) sessionFromQuery(ctx context.Context, req events.APIGatewayProxyRequest) (*chat.Session, error) {
	sessionID := strings.TrimSpace(req.QueryStringParameters["sessionId"])
	if sessionID == "" {
		return nil, newError(ErrorInvalidInput, "sessionId is required", nil)
	}
	return h.getSession(ctx, sessionID)
}

func (h *Handler) getSession(ctx context.Context, sessionID string) (*chat.Session, error) {
	session, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, newError(ErrorInternal, "resolve session "+sessionID, err)
	}
	return session, nil
}

func respond(status int, body any, corrID string) events.APIGatewayProxyResponse {
	buf, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		buf = []byte(`{"error":"` + string(ErrorInternal) + `"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(buf),
	}
}

// correlationID returns the caller's correlation id, matching the header
// name case-insensitively, or a new one.
func correlationID(headers map[string]string) string {
	for k, v := range headers {
		if strings.EqualFold(k, correlationHeader) && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return newUUID()
}

func nonNil(msgs []domain.RenderedMessage) []domain.RenderedMessage {
	if msgs == nil {
		return []domain.RenderedMessage{}
	}
	return msgs
}

var newUUID = func() string {
	return uuid.NewString()
}
