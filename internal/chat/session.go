// Package chat runs a visitor's chat widget session: the transient message
// log, the single-flight send pipeline and the welcome/suggestion messages.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"ivf-chat/internal/domain"
	"ivf-chat/internal/format"
)

// RequestState tells whether a send is in flight.
type RequestState int

const (
	StateIdle RequestState = iota
	StatePending
)

func (s RequestState) String() string {
	if s == StatePending {
		return "pending"
	}
	return "idle"
}

// Outcome describes what a call to Send did.
type Outcome string

const (
	OutcomeIgnoredEmpty  Outcome = "ignored_empty"
	OutcomeIgnoredBusy   Outcome = "ignored_busy"
	OutcomeIgnoredClosed Outcome = "ignored_closed"
	OutcomeReplied       Outcome = "replied"
	OutcomeFailed        Outcome = "failed"
)

// Ignored reports whether the send had no side effects.
func (o Outcome) Ignored() bool {
	return o == OutcomeIgnoredEmpty || o == OutcomeIgnoredBusy || o == OutcomeIgnoredClosed
}

var welcomeMessages = [...]string{
	"Hello! I'm your AI assistant specialized in IVF support. How can I help you today?",
	"Hi there! I'm here to answer your questions about IVF procedures, medications, and wellness. What would you like to know?",
	"Welcome! I'm your personal IVF AI assistant. Feel free to ask me about your treatment, symptoms, or any concerns you have.",
}

const suggestionIntro = "Here are some common questions I can help with:"

var commonQuestions = [...]string{
	"What should I expect during my first IVF consultation?",
	"How do I prepare for egg retrieval?",
	"What are the side effects of fertility medications?",
	"When should I take my trigger shot?",
	"What foods should I avoid during IVF treatment?",
	"How can I manage stress during treatment?",
	"What supplements should I take?",
	"When will I know if the transfer was successful?",
}

const suggestionCount = 4

// WelcomeMessages returns the messages a session may greet with.
func WelcomeMessages() []string {
	return append([]string(nil), welcomeMessages[:]...)
}

// Responder answers a user message.
type Responder interface {
	Send(ctx context.Context, message string) (string, error)
}

// HistoryStore is the durable log of completed turns.
type HistoryStore interface {
	Load(ctx context.Context) []domain.ChatTurn
	Append(ctx context.Context, turn domain.ChatTurn)
	Clear(ctx context.Context)
}

// Lease marks a session's send as in flight in storage shared by every
// process serving the widget. Acquire reports false while another holder's
// lease has not expired.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// LeaseKeyPrefix names the in-flight entry of a session: "<prefix>#<id>".
const LeaseKeyPrefix = "ivf_chat_inflight"

// DefaultLeaseTTL bounds how long a crashed holder can block a session.
const DefaultLeaseTTL = 2 * time.Minute

// View receives the session's rendering side effects.
type View interface {
	Append(msg domain.RenderedMessage)
	ShowTyping(fragment string)
	HideTyping()
	Reset()
}

// Bindings are the page collaborators resolved once when a session is set up.
type Bindings struct {
	View   View
	Logger *slog.Logger
}

// SendResult reports one call to Send.
type SendResult struct {
	Outcome  Outcome
	Reply    string
	Err      error
	Rendered []domain.RenderedMessage
}

// Session is one visitor's widget: its transient message log, its durable
// history and the request state that lets a single send run at a time.
type Session struct {
	id        string
	responder Responder
	store     HistoryStore
	renderer  *format.Renderer
	view      View
	logger    *slog.Logger
	now       func() time.Time
	pick      func(n int) int
	lease     Lease
	leaseTTL  time.Duration

	mu       sync.Mutex
	state    RequestState
	closed   bool
	messages []domain.RenderedMessage
}

// Option configures a Session.
type Option func(*Session)

// WithRenderer replaces the default renderer, e.g. to sanitize bot replies.
func WithRenderer(r *format.Renderer) Option {
	return func(s *Session) {
		if r != nil {
			s.renderer = r
		}
	}
}

// WithClock overrides the time source used for message and turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPicker overrides the random choice of welcome message.
func WithPicker(pick func(n int) int) Option {
	return func(s *Session) {
		if pick != nil {
			s.pick = pick
		}
	}
}

// WithLease extends the single-flight guard to every process sharing l.
// A non-positive ttl selects DefaultLeaseTTL.
func WithLease(l Lease, ttl time.Duration) Option {
	return func(s *Session) {
		s.lease = l
		if ttl <= 0 {
			ttl = DefaultLeaseTTL
		}
		s.leaseTTL = ttl
	}
}

// NewSession creates an idle session. Call Init before use and Close when the
// hosting page goes away.
func NewSession(id string, responder Responder, store HistoryStore, b Bindings, opts ...Option) (*Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("chat: session id must not be empty")
	}
	if responder == nil {
		return nil, errors.New("chat: responder must not be nil")
	}
	if store == nil {
		return nil, errors.New("chat: history store must not be nil")
	}
	s := &Session{
		id:        id,
		responder: responder,
		store:     store,
		renderer:  format.NewRenderer(),
		view:      b.View,
		logger:    b.Logger,
		now:       time.Now,
		pick:      rand.IntN,
		leaseTTL:  DefaultLeaseTTL,
	}
	if s.view == nil {
		s.view = noopView{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("session", id)
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID returns the visitor's session id.
func (s *Session) ID() string { return s.id }

// Init loads the durable history and greets the visitor when nothing has
// been rendered yet. It returns the loaded turns.
func (s *Session) Init(ctx context.Context) []domain.ChatTurn {
	turns := s.store.Load(ctx)

	s.mu.Lock()
	empty := len(s.messages) == 0
	s.mu.Unlock()
	if empty {
		s.showWelcome()
	}
	s.logger.Debug("chat session initialized", "turns", len(turns))
	return turns
}

// Close tears the session down. Later sends are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// State reports whether a send is in flight in this process.
func (s *Session) State() RequestState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Messages returns a copy of everything rendered since the session started
// or was last cleared.
func (s *Session) Messages() []domain.RenderedMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.RenderedMessage(nil), s.messages...)
}

// History returns the durable turns.
func (s *Session) History(ctx context.Context) []domain.ChatTurn {
	return s.store.Load(ctx)
}

// Send runs one user message through the pipeline. Empty input, a send
// already in flight (in this process, or under the session's lease in any
// process) or a closed session make it a no-op. Failures of the
// endpoint are rendered as a fallback reply and never retried.
func (s *Session) Send(ctx context.Context, text string) SendResult {
	text = strings.TrimSpace(text)
	if text == "" {
		return SendResult{Outcome: OutcomeIgnoredEmpty}
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return SendResult{Outcome: OutcomeIgnoredClosed}
	case s.state == StatePending:
		s.mu.Unlock()
		return SendResult{Outcome: OutcomeIgnoredBusy}
	}
	s.state = StatePending
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.state = StateIdle
		s.mu.Unlock()
	}()

	if !s.acquireLease(ctx) {
		return SendResult{Outcome: OutcomeIgnoredBusy}
	}
	defer s.releaseLease(ctx)

	s.mu.Lock()
	rendered := []domain.RenderedMessage{s.appendLocked(text, domain.SenderUser, false, false)}
	s.view.ShowTyping(s.renderer.TypingIndicator())
	s.mu.Unlock()

	reply, err := s.responder.Send(ctx, text)
	if err != nil {
		kind := Classify(err)
		s.logger.Error("chat request failed", "kind", kind.String(), "err", err)
		fallback := FallbackMessage(err)

		s.mu.Lock()
		s.view.HideTyping()
		rendered = append(rendered, s.appendLocked(fallback, domain.SenderBot, true, false))
		s.mu.Unlock()

		return SendResult{Outcome: OutcomeFailed, Reply: fallback, Err: err, Rendered: rendered}
	}

	s.mu.Lock()
	s.view.HideTyping()
	rendered = append(rendered, s.appendLocked(reply, domain.SenderBot, false, false))
	s.mu.Unlock()

	s.store.Append(ctx, domain.ChatTurn{
		UserMessage: text,
		BotResponse: reply,
		Timestamp:   s.now().UTC(),
	})

	return SendResult{Outcome: OutcomeReplied, Reply: reply, Rendered: rendered}
}

// Clear wipes the durable history and the transient log, then greets again.
func (s *Session) Clear(ctx context.Context) domain.RenderedMessage {
	s.mu.Lock()
	s.messages = nil
	s.view.Reset()
	s.mu.Unlock()

	s.store.Clear(ctx)
	return s.showWelcome()
}

// SuggestQuestions offers the common questions while the visitor has not
// said anything yet. It returns the intro message it rendered and the quick
// replies, or ok=false once the conversation has started.
func (s *Session) SuggestQuestions() (intro domain.RenderedMessage, replies []domain.QuickReply, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) > 1 {
		return domain.RenderedMessage{}, nil, false
	}
	intro = s.appendLocked(suggestionIntro, domain.SenderBot, false, false)
	return intro, s.renderer.QuickReplies(commonQuestions[:suggestionCount]), true
}

func (s *Session) leaseKey() string {
	return LeaseKeyPrefix + "#" + s.id
}

// acquireLease treats a lease store error as acquired.
func (s *Session) acquireLease(ctx context.Context) bool {
	if s.lease == nil {
		return true
	}
	ok, err := s.lease.Acquire(ctx, s.leaseKey(), s.leaseTTL)
	if err != nil {
		s.logger.Warn("in-flight lease unavailable", "err", err)
		return true
	}
	return ok
}

func (s *Session) releaseLease(ctx context.Context) {
	if s.lease == nil {
		return
	}
	if err := s.lease.Release(context.WithoutCancel(ctx), s.leaseKey()); err != nil {
		s.logger.Warn("failed to release in-flight lease", "err", err)
	}
}

func (s *Session) showWelcome() domain.RenderedMessage {
	text := welcomeMessages[s.pick(len(welcomeMessages))]

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(text, domain.SenderBot, false, true)
}

// appendLocked renders a message and records it. s.mu must be held.
func (s *Session) appendLocked(content string, sender domain.Sender, isError, welcome bool) domain.RenderedMessage {
	ts := s.now()
	msg := domain.RenderedMessage{
		Content:   content,
		HTML:      s.renderer.Bubble(sender, content, isError, ts),
		Sender:    sender,
		Timestamp: ts.UTC(),
		IsError:   isError,
		Welcome:   welcome,
	}
	s.messages = append(s.messages, msg)
	s.view.Append(msg)
	return msg
}

type noopView struct{}

func (noopView) Append(domain.RenderedMessage) {}
func (noopView) ShowTyping(string)             {}
func (noopView) HideTyping()                   {}
func (noopView) Reset()                        {}
