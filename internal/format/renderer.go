package format

import (
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"ivf-chat/internal/domain"
)

const timestampLayout = "03:04 PM"

// Renderer builds the message bubbles and widget fragments.
type Renderer struct {
	sanitizer *bluemonday.Policy
}

type Option func(*Renderer)

// WithSanitizer runs every formatted bot reply through a UGC policy.
// Use it when the chat endpoint may echo untrusted text.
func WithSanitizer() Option {
	return func(r *Renderer) {
		r.sanitizer = bluemonday.UGCPolicy()
	}
}

func NewRenderer(opts ...Option) *Renderer {
	r := &Renderer{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bot formats a bot reply.
func (r *Renderer) Bot(text string) string {
	out := Markdown(text)
	if r.sanitizer != nil {
		out = r.sanitizer.Sanitize(out)
	}
	return out
}

// User escapes a user message.
func (r *Renderer) User(text string) string {
	return Escape(text)
}

// Bubble wraps message content in the widget's message markup.
func (r *Renderer) Bubble(sender domain.Sender, content string, isError bool, ts time.Time) string {
	classes := fmt.Sprintf("message %s-message", sender)
	if isError {
		classes += " error-message"
	}

	var body string
	if sender == domain.SenderBot {
		body = `<div class="d-flex align-items-start">` +
			`<i class="fas fa-robot me-2 mt-1"></i>` +
			`<div class="message-content">` + r.Bot(content) + `</div>` +
			`</div>`
	} else {
		body = `<div class="d-flex align-items-start justify-content-end">` +
			`<div class="message-content">` + r.User(content) + `</div>` +
			`<i class="fas fa-user me-2 mt-1 ms-2"></i>` +
			`</div>`
	}

	return `<div class="` + classes + `">` + body +
		`<div class="message-timestamp">` + ts.Format(timestampLayout) + `</div>` +
		`</div>`
}

// TypingIndicator returns the transient "bot is typing" fragment.
func (r *Renderer) TypingIndicator() string {
	return `<div class="message bot-message typing-indicator" id="typingIndicator">` +
		`<div class="d-flex align-items-start">` +
		`<i class="fas fa-robot me-2 mt-1"></i>` +
		`<div class="typing-animation"><span></span><span></span><span></span></div>` +
		`</div></div>`
}

// QuickReplies renders one button per question. Labels and data attributes
// are escaped.
func (r *Renderer) QuickReplies(questions []string) []domain.QuickReply {
	out := make([]domain.QuickReply, 0, len(questions))
	for _, q := range questions {
		escaped := Escape(q)
		out = append(out, domain.QuickReply{
			Label:   q,
			Message: q,
			HTML: `<button class="btn btn-sm btn-outline-primary quick-response-btn" data-message="` +
				escaped + `">` + escaped + `</button>`,
		})
	}
	return out
}

// QuickReplyGroup wraps rendered buttons in their container.
func QuickReplyGroup(replies []domain.QuickReply) string {
	var b strings.Builder
	b.WriteString(`<div class="quick-responses my-2"><div class="d-flex flex-wrap gap-2">`)
	for _, r := range replies {
		b.WriteString(r.HTML)
	}
	b.WriteString(`</div></div>`)
	return b.String()
}
