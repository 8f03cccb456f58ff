package domain

import "time"

// Sender identifies who authored a rendered message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// RenderedMessage is a single entry of a session's transient message log.
// Content is the raw text, HTML the fragment handed to the page.
type RenderedMessage struct {
	Content   string    `json:"content"`
	HTML      string    `json:"html"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	IsError   bool      `json:"isError"`
	Welcome   bool      `json:"welcome,omitempty"`
}

// QuickReply is a suggested question offered as a one-click button.
type QuickReply struct {
	Label   string `json:"label"`
	Message string `json:"message"`
	HTML    string `json:"html"`
}
