package domain

import "time"

// ChatTurn is one user message plus the bot reply it produced.
type ChatTurn struct {
	UserMessage string    `json:"userMessage"`
	BotResponse string    `json:"botResponse"`
	Timestamp   time.Time `json:"timestamp"`
}
