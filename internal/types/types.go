package types

import "time"

// Roles a conversation entry can carry.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one conversation entry. Content is mutated only by the reveal
// loop while Revealing is true, or once by the upload flow when the
// placeholder is replaced with its transcription.
type Message struct {
	ID        int64     `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Revealing bool      `json:"isRevealing,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Schedule is a callback slot the backend decided to offer.
type Schedule struct {
	ID       string `json:"id,omitempty"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Priority string `json:"priority"`
}

// Sentiment is the backend's coarse rating of the user's message.
type Sentiment struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// NormalizedResponse is the single shape every backend path is coerced into
// before it reaches the session logic. Schedule may be nil; even when set it
// is only actionable if the user's own wording asked for a callback.
type NormalizedResponse struct {
	IsFAQ     bool      `json:"is_faq"`
	Response  string    `json:"response"`
	Schedule  *Schedule `json:"schedule,omitempty"`
	Sentiment Sentiment `json:"sentiment"`
}

// Transcription is the transcription endpoint's result: the recognized text
// plus the same response envelope a typed message would get.
type Transcription struct {
	Text     string
	Response NormalizedResponse
}

type ChatRequest struct {
	Message string `json:"message"`
}

// ChatResponse is the REST reply: the session's visible log after the turn
// settled, plus the pending offer when the confirmation gate opened.
type ChatResponse struct {
	SessionID string        `json:"sessionId"`
	Messages  []Message     `json:"messages"`
	Pending   *PendingOffer `json:"pending,omitempty"`
}

// PendingOffer is what the client shows in the confirmation dialog: the
// callback details and sentiment behind the offer. The assistant text stays
// out of the visible log until the user confirms.
type PendingOffer struct {
	Schedule  *Schedule `json:"schedule,omitempty"`
	Sentiment Sentiment `json:"sentiment"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
