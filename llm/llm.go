// Package llm defines the single invoke(model, messages, options) → response
// contract the rest of the runtime depends on (spec §4.6), plus concrete
// HTTP-backed providers.
package llm

import (
	"context"

	"github.com/Mythli/batchprompter-sub003/packet"
)

// Message is one turn in a chat-completions-style conversation.
type Message struct {
	Role  string               `json:"role"` // "system", "user", "assistant"
	Parts []packet.ContentPart `json:"parts"`
}

// TextMessage builds a single-part text Message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Parts: []packet.ContentPart{packet.TextPart(text)}}
}

// ImageOptions requests image-generation mode instead of text completion.
type ImageOptions struct {
	AspectRatio string
}

// Request is the argument to Client.Invoke.
type Request struct {
	Model            string
	Messages         []Message
	Temperature      float64
	ReasoningEffort  string
	StructuredSchema map[string]any
	Image            *ImageOptions
	// Seed derives determinism from (rowIndex, stepIndex, candidateIndex)
	// per spec §4.6. Zero means "no seed requested".
	Seed int64
}

// Response is either a text/structured completion or an image payload.
type Response struct {
	Text       string
	Structured map[string]any

	Image    []byte
	MimeType string
}

// Client is the single contract the rest of the runtime depends on. All
// provider-specific wire formats are hidden behind it.
type Client interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}
