package llm

import (
	"context"

	"mingling-chat/internal/chat"
)

type Message struct {
	Role    string
	Content string
}

type Response struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is a raw chat-completion backend.
type Client interface {
	Generate(ctx context.Context, messages []Message) (Response, error)
}

// Responder produces the assistant reply for a conversation. Calls may
// block for an arbitrary time and must return when ctx is done. Replies
// of concurrent calls are not guaranteed to arrive in issue order.
type Responder interface {
	Respond(ctx context.Context, domain chat.Domain, history []chat.Message) (string, error)
}
