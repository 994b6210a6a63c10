package storage

import "time"

// Event is one completed chat turn: the user's prompt and either the
// assistant's reply or a failure marker.
type Event struct {
	Timestamp         time.Time `json:"timestamp"`
	Owner             string    `json:"owner"`
	Domain            string    `json:"domain"`
	UserMessage       string    `json:"user_message"`
	AssistantResponse string    `json:"assistant_response,omitempty"`
	Attachments       int       `json:"attachments,omitempty"`
	Failed            bool      `json:"failed,omitempty"`
	FailureReason     string    `json:"failure_reason,omitempty"`
}

// Recorder persists interaction events.
// LoadInteractions returns events in the order they were appended.
// Implementations must be safe for concurrent use.
type Recorder interface {
	AppendInteraction(event Event) error
	LoadInteractions() ([]Event, error)
}
