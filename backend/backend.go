// Package backend is the contract between the relay and a conversational AI.
package backend

import (
	"context"
)

// Prompt is one user turn. ConversationID is empty when the user has no
// conversation yet. ParentID names the turn being answered.
type Prompt struct {
	Text           string
	ConversationID string
	ParentID       string
}

// Reply carries the answer and the tokens that continue the conversation.
type Reply struct {
	Text           string
	ConversationID string
	ParentID       string
}

type Backend interface {
	Submit(ctx context.Context, p Prompt) (Reply, error)
	// Reset discards the backend's own state for a conversation.
	Reset(ctx context.Context, conversationID string) error
}
