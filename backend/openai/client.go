// Package openai answers prompts with the OpenAI chat completion API.
//
// The chat completion API is stateless, so the threads that the continuity
// tokens point into are kept here, in Transcripts. A conversation id names a
// thread and a parent id names the turn within it that the next prompt
// follows; turns after the parent are dropped, which lets a user branch off
// an earlier answer.
package openai

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/Oppen/gptrelay/backend"
)

const (
	DefaultModel    = goopenai.GPT3Dot5Turbo
	DefaultMaxTurns = 20
)

var ErrEmptyResponse = errors.New("backend returned no choices")

// Completer is the slice of *goopenai.Client this package needs.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req goopenai.ChatCompletionRequest) (goopenai.ChatCompletionResponse, error)
}

type Client struct {
	api          Completer
	transcripts  *Transcripts
	model        string
	maxTurns     int
	systemPrompt string
	newID        func() string
}

var _ backend.Backend = &Client{}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// WithMaxTurns bounds how many past turns are sent along with a prompt.
func WithMaxTurns(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTurns = n
		}
	}
}

func WithSystemPrompt(p string) Option {
	return func(c *Client) { c.systemPrompt = p }
}

func WithIDSource(f func() string) Option {
	return func(c *Client) { c.newID = f }
}

// NewAPI builds the go-openai client. An empty baseURL keeps the default.
func NewAPI(apiKey, baseURL string) *goopenai.Client {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return goopenai.NewClientWithConfig(cfg)
}

func New(api Completer, transcripts *Transcripts, opts ...Option) *Client {
	c := &Client{
		api:         api,
		transcripts: transcripts,
		model:       DefaultModel,
		maxTurns:    DefaultMaxTurns,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Submit(ctx context.Context, p backend.Prompt) (backend.Reply, error) {
	convID := p.ConversationID
	if convID == "" {
		convID = c.newID()
	}

	thread, err := c.transcripts.Load(convID)
	if err != nil {
		return backend.Reply{}, err
	}
	history := c.trim(upTo(thread, p.ParentID))

	msgs := make([]goopenai.ChatCompletionMessage, 0, len(history)+2)
	if c.systemPrompt != "" {
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: c.systemPrompt,
		})
	}
	for _, t := range history {
		msgs = append(msgs, goopenai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleUser,
		Content: p.Text,
	})

	resp, err := c.api.CreateChatCompletion(ctx, goopenai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
	})
	if err != nil {
		return backend.Reply{}, errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return backend.Reply{}, ErrEmptyResponse
	}
	answer := resp.Choices[0].Message.Content

	question := Turn{
		ID:      c.newID(),
		Parent:  p.ParentID,
		Role:    goopenai.ChatMessageRoleUser,
		Content: p.Text,
	}
	reply := Turn{
		ID:      c.newID(),
		Parent:  question.ID,
		Role:    goopenai.ChatMessageRoleAssistant,
		Content: answer,
	}
	if err := c.transcripts.Save(convID, append(history, question, reply)); err != nil {
		return backend.Reply{}, err
	}

	return backend.Reply{Text: answer, ConversationID: convID, ParentID: reply.ID}, nil
}

func (c *Client) Reset(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return nil
	}
	return c.transcripts.Delete(conversationID)
}

// upTo returns the thread up to and including parent. An unknown parent
// keeps the whole thread.
func upTo(thread []Turn, parent string) []Turn {
	for i, t := range thread {
		if t.ID == parent {
			return thread[:i+1]
		}
	}
	return thread
}

func (c *Client) trim(history []Turn) []Turn {
	if len(history) <= c.maxTurns {
		return history
	}
	return history[len(history)-c.maxTurns:]
}
