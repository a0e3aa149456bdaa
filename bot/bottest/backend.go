package bottest

import (
	"context"
	"fmt"
	"sync"

	"github.com/Oppen/gptrelay/backend"
)

// Backend answers "reply N" to the Nth prompt, in conversation "c1".
type Backend struct {
	mx      sync.Mutex
	prompts []backend.Prompt
	resets  []string
	// Err, when set, fails every call.
	Err error
	// Hold, when set, is waited on by every Submit.
	Hold chan struct{}
}

var _ backend.Backend = &Backend{}

func (f *Backend) Submit(ctx context.Context, p backend.Prompt) (backend.Reply, error) {
	f.mx.Lock()
	f.prompts = append(f.prompts, p)
	n := len(f.prompts)
	hold, err := f.Hold, f.Err
	f.mx.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return backend.Reply{}, ctx.Err()
		}
	}
	if err != nil {
		return backend.Reply{}, err
	}
	return backend.Reply{
		Text:           fmt.Sprint("reply ", n),
		ConversationID: "c1",
		ParentID:       fmt.Sprint("m", n),
	}, nil
}

func (f *Backend) Reset(_ context.Context, conversationID string) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.resets = append(f.resets, conversationID)
	return f.Err
}

func (f *Backend) Prompts() []backend.Prompt {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]backend.Prompt(nil), f.prompts...)
}

func (f *Backend) Resets() []string {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]string(nil), f.resets...)
}
