// Package relay carries a user's text to the AI backend and the answer back,
// keeping each user's conversation continuous across messages.
package relay

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Oppen/gptrelay/access"
	"github.com/Oppen/gptrelay/backend"
	"github.com/Oppen/gptrelay/convcache"
)

const (
	SourceURL = "https://github.com/Oppen/gptrelay"

	DisallowedMessage = "Sorry, you are not allowed to use this bot. You can check out the source code at " +
		SourceURL
	FallbackMessage = "I'm having some trouble talking to you, please try again later."
	ResetMessage    = "Done!"
)

type ResultKind int

const (
	Answered ResultKind = iota
	Denied
	BackendFailed
)

func (k ResultKind) String() string {
	switch k {
	case Answered:
		return "answered"
	case Denied:
		return "denied"
	case BackendFailed:
		return "backend failed"
	}
	return fmt.Sprintf("ResultKind(%d)", int(k))
}

// Result is what the user gets to see. Text is always set; Err is set for
// BackendFailed.
type Result struct {
	Kind ResultKind
	Text string
	Err  error
}

type Request struct {
	UserID int64
	ChatID int64
	Kind   access.ChatKind
	Text   string
}

type Relay struct {
	policy  access.Policy
	cache   *convcache.Cache
	backend backend.Backend
	users   *keyLock
	log     logrus.FieldLogger
}

func New(policy access.Policy, cache *convcache.Cache, b backend.Backend, log logrus.FieldLogger) *Relay {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Relay{
		policy:  policy,
		cache:   cache,
		backend: b,
		users:   newKeyLock(),
		log:     log,
	}
}

func (r *Relay) Allowed(req Request) bool {
	return r.policy.Allowed(req.UserID, req.ChatID, req.Kind)
}

// Ask forwards req.Text to the backend within the user's conversation.
// Backend failures never escape: they are logged and turned into
// FallbackMessage.
func (r *Relay) Ask(ctx context.Context, req Request) Result {
	if !r.Allowed(req) {
		return r.denied(req)
	}

	// Held across read, call and write so concurrent messages of one user
	// continue each other instead of forking from the same parent.
	unlock := r.users.Lock(req.UserID)
	defer unlock()

	entry := r.cache.GetOrCreate(req.UserID)
	reply, err := r.submit(ctx, backend.Prompt{
		Text:           req.Text,
		ConversationID: entry.ConversationID,
		ParentID:       entry.ParentID,
	})
	if err != nil {
		return r.failed(req, err)
	}

	r.cache.Put(req.UserID, convcache.Entry{
		ConversationID: reply.ConversationID,
		ParentID:       reply.ParentID,
	})
	return Result{Kind: Answered, Text: reply.Text}
}

// Reset drops the backend thread of the user's conversation and forgets the
// user's continuity tokens, so the next message starts over.
func (r *Relay) Reset(ctx context.Context, req Request) Result {
	if !r.Allowed(req) {
		return r.denied(req)
	}

	unlock := r.users.Lock(req.UserID)
	defer unlock()

	entry, _ := r.cache.Forget(req.UserID)
	if err := r.backend.Reset(ctx, entry.ConversationID); err != nil {
		return r.failed(req, errors.Wrap(err, "reset"))
	}
	return Result{Kind: Answered, Text: ResetMessage}
}

func (r *Relay) submit(ctx context.Context, p backend.Prompt) (reply backend.Reply, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Errorf("backend panic: %v", rec)
		}
	}()
	reply, err = r.backend.Submit(ctx, p)
	if err == nil && reply.ParentID == "" {
		err = errors.New("backend reply without parent id")
	}
	return reply, err
}

func (r *Relay) denied(req Request) Result {
	r.log.WithFields(logrus.Fields{
		"user_id": req.UserID,
		"chat_id": req.ChatID,
		"chat":    req.Kind.String(),
	}).Info("not allowed to use the bot")
	return Result{Kind: Denied, Text: DisallowedMessage}
}

func (r *Relay) failed(req Request, err error) Result {
	r.log.WithFields(logrus.Fields{
		"user_id": req.UserID,
		"chat_id": req.ChatID,
		"error":   err,
	}).Error("error while getting the response")
	return Result{Kind: BackendFailed, Text: FallbackMessage, Err: err}
}
