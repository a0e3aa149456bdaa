package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oppen/gptrelay/access"
	"github.com/Oppen/gptrelay/backend"
	"github.com/Oppen/gptrelay/convcache"
)

type fakeBackend struct {
	mx      sync.Mutex
	prompts []backend.Prompt
	resets  []string
	n       int
	err     error
	panics  bool
	gate    chan struct{}
	reply   func(p backend.Prompt, n int) backend.Reply
}

func (f *fakeBackend) Submit(_ context.Context, p backend.Prompt) (backend.Reply, error) {
	f.mx.Lock()
	f.prompts = append(f.prompts, p)
	f.n++
	n := f.n
	gate := f.gate
	f.gate = nil
	f.mx.Unlock()

	if gate != nil {
		<-gate
	}
	if f.panics {
		panic("backend exploded")
	}
	if f.err != nil {
		return backend.Reply{}, f.err
	}
	if f.reply != nil {
		return f.reply(p, n), nil
	}
	return backend.Reply{Text: fmt.Sprint("reply ", n), ConversationID: "c1", ParentID: fmt.Sprint("m", n)}, nil
}

func (f *fakeBackend) Reset(_ context.Context, conversationID string) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.resets = append(f.resets, conversationID)
	return f.err
}

func (f *fakeBackend) calls() []backend.Prompt {
	f.mx.Lock()
	defer f.mx.Unlock()
	return append([]backend.Prompt(nil), f.prompts...)
}

func newTestRelay(t *testing.T, b backend.Backend) (*Relay, *convcache.Cache, *test.Hook) {
	t.Helper()
	policy, err := access.NewPolicy("*", "-100")
	require.NoError(t, err)
	cache := convcache.New(0, 0, convcache.WithTokenSource(func() string { return "fresh" }))
	log, hook := test.NewNullLogger()
	return New(policy, cache, b, log), cache, hook
}

func private(user int64, text string) Request {
	return Request{UserID: user, ChatID: user, Kind: access.Private, Text: text}
}

func TestAskEndToEnd(t *testing.T) {
	b := &fakeBackend{reply: func(p backend.Prompt, _ int) backend.Reply {
		return backend.Reply{Text: "hi!", ConversationID: "c1", ParentID: "m1"}
	}}
	r, cache, _ := newTestRelay(t, b)

	res := r.Ask(context.Background(), private(42, "hello"))

	assert.Equal(t, Result{Kind: Answered, Text: "hi!"}, res)
	require.Len(t, b.calls(), 1)
	assert.Equal(t, backend.Prompt{Text: "hello", ConversationID: "", ParentID: "fresh"}, b.calls()[0])
	assert.Equal(t, convcache.Entry{ConversationID: "c1", ParentID: "m1"}, cache.GetOrCreate(42))
}

func TestAskContinues(t *testing.T) {
	b := &fakeBackend{}
	r, _, _ := newTestRelay(t, b)
	ctx := context.Background()

	r.Ask(ctx, private(42, "one"))
	r.Ask(ctx, private(42, "two"))

	calls := b.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "c1", calls[1].ConversationID)
	assert.Equal(t, "m1", calls[1].ParentID)
}

func TestAskBackendError(t *testing.T) {
	b := &fakeBackend{err: errors.New("connection reset")}
	r, cache, hook := newTestRelay(t, b)

	cache.Put(42, convcache.Entry{ConversationID: "c0", ParentID: "m0"})
	res := r.Ask(context.Background(), private(42, "hello"))

	assert.Equal(t, BackendFailed, res.Kind)
	assert.Equal(t, FallbackMessage, res.Text)
	assert.Error(t, res.Err)
	// Continuity is untouched by a failed exchange.
	assert.Equal(t, convcache.Entry{ConversationID: "c0", ParentID: "m0"}, cache.GetOrCreate(42))

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
}

func TestAskBackendPanic(t *testing.T) {
	r, _, _ := newTestRelay(t, &fakeBackend{panics: true})

	var res Result
	assert.NotPanics(t, func() {
		res = r.Ask(context.Background(), private(42, "hello"))
	})
	assert.Equal(t, BackendFailed, res.Kind)
	assert.Equal(t, FallbackMessage, res.Text)
}

func TestAskMalformedReply(t *testing.T) {
	b := &fakeBackend{reply: func(backend.Prompt, int) backend.Reply {
		return backend.Reply{Text: "??"}
	}}
	r, _, _ := newTestRelay(t, b)

	res := r.Ask(context.Background(), private(42, "hello"))
	assert.Equal(t, BackendFailed, res.Kind)
}

func TestAskDenied(t *testing.T) {
	b := &fakeBackend{}
	r, cache, _ := newTestRelay(t, b)

	res := r.Ask(context.Background(), Request{UserID: 42, ChatID: -200, Kind: access.Group, Text: "hello"})

	assert.Equal(t, Result{Kind: Denied, Text: DisallowedMessage}, res)
	assert.True(t, strings.HasSuffix(res.Text, "https://github.com/Oppen/gptrelay"))
	assert.Empty(t, b.calls())
	assert.Equal(t, 0, cache.Len())

	res = r.Ask(context.Background(), Request{UserID: 42, ChatID: -100, Kind: access.SuperGroup, Text: "hello"})
	assert.Equal(t, Answered, res.Kind)
}

func TestAskSerialisesUser(t *testing.T) {
	gate := make(chan struct{})
	b := &fakeBackend{gate: gate}
	r, _, _ := newTestRelay(t, b)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.Ask(ctx, private(42, "first"))
	}()
	require.Eventually(t, func() bool { return len(b.calls()) == 1 }, time.Second, time.Millisecond)

	go func() {
		defer wg.Done()
		r.Ask(ctx, private(42, "second"))
	}()
	// Another user is not held up.
	assert.Equal(t, Answered, r.Ask(ctx, private(7, "other")).Kind)
	assert.Never(t, func() bool { return len(b.calls()) > 2 }, 50*time.Millisecond, time.Millisecond)

	close(gate)
	wg.Wait()

	calls := b.calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "second", calls[2].Text)
	assert.Equal(t, "c1", calls[2].ConversationID)
	assert.Equal(t, "m1", calls[2].ParentID)
	assert.Equal(t, 0, r.users.size())
}

func TestReset(t *testing.T) {
	b := &fakeBackend{}
	r, cache, _ := newTestRelay(t, b)
	ctx := context.Background()

	r.Ask(ctx, private(42, "hello"))
	res := r.Reset(ctx, private(42, ""))

	assert.Equal(t, Result{Kind: Answered, Text: ResetMessage}, res)
	assert.Equal(t, []string{"c1"}, b.resets)
	assert.Equal(t, convcache.Entry{ParentID: "fresh"}, cache.GetOrCreate(42))

	// Resetting a user with no conversation still succeeds.
	res = r.Reset(ctx, private(9, ""))
	assert.Equal(t, Answered, res.Kind)
	assert.Equal(t, []string{"c1", ""}, b.resets)
}

func TestResetDeniedAndFailed(t *testing.T) {
	b := &fakeBackend{}
	r, _, _ := newTestRelay(t, b)
	ctx := context.Background()

	res := r.Reset(ctx, Request{UserID: 42, ChatID: -5, Kind: access.Group})
	assert.Equal(t, Denied, res.Kind)
	assert.Empty(t, b.resets)

	b.err = errors.New("gone")
	res = r.Reset(ctx, private(42, ""))
	assert.Equal(t, BackendFailed, res.Kind)
	assert.Equal(t, FallbackMessage, res.Text)
}
