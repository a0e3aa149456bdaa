package chat

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Oppen/gptrelay/backend"
	"github.com/Oppen/gptrelay/bot"
	"github.com/Oppen/gptrelay/bot/bottest"
	"github.com/Oppen/gptrelay/clock"
	"github.com/Oppen/gptrelay/convcache"
	"github.com/Oppen/gptrelay/module"
	"github.com/Oppen/gptrelay/relay"
)

func newChatBot(t *testing.T) (*bot.Bot, *bottest.Sender, *clock.Fake, *bottest.Backend) {
	t.Helper()
	b, s, fc := bottest.NewBot()
	be := &bottest.Backend{}
	bottest.WithRelay(b, be)
	require.NoError(t, Chat{}.Init(b))
	return b, s, fc, be
}

func TestPrompt(t *testing.T) {
	b, s, _, be := newChatBot(t)
	u := bottest.Private(42, "hello")

	module.GetMessageHandler().HandleCommand(context.Background(), b, u)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "reply 1", msgs[0].Text)
	assert.Equal(t, u.Message.MessageID, msgs[0].ReplyToMessageID)
	assert.Equal(t, tgbotapi.ModeMarkdown, msgs[0].ParseMode)

	require.Len(t, be.Prompts(), 1)
	assert.Equal(t, "", be.Prompts()[0].ConversationID)
	assert.NotEmpty(t, be.Prompts()[0].ParentID)
	assert.Equal(t, convcache.Entry{ConversationID: "c1", ParentID: "m1"}, b.Cache.GetOrCreate(42))
}

func TestPromptTypingUntilAnswered(t *testing.T) {
	b, s, fc, be := newChatBot(t)
	be.Hold = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		Prompt{}.HandleCommand(context.Background(), b, bottest.Private(42, "think hard"))
	}()

	require.Eventually(t, func() bool { return len(s.Actions()) == 1 && fc.Waiters() == 1 }, time.Second, time.Millisecond)
	fc.Advance(4 * time.Second)
	require.Eventually(t, func() bool { return len(s.Actions()) == 2 && fc.Waiters() == 1 }, time.Second, time.Millisecond)
	assert.Empty(t, s.Messages())

	close(be.Hold)
	<-done

	assert.Equal(t, []string{"reply 1"}, s.Texts())
	fc.Advance(time.Minute)
	assert.Never(t, func() bool { return len(s.Actions()) != 2 }, 50*time.Millisecond, time.Millisecond)
	for _, a := range s.Actions() {
		assert.Equal(t, tgbotapi.ChatTyping, a.Action)
		assert.Equal(t, int64(42), a.ChatID)
	}
}

func TestPromptBackendFailure(t *testing.T) {
	b, s, _, be := newChatBot(t)
	be.Err = errors.New("502 bad gateway")

	Prompt{}.HandleCommand(context.Background(), b, bottest.Private(42, "hello"))

	assert.Equal(t, []string{relay.FallbackMessage}, s.Texts())
}

func TestPromptDeniedInGroup(t *testing.T) {
	b, s, _, be := newChatBot(t)

	Prompt{}.HandleCommand(context.Background(), b, bottest.Message(42, -555, "group", "hello"))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, relay.DisallowedMessage, msgs[0].Text)
	assert.Zero(t, msgs[0].ReplyToMessageID)
	assert.Empty(t, be.Prompts())
}

func TestPromptIgnoresBlank(t *testing.T) {
	b, s, _, be := newChatBot(t)
	Prompt{}.HandleCommand(context.Background(), b, bottest.Private(42, "   "))
	assert.Empty(t, s.Messages())
	assert.Empty(t, be.Prompts())
}

func TestStart(t *testing.T) {
	b, s, _, _ := newChatBot(t)
	module.GetCommandHandler("start").HandleCommand(context.Background(), b, bottest.Private(42, "/start"))
	assert.Equal(t, []string{StartMessage}, s.Texts())
}

func TestResetForgetsConversation(t *testing.T) {
	b, s, _, be := newChatBot(t)
	ctx := context.Background()

	Prompt{}.HandleCommand(ctx, b, bottest.Private(42, "hello"))
	module.GetCommandHandler("reset").HandleCommand(ctx, b, bottest.Private(42, "/reset"))
	Prompt{}.HandleCommand(ctx, b, bottest.Private(42, "again"))

	assert.Equal(t, []string{"reply 1", relay.ResetMessage, "reply 2"}, s.Texts())
	assert.Equal(t, []string{"c1"}, be.Resets())

	prompts := be.Prompts()
	require.Len(t, prompts, 2)
	assert.Equal(t, backend.Prompt{Text: "again", ParentID: prompts[1].ParentID}, prompts[1])
	assert.NotEqual(t, "m1", prompts[1].ParentID)
}

func TestHelp(t *testing.T) {
	b, s, _, _ := newChatBot(t)

	h := module.GetCommandHandler("help")
	assert.False(t, h.RequiresPrivileges())
	h.HandleCommand(context.Background(), b, bottest.Private(42, "/help"))

	require.Len(t, s.Texts(), 1)
	assert.Equal(t,
		"/help - Help menu\n/reset - Reset conversation\n/start - Start the bot\n\n"+helpFooter,
		s.Texts()[0])
	assert.Contains(t, s.Texts()[0], "https://github.com/Oppen/gptrelay")
}
