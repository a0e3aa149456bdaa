// Package chat is the conversation itself: plain text goes to the AI backend,
// plus the /start, /reset and /help commands.
package chat

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/Oppen/gptrelay/bot"
	"github.com/Oppen/gptrelay/module"
	"github.com/Oppen/gptrelay/relay"
)

const (
	StartMessage = "I'm a ChatGPT bot, please talk to me!"
	helpFooter   = "Open source at " + relay.SourceURL
)

type Chat struct{}

func init() {
	module.RegisterModule(Chat{})
}

var _ module.Module = Chat{}

func (Chat) Init(*bot.Bot) error {
	module.RegisterCommandHandler("start", Start{})
	module.RegisterCommandHandler("reset", Reset{})
	module.RegisterCommandHandler("help", Help{})
	module.RegisterMessageHandler(Prompt{})
	return nil
}

type Start struct {
	module.DefaultCommandHandler
}

func (Start) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	b.Logger().WithField("chat_id", u.Message.Chat.ID).Info("bot started")
	b.Send(u.Message.Chat.ID, StartMessage)
}

func (Start) Help() string { return "Start the bot" }

// Reset starts the user's conversation over.
type Reset struct {
	module.DefaultCommandHandler
}

func (Reset) HandleCommand(ctx context.Context, b *bot.Bot, u *tgbotapi.Update) {
	req := bot.RequestFor(u.Message)
	b.Logger().WithField("user_id", req.UserID).Info("resetting the conversation")
	res := b.Relay.Reset(ctx, req)
	b.Send(u.Message.Chat.ID, res.Text)
}

func (Reset) Help() string { return "Reset conversation" }

// Help is open to everybody.
type Help struct{}

func (Help) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	var sb strings.Builder
	for _, c := range module.Commands() {
		fmt.Fprintf(&sb, "/%s - %s\n", c.Name, c.Help)
	}
	sb.WriteString("\n")
	sb.WriteString(helpFooter)
	b.Send(u.Message.Chat.ID, sb.String())
}

func (Help) Help() string             { return "Help menu" }
func (Help) TakesLong() bool          { return false }
func (Help) RequiresPrivileges() bool { return false }

// Prompt forwards plain text to the backend and answers with its reply,
// showing the typing action meanwhile.
type Prompt struct{}

func (Prompt) HandleCommand(ctx context.Context, b *bot.Bot, u *tgbotapi.Update) {
	m := u.Message
	if strings.TrimSpace(m.Text) == "" {
		return
	}
	req := bot.RequestFor(m)
	b.Logger().WithFields(logrus.Fields{
		"user_id": req.UserID,
		"chat_id": req.ChatID,
	}).Info("new message received")

	typing := b.StartTyping(ctx, m.Chat.ID)
	res := b.Relay.Ask(ctx, req)
	typing.Stop()

	if res.Kind == relay.Denied {
		b.Send(m.Chat.ID, res.Text)
		return
	}
	b.Reply(m, res.Text)
}

func (Prompt) Help() string             { return "talk to the bot" }
func (Prompt) TakesLong() bool          { return true }
func (Prompt) RequiresPrivileges() bool { return true }
