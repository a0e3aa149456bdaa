// Package translate exposes the translation tool as the /translate command.
package translate

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/Oppen/gptrelay/bot"
	"github.com/Oppen/gptrelay/module"
)

const (
	Function = "translate"

	usage         = "Usage: /translate <language> <text>, or reply to a message with /translate <language>"
	failedMessage = "I couldn't translate that, please try again later."
)

type Translate struct{}

func init() {
	module.RegisterModule(Translate{})
}

var _ module.Module = Translate{}

// Init only installs the command when a translation tool is registered.
func (Translate) Init(b *bot.Bot) error {
	if b.Tools == nil {
		return nil
	}
	if _, ok := b.Tools.Source(Function); !ok {
		b.Logger().Info("no translation tool configured, /translate disabled")
		return nil
	}
	module.RegisterCommandHandler("translate", Handler{})
	return nil
}

type Handler struct{}

// Args splits the command arguments into the target language and the text.
// Without text of its own, the text of the replied-to message is used.
func Args(m *tgbotapi.Message) (lang, text string) {
	args := strings.TrimSpace(m.CommandArguments())
	if i := strings.IndexAny(args, " \n\t"); i >= 0 {
		lang, text = args[:i], strings.TrimSpace(args[i+1:])
	} else {
		lang = args
	}
	if text == "" && m.ReplyToMessage != nil {
		text = m.ReplyToMessage.Text
	}
	return lang, text
}

func (Handler) HandleCommand(ctx context.Context, b *bot.Bot, u *tgbotapi.Update) {
	m := u.Message
	lang, text := Args(m)
	if lang == "" || text == "" {
		b.Send(m.Chat.ID, usage)
		return
	}

	typing := b.StartTyping(ctx, m.Chat.ID)
	out, err := b.Tools.Execute(ctx, Function, map[string]any{
		"text":        text,
		"to_language": lang,
	})
	typing.Stop()

	if err != nil {
		b.Logger().WithFields(logrus.Fields{
			"chat_id":  m.Chat.ID,
			"language": lang,
			"error":    err,
		}).Error("translation failed")
		b.Reply(m, failedMessage)
		return
	}
	b.Reply(m, out)
}

func (Handler) Help() string {
	return "Translate text, e.g. /translate it good morning"
}
func (Handler) TakesLong() bool          { return true }
func (Handler) RequiresPrivileges() bool { return true }
