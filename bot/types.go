package bot

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/Oppen/gptrelay/access"
	"github.com/Oppen/gptrelay/clock"
	"github.com/Oppen/gptrelay/convcache"
	"github.com/Oppen/gptrelay/plugin"
	"github.com/Oppen/gptrelay/relay"
	"github.com/Oppen/gptrelay/typing"
)

// Sender is the part of *tgbotapi.BotAPI handlers talk to.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

var _ Sender = &tgbotapi.BotAPI{}

type Config struct {
	// Don't persist, it'd be meaningless
	Root  string `json:"-"`
	Token string `json:"api_token"`

	NumWorkers  int      `json:"workers"`
	NumBatches  int      `json:"batches"`
	PollTimeout int      `json:"poll_timeout"`
	TTL         Duration `json:"update_ttl"`

	AllowedUserIDs string `json:"allowed_user_ids"`
	AllowedChatIDs string `json:"allowed_chat_ids"`

	OpenAIKey     string `json:"openai_api_key"`
	OpenAIModel   string `json:"openai_model"`
	OpenAIBaseURL string `json:"openai_base_url"`
	HistoryTurns  int    `json:"history_turns"`

	DeepLKey string `json:"deepl_api_key"`
	DeepLPro string `json:"deepl_api_pro"`

	CacheSize      int      `json:"cache_size"`
	CacheTTL       Duration `json:"cache_ttl"`
	TypingInterval Duration `json:"typing_interval"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Redacted is a copy safe to write to disk or logs.
func (c Config) Redacted() Config {
	for _, s := range []*string{&c.Token, &c.OpenAIKey, &c.DeepLKey} {
		if *s != "" {
			*s = "REDACTED"
		}
	}
	return c
}

type Bot struct {
	API      Sender `json:"-"`
	UserName string `json:"-"`
	Config   Config `json:"global_config"`

	Relay *relay.Relay       `json:"-"`
	Cache *convcache.Cache   `json:"-"`
	Tools *plugin.Registry   `json:"-"`
	Clock clock.Clock        `json:"-"`
	Log   logrus.FieldLogger `json:"-"`

	Started time.Time `json:"-"`
}

var _ typing.Signaler = &Bot{}

func (b *Bot) Now() time.Time {
	if b.Clock == nil {
		return time.Now()
	}
	return b.Clock.Now()
}

func (b *Bot) Logger() logrus.FieldLogger {
	if b.Log == nil {
		return logrus.StandardLogger()
	}
	return b.Log
}

// SendTyping shows the "typing…" chat action.
func (b *Bot) SendTyping(_ context.Context, chatID int64) error {
	_, err := b.API.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

func (b *Bot) StartTyping(ctx context.Context, chatID int64) *typing.Indicator {
	return typing.Start(ctx, b, chatID, b.Config.TypingInterval.Duration, b.Clock, b.Logger())
}

// Send delivers a plain message with link previews disabled.
func (b *Bot) Send(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.DisableWebPagePreview = true
	b.deliver(msg)
}

// Reply answers m in Markdown. Should Telegram refuse the markup, the text is
// sent again unformatted.
func (b *Bot) Reply(m *tgbotapi.Message, text string) {
	msg := tgbotapi.NewMessage(m.Chat.ID, text)
	msg.ReplyToMessageID = m.MessageID
	msg.ParseMode = tgbotapi.ModeMarkdown
	_, err := b.API.Send(msg)
	if err == nil {
		return
	}
	b.Logger().WithFields(logrus.Fields{
		"chat_id": m.Chat.ID,
		"error":   err,
	}).Debug("markdown reply refused, resending as plain text")
	msg.ParseMode = ""
	b.deliver(msg)
}

func (b *Bot) deliver(msg tgbotapi.MessageConfig) {
	if _, err := b.API.Send(msg); err != nil {
		b.Logger().WithFields(logrus.Fields{
			"chat_id": msg.ChatID,
			"error":   err,
		}).Error("send failed")
	}
}

// RequestFor describes m for the relay.
func RequestFor(m *tgbotapi.Message) relay.Request {
	req := relay.Request{
		ChatID: m.Chat.ID,
		Kind:   access.KindOf(m.Chat.Type),
		Text:   m.Text,
	}
	if m.From != nil {
		req.UserID = m.From.ID
	}
	return req
}
