// Package bottest has fakes for exercising handlers without Telegram.
package bottest

import (
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/Oppen/gptrelay/access"
	"github.com/Oppen/gptrelay/bot"
	"github.com/Oppen/gptrelay/clock"
	"github.com/Oppen/gptrelay/convcache"
	"github.com/Oppen/gptrelay/plugin"
	"github.com/Oppen/gptrelay/relay"
)

// Sender records everything a handler sends.
type Sender struct {
	mx       sync.Mutex
	messages []tgbotapi.MessageConfig
	actions  []tgbotapi.ChatActionConfig
	// SendErr, when set, fails every Send.
	SendErr error
}

var _ bot.Sender = &Sender{}

func (s *Sender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.SendErr != nil {
		return tgbotapi.Message{}, s.SendErr
	}
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		s.messages = append(s.messages, m)
	}
	return tgbotapi.Message{MessageID: len(s.messages)}, nil
}

func (s *Sender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if a, ok := c.(tgbotapi.ChatActionConfig); ok {
		s.actions = append(s.actions, a)
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (s *Sender) Messages() []tgbotapi.MessageConfig {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]tgbotapi.MessageConfig(nil), s.messages...)
}

// Texts is the text of every message sent, in order.
func (s *Sender) Texts() []string {
	msgs := s.Messages()
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Text
	}
	return out
}

func (s *Sender) Actions() []tgbotapi.ChatActionConfig {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append([]tgbotapi.ChatActionConfig(nil), s.actions...)
}

// Epoch is the time fake clocks start at.
var Epoch = time.Date(2022, 12, 5, 10, 0, 0, 0, time.UTC)

// NewBot returns a bot talking to a fresh Sender, with a fake clock and a
// discarding logger. It has no relay; see WithRelay.
func NewBot() (*bot.Bot, *Sender, *clock.Fake) {
	s := &Sender{}
	fc := clock.NewFake(Epoch)
	log, _ := test.NewNullLogger()
	return &bot.Bot{
		API:     s,
		Clock:   fc,
		Log:     log,
		Started: Epoch,
		Tools:   plugin.NewRegistry(),
		Config: bot.Config{
			TTL:            bot.Duration{Duration: 24 * time.Hour},
			TypingInterval: bot.Duration{Duration: 4 * time.Second},
		},
	}, s, fc
}

// WithRelay wires a relay over be into b. Private chats are open to
// everybody and the group -100 is allowed.
func WithRelay(b *bot.Bot, be *Backend) {
	policy, err := access.NewPolicy(access.Wildcard, "-100")
	if err != nil {
		panic(err)
	}
	b.Cache = convcache.New(0, 0, convcache.WithClock(b.Clock))
	b.Relay = relay.New(policy, b.Cache, be, b.Log)
}

// Message builds a message from user in chat. Text starting with "/" is
// marked up as a command.
func Message(user, chat int64, chatType, text string) *tgbotapi.Update {
	m := &tgbotapi.Message{
		MessageID: 100,
		From:      &tgbotapi.User{ID: user, UserName: "user"},
		Chat:      &tgbotapi.Chat{ID: chat, Type: chatType},
		Date:      int(Epoch.Unix()),
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		length := len(text)
		if i := strings.IndexByte(text, ' '); i >= 0 {
			length = i
		}
		m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	}
	return &tgbotapi.Update{UpdateID: 1, Message: m}
}

// Private is a message in the private chat of user.
func Private(user int64, text string) *tgbotapi.Update {
	return Message(user, user, "private", text)
}
