package module

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/arbovm/levenshtein"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/Oppen/gptrelay/bot"
	"github.com/Oppen/gptrelay/relay"
)

// Go doesn't have superb support for runtime modules.
// Once loaded, you can't unload it, and it only initializes once.
// Thus, we only care about modules as a way to structure code.
// Any new functionality should register a `Module` with `RegisterModule` to be
// able to initialize all parts that depend on the main configuration and/or
// the connection with Telegram to be up.
// This should be done in the `init` function of each package.
// Most of the work done in `Init` should point towards properly installing the
// `CommandHandler`s.
type Module interface {
	Init(*bot.Bot) error
}

var (
	mx                 sync.RWMutex
	moduleInitializers = []Module{}
	handlers           = make(map[string]CommandHandler)
	messageHandler     CommandHandler
)

// InitModules initializes every registered module. A module that fails is
// logged and skipped; its commands stay unregistered.
func InitModules(b *bot.Bot) {
	mx.RLock()
	modules := append([]Module(nil), moduleInitializers...)
	mx.RUnlock()

	for _, m := range modules {
		moduleName := reflect.TypeOf(m).String()
		log := b.Logger().WithField("module", moduleName)
		log.Debug("initializing")
		if err := m.Init(b); err != nil {
			log.WithField("error", err).Error("initialization failed")
		}
	}
}

func RegisterModule(module Module) {
	mx.Lock()
	defer mx.Unlock()
	moduleInitializers = append(moduleInitializers, module)
}

// Generally, what we refer as "functionality" is really one or more commands.
// Those should be registered by the module's `Init` function by calling
// `RegisterCommandHandler` with the command name and a `CommandHandler`.
// `CommandHandler`s implement a `Help` method that returns a description of
// what it does and a `HandleCommand` one that responds to an update.
// `RequiresPrivileges` handlers only run for chats the access policy allows,
// and `TakesLong` ones are queued to the batch workers so quick commands
// don't wait behind the backend.
type CommandHandler interface {
	HandleCommand(context.Context, *bot.Bot, *tgbotapi.Update)
	Help() string
	TakesLong() bool
	RequiresPrivileges() bool
}

// This should be called by either init functions of packages or
// by tests to provide a mock or similar functionality.
func RegisterCommandHandler(cmd string, handler CommandHandler) {
	mx.Lock()
	defer mx.Unlock()
	handlers[cmd] = handler
}

// RegisterMessageHandler installs the handler for text that isn't a command.
func RegisterMessageHandler(handler CommandHandler) {
	mx.Lock()
	defer mx.Unlock()
	messageHandler = handler
}

// This will be called by a worker when a command arrives.
func GetCommandHandler(cmd string) CommandHandler {
	mx.RLock()
	defer mx.RUnlock()
	handler, ok := handlers[cmd]
	if !ok {
		return InvalidCommandHandler{}
	}
	return handler
}

// GetMessageHandler returns nil when nobody handles plain text.
func GetMessageHandler() CommandHandler {
	mx.RLock()
	defer mx.RUnlock()
	return messageHandler
}

type Command struct {
	Name string
	Help string
}

// Commands lists the registered commands sorted by name.
func Commands() []Command {
	mx.RLock()
	defer mx.RUnlock()
	out := make([]Command, 0, len(handlers))
	for name, h := range handlers {
		out = append(out, Command{Name: name, Help: h.Help()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// maxSuggestDistance bounds how far off a typo may be and still get a hint.
const maxSuggestDistance = 2

// Suggest returns the registered command closest to cmd, if it's close.
func Suggest(cmd string) (string, bool) {
	cmd = strings.ToLower(cmd)
	best, bestDist := "", maxSuggestDistance+1
	for _, c := range Commands() {
		if d := levenshtein.Distance(cmd, c.Name); d < bestDist {
			best, bestDist = c.Name, d
		}
	}
	return best, best != ""
}

// For unknown commands.
type InvalidCommandHandler struct{}

var _ CommandHandler = InvalidCommandHandler{}

func (InvalidCommandHandler) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	cmd := u.Message.Command()
	msgText := fmt.Sprintf("/%s: unknown command, see /help", cmd)
	if s, ok := Suggest(cmd); ok {
		msgText = fmt.Sprintf("/%s: unknown command, did you mean /%s?", cmd, s)
	}
	b.Logger().WithFields(logrus.Fields{
		"command": cmd,
		"chat_id": u.Message.Chat.ID,
	}).Debug("unknown command")
	b.Send(u.Message.Chat.ID, msgText)
}
func (InvalidCommandHandler) Help() string {
	return "unknown command"
}
func (InvalidCommandHandler) TakesLong() bool {
	return false
}
func (InvalidCommandHandler) RequiresPrivileges() bool {
	return false
}

// Convenience type to embed in handlers that have a "default" behavior, i.e.,
// require the chat to be allowed but answer quickly, so they don't have to
// deal with this boilerplate.
// Note it doesn't implement the whole interface, nor should it, as all
// commands should implement their own handlers and help messages.
type DefaultCommandHandler struct{}

func (DefaultCommandHandler) TakesLong() bool {
	return false
}
func (DefaultCommandHandler) RequiresPrivileges() bool {
	return true
}

// Deny tells the user they may not use the bot.
func Deny(b *bot.Bot, u *tgbotapi.Update) {
	m := u.Message
	fields := logrus.Fields{"chat_id": m.Chat.ID, "chat": m.Chat.Type}
	if m.From != nil {
		fields["user_id"] = m.From.ID
		fields["user"] = m.From.UserName
	}
	b.Logger().WithFields(fields).Info("not allowed to use the bot")
	b.Send(m.Chat.ID, relay.DisallowedMessage)
}
