package stat

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/Oppen/gptrelay/bot"
	"github.com/Oppen/gptrelay/module"
)

type Stat struct {
	module.DefaultCommandHandler
}

func init() {
	module.RegisterModule(&Stat{})
}

var _ module.Module = &Stat{}
var _ module.CommandHandler = &Stat{}

func (s *Stat) Init(*bot.Bot) error {
	module.RegisterCommandHandler("stat", s)
	return nil
}

func (s *Stat) HandleCommand(_ context.Context, b *bot.Bot, u *tgbotapi.Update) {
	b.Logger().WithField("chat_id", u.Message.Chat.ID).Debug("/stat")

	memStats := runtime.MemStats{}
	runtime.ReadMemStats(&memStats)

	msgText := Report(b, b.Now().Sub(b.Started), memStats.HeapAlloc)
	b.Send(u.Message.Chat.ID, msgText)
}

// Report renders the /stat answer.
func Report(b *bot.Bot, uptime time.Duration, heap uint64) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Uptime: %s\n", uptime.Truncate(time.Second))
	fmt.Fprintf(&sb, "Memory: %s\n", FormatBytes(heap))
	if b.Cache != nil {
		fmt.Fprintf(&sb, "Conversations: %d\n", b.Cache.Len())
	}
	if b.Tools != nil {
		names := []string{}
		for _, spec := range b.Tools.Specs() {
			names = append(names, spec.Name)
		}
		if len(names) > 0 {
			fmt.Fprintf(&sb, "Tools: %s\n", strings.Join(names, ", "))
		}
	}
	return sb.String()
}

// FormatBytes keeps at least two significant digits before the point.
func FormatBytes(n uint64) string {
	switch {
	case n > 10*1024*1024*1024:
		return fmt.Sprintf("%.2fGB", float64(n)/(1024*1024*1024))
	case n > 10*1024*1024:
		return fmt.Sprintf("%.2fMB", float64(n)/(1024*1024))
	case n > 10*1024:
		return fmt.Sprintf("%.2fkB", float64(n)/1024)
	default:
		return fmt.Sprintf("%dB", n)
	}
}

func (s *Stat) Help() string {
	return "Tells whether the bot is alive and reports statistics about it."
}
