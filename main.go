package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Oppen/gptrelay/access"
	"github.com/Oppen/gptrelay/backend/openai"
	"github.com/Oppen/gptrelay/bot"
	"github.com/Oppen/gptrelay/clock"
	"github.com/Oppen/gptrelay/config"
	"github.com/Oppen/gptrelay/convcache"
	"github.com/Oppen/gptrelay/dispatch"
	"github.com/Oppen/gptrelay/module"
	"github.com/Oppen/gptrelay/plugin"
	"github.com/Oppen/gptrelay/plugin/deepl"
	"github.com/Oppen/gptrelay/relay"
	"github.com/Oppen/gptrelay/util/zjson"

	// Handlers, for initialization only.
	_ "github.com/Oppen/gptrelay/chat"
	_ "github.com/Oppen/gptrelay/stat"
	_ "github.com/Oppen/gptrelay/translate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := config.New()
	cmd := &cobra.Command{
		Use:          "gptrelay",
		Short:        "Telegram bot relaying chats to ChatGPT",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}
	config.BindFlags(cmd, v)
	return cmd
}

// newTools registers the configured plugins. A plugin with partial settings
// is an error, not a silently missing tool.
func newTools(cfg bot.Config, log logrus.FieldLogger) (*plugin.Registry, error) {
	tools := plugin.NewRegistry()
	if cfg.DeepLKey == "" && cfg.DeepLPro == "" {
		log.Info("DeepL not configured")
		return tools, nil
	}
	tr, err := deepl.New(cfg.DeepLKey, cfg.DeepLPro)
	if err != nil {
		return nil, err
	}
	if err := tools.Register(tr); err != nil {
		return nil, err
	}
	return tools, nil
}

func run(cfg bot.Config) error {
	log, err := config.Logger(cfg)
	if err != nil {
		return err
	}

	policy, err := access.NewPolicy(cfg.AllowedUserIDs, cfg.AllowedChatIDs)
	if err != nil {
		return err
	}
	tools, err := newTools(cfg, log)
	if err != nil {
		return err
	}

	transcripts, err := openai.OpenTranscripts(cfg.CacheTTL.Duration, log.WithField("component", "transcripts"))
	if err != nil {
		return err
	}
	defer transcripts.Close()
	chatgpt := openai.New(
		openai.NewAPI(cfg.OpenAIKey, cfg.OpenAIBaseURL),
		transcripts,
		openai.WithModel(cfg.OpenAIModel),
		openai.WithMaxTurns(cfg.HistoryTurns),
	)
	cache := convcache.New(cfg.CacheSize, cfg.CacheTTL.Duration)

	tgbot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return errors.Wrap(err, "authorization failed")
	}

	b := &bot.Bot{
		API:      tgbot,
		UserName: tgbot.Self.UserName,
		Config:   cfg,
		Relay:    relay.New(policy, cache, chatgpt, log),
		Cache:    cache,
		Tools:    tools,
		Clock:    clock.Real{},
		Log:      log,
		Started:  time.Now(),
	}

	defer func() {
		// In case of crash we want a copy of the effective config, so an
		// operator can see what the bot was running with.
		// This is also known as "CπCO".
		if r := recover(); r != nil {
			path := cfg.Root + "bot_config.panicked.zz"
			if err := zjson.Store(path, b.Config.Redacted()); err != nil {
				log.WithField("error", err).Error("config stage failed")
			}
			// Now we can panic again
			panic(r)
		}
	}()

	log.WithField("user", b.UserName).Info("authorized")

	// Let's register our handlers.
	module.InitModules(b)

	u := tgbotapi.NewUpdate(0)
	// May cause long shutdown, but reduces traffic and CPU usage
	u.Timeout = cfg.PollTimeout
	u.AllowedUpdates = []string{"message"}

	tgbot.Buffer = dispatch.WorkQueueLen
	updates := tgbot.GetUpdatesChan(u)

	done := make(chan struct{})
	go func() {
		defer close(done)
		dispatch.Run(context.Background(), b, updates)
	}()

	sCh := make(chan os.Signal, 1)
	signal.Notify(sCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	s := <-sCh
	log.WithField("signal", s.String()).Info("let's stop")

	// `StopReceivingUpdates` closes the update channel, which lets the
	// workers drain what's left and return.
	tgbot.StopReceivingUpdates()
	log.Info("waiting for the workers")
	<-done
	return nil
}
