// Package config reads the bot configuration.
//
// Values come, from highest to lowest precedence, from command line flags,
// the environment, an optional zlib-compressed JSON file (see util/zjson)
// and the defaults below. Keys match the JSON names of bot.Config, so a
// configuration dumped by the bot can be loaded back.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Oppen/gptrelay/access"
	"github.com/Oppen/gptrelay/bot"
	"github.com/Oppen/gptrelay/util/zjson"
)

const (
	KeyFile = "config"

	KeyToken          = "api_token"
	KeyWorkers        = "workers"
	KeyBatches        = "batches"
	KeyPollTimeout    = "poll_timeout"
	KeyUpdateTTL      = "update_ttl"
	KeyAllowedUsers   = "allowed_user_ids"
	KeyAllowedChats   = "allowed_chat_ids"
	KeyOpenAIKey      = "openai_api_key"
	KeyOpenAIModel    = "openai_model"
	KeyOpenAIBaseURL  = "openai_base_url"
	KeyHistoryTurns   = "history_turns"
	KeyDeepLKey       = "deepl_api_key"
	KeyDeepLPro       = "deepl_api_pro"
	KeyCacheSize      = "cache_size"
	KeyCacheTTL       = "cache_ttl"
	KeyTypingInterval = "typing_interval"
	KeyLogLevel       = "log_level"
	KeyLogFormat      = "log_format"
	KeyRoot           = "root"
)

var ErrMissing = errors.New("missing required setting")

var envNames = map[string]string{
	KeyToken:          "TELEGRAM_BOT_TOKEN",
	KeyWorkers:        "BOT_WORKERS",
	KeyBatches:        "BOT_BATCHES",
	KeyPollTimeout:    "BOT_POLL_TIMEOUT",
	KeyUpdateTTL:      "BOT_UPDATE_TTL",
	KeyAllowedUsers:   "ALLOWED_TELEGRAM_USER_IDS",
	KeyAllowedChats:   "ALLOWED_TELEGRAM_CHAT_IDS",
	KeyOpenAIKey:      "OPENAI_API_KEY",
	KeyOpenAIModel:    "OPENAI_MODEL",
	KeyOpenAIBaseURL:  "OPENAI_BASE_URL",
	KeyHistoryTurns:   "HISTORY_TURNS",
	KeyDeepLKey:       "DEEPL_API_KEY",
	KeyDeepLPro:       "DEEPL_API_PRO",
	KeyCacheSize:      "CONVERSATION_CACHE_SIZE",
	KeyCacheTTL:       "CONVERSATION_CACHE_TTL",
	KeyTypingInterval: "TYPING_INTERVAL",
	KeyLogLevel:       "LOG_LEVEL",
	KeyLogFormat:      "LOG_FORMAT",
	KeyRoot:           "BOT_ROOT",
}

// New returns a viper instance with defaults and environment bindings.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault(KeyWorkers, 8)
	v.SetDefault(KeyBatches, 2)
	v.SetDefault(KeyPollTimeout, 60)
	v.SetDefault(KeyUpdateTTL, 24*time.Hour)
	v.SetDefault(KeyAllowedUsers, access.Wildcard)
	v.SetDefault(KeyAllowedChats, "")
	v.SetDefault(KeyOpenAIModel, "gpt-3.5-turbo")
	v.SetDefault(KeyHistoryTurns, 20)
	v.SetDefault(KeyCacheSize, 1000)
	v.SetDefault(KeyCacheTTL, 30*time.Minute)
	v.SetDefault(KeyTypingInterval, 4*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")

	for key, env := range envNames {
		_ = v.BindEnv(key, env)
	}
	return v
}

// BindFlags registers the command line flags on cmd and binds them into v.
func BindFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.PersistentFlags()
	flags.String("config", "", "Optional .zz configuration file.")
	flags.String("log-level", "", "Logging level: debug|info|warn|error.")
	flags.String("log-format", "", "Logging format: text|json.")
	flags.Int("workers", 0, "Workers for quick commands.")
	flags.Int("batches", 0, "Workers for backend requests.")

	_ = v.BindPFlag(KeyFile, flags.Lookup("config"))
	_ = v.BindPFlag(KeyLogLevel, flags.Lookup("log-level"))
	_ = v.BindPFlag(KeyLogFormat, flags.Lookup("log-format"))
	_ = v.BindPFlag(KeyWorkers, flags.Lookup("workers"))
	_ = v.BindPFlag(KeyBatches, flags.Lookup("batches"))
}

// Load merges the configuration file, if any, and validates the result.
func Load(v *viper.Viper) (bot.Config, error) {
	if path := v.GetString(KeyFile); path != "" {
		var fromFile map[string]interface{}
		if err := zjson.Load(path, &fromFile); err != nil {
			return bot.Config{}, errors.Wrap(err, "config file")
		}
		if err := v.MergeConfigMap(fromFile); err != nil {
			return bot.Config{}, errors.Wrap(err, "config file")
		}
	}

	c := bot.Config{
		Root:           v.GetString(KeyRoot),
		Token:          strings.TrimSpace(v.GetString(KeyToken)),
		NumWorkers:     v.GetInt(KeyWorkers),
		NumBatches:     v.GetInt(KeyBatches),
		PollTimeout:    v.GetInt(KeyPollTimeout),
		TTL:            bot.Duration{Duration: v.GetDuration(KeyUpdateTTL)},
		AllowedUserIDs: v.GetString(KeyAllowedUsers),
		AllowedChatIDs: v.GetString(KeyAllowedChats),
		OpenAIKey:      strings.TrimSpace(v.GetString(KeyOpenAIKey)),
		OpenAIModel:    v.GetString(KeyOpenAIModel),
		OpenAIBaseURL:  v.GetString(KeyOpenAIBaseURL),
		HistoryTurns:   v.GetInt(KeyHistoryTurns),
		DeepLKey:       v.GetString(KeyDeepLKey),
		DeepLPro:       v.GetString(KeyDeepLPro),
		CacheSize:      v.GetInt(KeyCacheSize),
		CacheTTL:       bot.Duration{Duration: v.GetDuration(KeyCacheTTL)},
		TypingInterval: bot.Duration{Duration: v.GetDuration(KeyTypingInterval)},
		LogLevel:       v.GetString(KeyLogLevel),
		LogFormat:      v.GetString(KeyLogFormat),
	}

	// Zero values from a dumped file mean "unset".
	if c.PollTimeout <= 0 {
		c.PollTimeout = 60
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Token == "" {
		return c, errors.Wrap(ErrMissing, envNames[KeyToken])
	}
	if c.OpenAIKey == "" {
		return c, errors.Wrap(ErrMissing, envNames[KeyOpenAIKey])
	}
	if _, err := access.NewPolicy(c.AllowedUserIDs, c.AllowedChatIDs); err != nil {
		return c, err
	}
	return c, nil
}

// Logger builds the process logger from c.
func Logger(c bot.Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	log.SetLevel(level)

	switch c.LogFormat {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errors.Errorf("unknown log format %q", c.LogFormat)
	}
	return log, nil
}
