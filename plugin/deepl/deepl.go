// Package deepl translates text with the DeepL API.
package deepl

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/Oppen/gptrelay/plugin"
)

const (
	ProURL  = "https://api.deepl.com/v2/translate"
	FreeURL = "https://api-free.deepl.com/v2/translate"

	FunctionTranslate = "translate"

	userAgent = "gptrelay/0.2"
)

var (
	ErrConfiguration  = errors.New("DEEPL_API_KEY and DEEPL_API_PRO must be set to use the DeepL plugin")
	ErrNoTranslations = errors.New("deepl: empty translation list")
)

type Translator struct {
	apiKey   string
	pro      bool
	endpoint string
	client   *http.Client
}

var _ plugin.Plugin = &Translator{}

type Option func(*Translator)

// WithEndpoint overrides the URL picked from the plan.
func WithEndpoint(u string) Option {
	return func(t *Translator) { t.endpoint = u }
}

func WithHTTPClient(c *http.Client) Option {
	return func(t *Translator) { t.client = c }
}

// New needs the API key and the plan flag ("true" for DeepL Pro, "false"
// for the free plan). Missing or malformed values fail right away.
func New(apiKey, plan string, opts ...Option) (*Translator, error) {
	apiKey = strings.TrimSpace(apiKey)
	plan = strings.TrimSpace(plan)
	if apiKey == "" || plan == "" {
		return nil, ErrConfiguration
	}
	pro, err := strconv.ParseBool(plan)
	if err != nil {
		return nil, errors.Wrapf(ErrConfiguration, "plan %q", plan)
	}

	t := &Translator{
		apiKey: apiKey,
		pro:    pro,
		client: &http.Client{Timeout: 30 * time.Second},
	}
	if pro {
		t.endpoint = ProURL
	} else {
		t.endpoint = FreeURL
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Translator) SourceName() string { return "DeepL Translate" }

func (t *Translator) Specs() []plugin.Spec {
	return []plugin.Spec{{
		Name:        FunctionTranslate,
		Description: "Translate a given text from a language to another",
		Parameters: plugin.Schema{
			Type: "object",
			Properties: map[string]plugin.Property{
				"text":        {Type: "string", Description: "The text to translate"},
				"to_language": {Type: "string", Description: "The language to translate to (e.g. 'it')"},
			},
			Required: []string{"text", "to_language"},
		},
	}}
}

type translateResponse struct {
	Translations []struct {
		DetectedSourceLanguage string `json:"detected_source_language"`
		Text                   string `json:"text"`
	} `json:"translations"`
}

func (t *Translator) Execute(ctx context.Context, function string, args map[string]any) (string, error) {
	if function != FunctionTranslate {
		return "", errors.Wrap(plugin.ErrUnknownFunction, function)
	}
	text, _ := args["text"].(string)
	lang, _ := args["to_language"].(string)
	if text == "" || lang == "" {
		return "", errors.Wrap(plugin.ErrMissingArgument, "text and to_language")
	}

	form := url.Values{}
	form.Set("text", text)
	form.Set("target_lang", strings.ToUpper(lang))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", errors.Wrap(err, "deepl request")
	}
	req.Header.Set("Authorization", "DeepL-Auth-Key "+t.apiKey)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "deepl")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.Errorf("deepl: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var out translateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errors.Wrap(err, "deepl response")
	}
	if len(out.Translations) == 0 {
		return "", ErrNoTranslations
	}
	return out.Translations[0].Text, nil
}
