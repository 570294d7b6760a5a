package transcribe

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/lectoria/conspect/lang"
)

// Whisper recognizes speech through the OpenAI audio transcription
// endpoint.
type Whisper struct {
	client *openai.Client
	model  string
}

func NewWhisper(apiKey, model string) *Whisper {
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{client: openai.NewClient(apiKey), model: model}
}

// Recognize uploads one chunk and returns its transcript plus the
// endpoint's best-effort language code. Errors are wrapped in RequestError:
// 4xx responses are fatal (quota, format, payload), everything else is the
// transient class.
func (w *Whisper) Recognize(ctx context.Context, chunkPath string) (string, lang.Code, error) {
	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: chunkPath,
		// verbose_json is the only response format that reports a language.
		Format: openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return "", lang.Unknown, classify(err)
	}

	code := lang.Unknown
	if resp.Language != "" {
		code = normalizeLanguage(resp.Language)
	}
	return resp.Text, code, nil
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500 {
		return &RequestError{Fatal: true, Cause: err}
	}
	return &RequestError{Fatal: false, Cause: err}
}

// whisperLanguages maps the endpoint's verbose_json language names to codes.
// Only the supported set is mapped; anything else resolves through the text
// detector instead.
var whisperLanguages = map[string]lang.Code{
	"russian":    "ru",
	"kazakh":     "kk",
	"english":    "en",
	"korean":     "ko",
	"japanese":   "ja",
	"chinese":    "zh",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"italian":    "it",
	"portuguese": "pt",
}

func normalizeLanguage(name string) lang.Code {
	name = strings.ToLower(name)
	if code, ok := whisperLanguages[name]; ok {
		return code
	}
	if _, ok := lang.Supported[lang.Code(name)]; ok {
		return lang.Code(name)
	}
	return lang.Unknown
}
