// Package llm wraps the chat-completion endpoint used for paragraph
// formatting, translation, sectioning and compression. No streaming: every
// call blocks until the full response is available, keeping the pipeline
// deterministic.
package llm

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"
)

// Generator produces text from a system/user prompt pair. The text payload
// is appended to the user message, matching how every pipeline prompt is
// assembled.
type Generator interface {
	Generate(ctx context.Context, system, user, text string, temperature float32) (string, error)
}

// OpenAIClient talks to the OpenAI chat completions API.
type OpenAIClient struct {
	Client *openai.Client
	Model  string
}

func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, errors.New("llm: api key is required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{Client: openai.NewClient(apiKey), Model: model}, nil
}

// Generate sends one blocking completion request and returns the trimmed
// response text.
func (c *OpenAIClient) Generate(ctx context.Context, system, user, text string, temperature float32) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user + "\n" + text},
		},
		Temperature: temperature,
	}

	resp, err := c.Client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", errors.Wrap(err, "llm: completion request")
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("llm: completion returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// FormatParagraphs asks the model to break a wall-of-text transcript into
// readable paragraphs without changing the wording.
func FormatParagraphs(ctx context.Context, g Generator, text string) (string, error) {
	system := "Ты профессиональный редактор. Тебе дан текст транскрибации, " +
		"в котором нет абзацев. Разбей его на абзацы так, чтобы текст " +
		"выглядел читабельно и удобно для восприятия. Не изменяй и не " +
		"сокращай сам текст, только расставь абзацы. Не добавляй ничего от себя."
	user := "Разбей этот текст на абзацы, чтобы он выглядел как связный, " +
		"аккуратно оформленный текст. Не меняй и не сокращай сам текст, " +
		"только оформи абзацы. Текст:"
	return g.Generate(ctx, system, user, text, 0.1)
}
