// Package translate decides whether a transcript needs translating into
// the requested target language, and performs the translation when it does.
package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/lectoria/conspect/lang"
	"github.com/lectoria/conspect/llm"
)

// Target is a language the user can ask final artifacts to be written in.
type Target struct {
	Code      lang.Code
	Name      string // English name, used in translation prompts
	LocalName string // Russian name, used in summarization prompts
}

// Targets is the closed, extendable set of supported target languages,
// keyed by the user-facing name.
var Targets = map[string]Target{
	"russian": {Code: "ru", Name: "Russian", LocalName: "русский"},
	"kazakh":  {Code: "kk", Name: "Kazakh", LocalName: "казахский"},
	"english": {Code: "en", Name: "English", LocalName: "английский"},
}

// TargetByName resolves a user-facing language name, case-insensitively.
func TargetByName(name string) (Target, error) {
	if t, ok := Targets[strings.ToLower(strings.TrimSpace(name))]; ok {
		return t, nil
	}
	return Target{}, errors.Errorf("translate: unsupported target language %q", name)
}

// Needed reports whether translation is required. An unknown source biases
// toward translating: skipping a needed translation is the worse failure
// mode, so only a confirmed match with the target skips the call.
func Needed(source lang.Code, target Target) bool {
	if source == lang.Unknown {
		return true
	}
	return source != target.Code
}

// Translator turns text into the target language through the LLM endpoint.
type Translator struct {
	gen llm.Generator
}

func NewTranslator(gen llm.Generator) *Translator {
	return &Translator{gen: gen}
}

// Run returns the text in the target language and whether a translation
// call was made. When the source already matches the target the input is
// returned verbatim with no API call.
func (t *Translator) Run(ctx context.Context, text string, source lang.Code, target Target) (string, bool, error) {
	if !Needed(source, target) {
		return text, false, nil
	}

	system := fmt.Sprintf("Ты профессиональный переводчик. Переведи текст на %s. "+
		"Сохрани структуру и смысл. Не добавляй ничего от себя.", target.Name)
	user := fmt.Sprintf("Переведи на %s:", target.Name)

	out, err := t.gen.Generate(ctx, system, user, text, 0.1)
	if err != nil {
		return "", true, errors.Wrapf(err, "translate: to %s", target.Name)
	}
	return out, true, nil
}
