// Package summary builds a compressed study-note summary out of a
// transcript: a lossless sectioning pass first, then an independent
// compression pass per section.
package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/pkoukk/tiktoken-go"
	"github.com/rs/zerolog"

	"github.com/lectoria/conspect/llm"
	"github.com/lectoria/conspect/progress"
	"github.com/lectoria/conspect/textchunk"
	"github.com/lectoria/conspect/translate"
)

const (
	// tokenGate routes text through the chunker when a single sectioning
	// call would not fit the model context. Note the unit difference with
	// chunkSize below: the gate counts tokens, the chunker counts
	// characters. Preserved as-is; see the pinned test before changing.
	tokenGate = 16000

	chunkSize    = 30000
	chunkOverlap = 1000

	promptTemperature = 0.3
)

// TokenCounter reports the token count of a text for the gating decision.
type TokenCounter func(text string) int

// TiktokenCounter counts tokens with the model's own encoding, falling
// back to cl100k_base for unknown models.
func TiktokenCounter(model string) TokenCounter {
	return func(text string) int {
		enc, err := tiktoken.EncodingForModel(model)
		if err != nil {
			if enc, err = tiktoken.GetEncoding("cl100k_base"); err != nil {
				// No encoding available at all: a rough chars-per-token
				// estimate keeps the gate functional.
				return len(text)/3 + 10
			}
		}
		return len(enc.Encode(text, nil, nil)) + 10
	}
}

// DraftStore checkpoints intermediate pipeline output.
type DraftStore interface {
	SaveDraft(name, text string) (string, error)
}

// Stage tracks pipeline progress for error reporting.
type Stage string

const (
	StagePending              Stage = "pending"
	StageSectioned            Stage = "sectioned"
	StagePerSectionCompressed Stage = "per-section-compressed"
	StageAssembled            Stage = "assembled"
)

// Pipeline is the two-stage summarizer. Sections are processed strictly in
// order with no parallel calls, so output is deterministic for a given
// input.
type Pipeline struct {
	gen   llm.Generator
	count TokenCounter
	store DraftStore
	log   zerolog.Logger
}

func NewPipeline(gen llm.Generator, count TokenCounter, store DraftStore, log zerolog.Logger) *Pipeline {
	return &Pipeline{gen: gen, count: count, store: store, log: log}
}

// Result carries the final summary plus the intermediate sectioned text,
// which callers keep for long-term markdown storage.
type Result struct {
	Summary   string
	Sectioned string
	Stage     Stage
}

// Summarize produces the summary of text in the target language. A failure
// in any one section aborts the whole summary; the error names the section.
func (p *Pipeline) Summarize(ctx context.Context, text, title string, target translate.Target, sink progress.Sink) (Result, error) {
	if sink == nil {
		sink = progress.Nop{}
	}
	res := Result{Stage: StagePending}

	sectioned, err := p.sectionText(ctx, text, target, sink)
	if err != nil {
		return res, err
	}
	res.Sectioned = sectioned
	res.Stage = StageSectioned

	if p.store != nil {
		if _, err := p.store.SaveDraft(title+"_processed_md_text", sectioned); err != nil {
			p.log.Error().Err(err).Msg("saving sectioned draft")
		}
	}

	summary, err := p.compressSections(ctx, sectioned, target, sink)
	if err != nil {
		return res, err
	}
	res.Stage = StagePerSectionCompressed

	if p.store != nil {
		if _, err := p.store.SaveDraft(title+"_summary_draft", summary); err != nil {
			p.log.Error().Err(err).Msg("saving summary draft")
		}
	}

	// Sections are joined with blank-line separators; the assembled document
	// itself carries no trailing blank.
	res.Summary = strings.TrimSpace(summary)
	res.Stage = StageAssembled
	sink.Report(100, "summary assembled")
	return res, nil
}

// sectionText is the lossless restructuring pass: the model partitions the
// transcript into named "## Title" sections without dropping source text.
// Oversized transcripts go through the chunker and are sectioned piecewise.
func (p *Pipeline) sectionText(ctx context.Context, text string, target translate.Target, sink progress.Sink) (string, error) {
	instruction := languageInstruction(target)

	system := fmt.Sprintf("Вы гений текста, копирайтинга, писательства. Ваша задача распознать разделы в тексте\n"+
		"и разбить его на эти разделы сохраняя весь текст на 100%%. %s", instruction)
	user := fmt.Sprintf("Пожалуйста, давайте подумаем шаг за шагом: Подумайте, какие разделы в тексте вы можете\n"+
		"распознать и какое название по смыслу можно дать каждому разделу. Далее напишите ответ по всему\n"+
		"предыдущему ответу и оформи в порядке:\n"+
		"## Название раздела, после чего весь текст, относящийся к этому разделу. %s Текст:", instruction)

	tokens := p.count(text)
	p.log.Info().Int("tokens", tokens).Msg("sectioning transcript")

	if tokens < tokenGate {
		sink.Report(10, "splitting text into sections")
		out, err := p.gen.Generate(ctx, system, user, text, promptTemperature)
		if err != nil {
			return "", errors.Wrap(err, "summary: sectioning")
		}
		return out, nil
	}

	chunks := textchunk.Split(text, chunkSize, chunkOverlap)
	p.log.Info().Int("chunks", len(chunks)).Msg("transcript over token gate, sectioning in chunks")

	var sectioned string
	for i, chunk := range chunks {
		sink.Report(10+30*i/len(chunks), fmt.Sprintf("splitting part %d of %d into sections", i+1, len(chunks)))
		out, err := p.gen.Generate(ctx, system, user, chunk.Text, promptTemperature)
		if err != nil {
			return "", errors.Wrapf(err, "summary: sectioning chunk %d", i)
		}
		sectioned += out + "\n\n"
	}
	return sectioned, nil
}

// compressSections runs the compression pass per section, sequentially and
// in order. The target-language instruction is repeated in both the system
// and the user prompt: smaller models drift language under long prompts,
// and the redundancy is what holds them.
func (p *Pipeline) compressSections(ctx context.Context, sectioned string, target translate.Target, sink progress.Sink) (string, error) {
	instruction := languageInstruction(target)

	system := fmt.Sprintf("Ты гений копирайтинга. Ты получаешь раздел необработанного текста по определенной теме.\n"+
		"Нужно из этого текста выделить самую суть, только самое важное, сохранив все нужные подробности и детали,\n"+
		"но убрав всю \"воду\" и слова (предложения), не несущие смысловой нагрузки.\n"+
		"ОЧЕНЬ ВАЖНО: %s\n"+
		"Ты ДОЛЖЕН писать ВЕСЬ текст ТОЛЬКО на %s языке. НЕ ИСПОЛЬЗУЙ другие языки вообще.",
		instruction, target.LocalName)

	user := fmt.Sprintf("Из данного текста выдели только ключевую и ценную с точки зрения темы раздела информацию.\n"+
		"Удали всю \"воду\". В итоге у тебя должен получится раздел для конспекта по указанной теме. Опирайся\n"+
		"только на данный тебе текст, не придумывай ничего от себя. Ответ нужен в формате:\n"+
		"## Название раздела, и далее выделенная тобой ценная информация из текста. Используй маркдаун-разметку для выделения важных моментов:\n"+
		"**жирный текст** для важных фактов, *курсив* для определений, списки для перечислений и т.д.\n\n"+
		"ОЧЕНЬ ВАЖНО: %s\n"+
		"Ты ДОЛЖЕН писать ВЕСЬ текст ТОЛЬКО на %s языке.\n"+
		"НЕ ИСПОЛЬЗУЙ русский или любой другой язык, кроме %s.\n\n"+
		"Весь твой ответ должен быть на %s языке, включая все заголовки, выделения и пояснения.",
		instruction, target.LocalName, target.LocalName, target.LocalName)

	sections := textchunk.SplitSections(sectioned)
	if len(sections) == 0 {
		return "", errors.New("summary: sectioning produced no sections")
	}

	var out string
	for i, section := range sections {
		label := section.Title
		if label == "" {
			label = fmt.Sprintf("untitled #%d", i+1)
		}
		sink.Report(40+55*i/len(sections), fmt.Sprintf("compressing section %q", label))

		content := section.Body
		if section.Title != "" {
			content = fmt.Sprintf("## %s\n%s", section.Title, section.Body)
		}

		answer, err := p.gen.Generate(ctx, system, user, content, promptTemperature)
		if err != nil {
			// No partial-section skip: one failed section fails the summary.
			return "", errors.Wrapf(err, "summary: compressing section %q", label)
		}
		out += answer + "\n\n"
	}
	return out, nil
}

// languageInstruction returns the strict target-language block repeated
// through the summary prompts, written in the target language itself.
func languageInstruction(target translate.Target) string {
	switch target.Code {
	case "kk":
		return "БАРЛЫҚ МӘТІНДІ ТЕК ҚАНА ҚАЗАҚ ТІЛІНДЕ ЖАЗУ КЕРЕК!\n" +
			"Басқа тілдерді МҮЛДЕМ қолданбаңыз.\n" +
			"Тақырыптар, мәтін мазмұны, бөлімдер - БӘРІ қазақ тілінде болуы МІНДЕТТІ.\n" +
			"Орыс немесе ағылшын сөздерін араластыруға ТЫЙЫМ САЛЫНҒАН.\n" +
			"БҰЛ НҰСҚАУЛЫҚТЫ ҚАТАҢ ТҮРДЕ САҚТАУ ҚАЖЕТ!"
	case "en":
		return "ALL TEXT MUST BE WRITTEN ONLY IN ENGLISH!\n" +
			"DO NOT use other languages AT ALL.\n" +
			"Headings, content, sections - EVERYTHING must be in English ONLY.\n" +
			"DO NOT mix in Russian or Kazakh words under ANY circumstances.\n" +
			"THIS INSTRUCTION MUST BE FOLLOWED STRICTLY!"
	default:
		return "ВЕСЬ ТЕКСТ ДОЛЖЕН БЫТЬ НАПИСАН ТОЛЬКО НА РУССКОМ ЯЗЫКЕ!\n" +
			"НЕ используйте другие языки ВООБЩЕ.\n" +
			"Заголовки, содержание, разделы - ВСЁ должно быть ТОЛЬКО на русском языке.\n" +
			"НЕ смешивайте с казахскими или английскими словами НИ ПРИ КАКИХ ОБСТОЯТЕЛЬСТВАХ.\n" +
			"ЭТО УКАЗАНИЕ ДОЛЖНО БЫТЬ СТРОГО СОБЛЮДЕНО!"
	}
}
