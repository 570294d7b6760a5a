package summary

import (
	"context"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectoria/conspect/translate"
)

type call struct {
	system string
	user   string
	text   string
}

type scriptedGenerator struct {
	replies []string
	errAt   int // 1-based call index that errors; 0 for never
	calls   []call
}

func (g *scriptedGenerator) Generate(_ context.Context, system, user, text string, _ float32) (string, error) {
	g.calls = append(g.calls, call{system: system, user: user, text: text})
	if g.errAt == len(g.calls) {
		return "", errors.New("model unavailable")
	}
	reply := g.replies[0]
	if len(g.replies) > 1 {
		g.replies = g.replies[1:]
	}
	return reply, nil
}

type draftRecorder struct {
	names []string
}

func (d *draftRecorder) SaveDraft(name, _ string) (string, error) {
	d.names = append(d.names, name)
	return "/work/" + name + ".txt", nil
}

func fixedCounter(n int) TokenCounter { return func(string) int { return n } }

func ruTarget() translate.Target { return translate.Targets["russian"] }

func TestSummarizeSmallTextSingleSectioningCall(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		"## Alpha\nраздел один\n## Beta\nраздел два",
		"## Alpha\nсуть один",
		"## Beta\nсуть два",
	}}
	p := NewPipeline(gen, fixedCounter(100), nil, zerolog.Nop())

	res, err := p.Summarize(context.Background(), "небольшой текст", "talk", ruTarget(), nil)
	require.NoError(t, err)

	// One sectioning call plus one compression call per section.
	require.Len(t, gen.calls, 3)
	assert.Equal(t, StageAssembled, res.Stage)
	// Section order survives into the assembled summary.
	alpha := strings.Index(res.Summary, "суть один")
	beta := strings.Index(res.Summary, "суть два")
	assert.Greater(t, beta, alpha)
}

func TestSummarizeAssembledSummaryHasNoTrailingBlank(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		"## Alpha\nтело один\n## Beta\nтело два",
		"## Alpha\nсуть один",
		"## Beta\nсуть два",
	}}
	p := NewPipeline(gen, fixedCounter(100), nil, zerolog.Nop())

	res, err := p.Summarize(context.Background(), "текст", "talk", ruTarget(), nil)
	require.NoError(t, err)

	// Sections stay separated by a blank line inside the document, but the
	// document itself is exported verbatim and must not end with one.
	assert.Equal(t, "## Alpha\nсуть один\n\n## Beta\nсуть два", res.Summary)
}

func TestSummarizeTokenGateUsesCharacterChunks(t *testing.T) {
	// The gate counts tokens but the chunker counts characters. A text over
	// the 16000-token gate yet under 30000 characters must go through the
	// chunked path as exactly one chunk. Pinned on purpose: changing either
	// unit changes this behavior.
	gen := &scriptedGenerator{replies: []string{
		"## Один\nтело",
		"## Один\nсуть",
	}}
	p := NewPipeline(gen, fixedCounter(20000), nil, zerolog.Nop())

	text := strings.Repeat("слово ", 100) // far below chunkSize characters
	_, err := p.Summarize(context.Background(), text, "talk", ruTarget(), nil)
	require.NoError(t, err)
	require.Len(t, gen.calls, 2, "one chunked sectioning call, one compression call")
}

func TestSummarizeLargeTextChunked(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		"## Часть\nтело раздела",
	}}
	p := NewPipeline(gen, fixedCounter(20000), nil, zerolog.Nop())

	text := strings.Repeat("word ", 8000) // ~40000 chars: two 30000/1000 chunks
	_, err := p.Summarize(context.Background(), text, "talk", ruTarget(), nil)
	require.NoError(t, err)

	sectioning := 0
	for _, c := range gen.calls {
		if strings.Contains(c.system, "распознать разделы") {
			sectioning++
		}
	}
	assert.GreaterOrEqual(t, sectioning, 2, "over-gate text must be sectioned in multiple chunks")
}

func TestSummarizeSectionFailureAborts(t *testing.T) {
	gen := &scriptedGenerator{
		replies: []string{
			"## Alpha\nтело один\n## Beta\nтело два",
			"## Alpha\nсуть один",
		},
		errAt: 3, // second compression call fails
	}
	p := NewPipeline(gen, fixedCounter(100), nil, zerolog.Nop())

	_, err := p.Summarize(context.Background(), "текст", "talk", ruTarget(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Beta", "error must name the failing section")
}

func TestSummarizeRepeatsLanguageInstruction(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		"## Section\nbody text",
		"## Section\nsummary",
	}}
	p := NewPipeline(gen, fixedCounter(100), nil, zerolog.Nop())

	_, err := p.Summarize(context.Background(), "text", "talk", translate.Targets["english"], nil)
	require.NoError(t, err)

	compression := gen.calls[len(gen.calls)-1]
	// The strict language block appears in both prompt roles.
	assert.Contains(t, compression.system, "ONLY IN ENGLISH")
	assert.Contains(t, compression.user, "ONLY IN ENGLISH")
	assert.Contains(t, compression.system, "английский")
	assert.Contains(t, compression.user, "английский")
}

func TestSummarizeCheckpointsDrafts(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		"## Alpha\nтело",
		"## Alpha\nсуть",
	}}
	store := &draftRecorder{}
	p := NewPipeline(gen, fixedCounter(100), store, zerolog.Nop())

	_, err := p.Summarize(context.Background(), "текст", "lecture", ruTarget(), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"lecture_processed_md_text", "lecture_summary_draft"}, store.names)
}
