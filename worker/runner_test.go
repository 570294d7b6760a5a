package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lectoria/conspect/audio"
	"github.com/lectoria/conspect/lang"
	"github.com/lectoria/conspect/progress"
	"github.com/lectoria/conspect/source"
	"github.com/lectoria/conspect/summary"
	"github.com/lectoria/conspect/transcribe"
	"github.com/lectoria/conspect/translate"
)

// fakeResolver hands back the ref as a path, or fails for one marked ref.
type fakeResolver struct {
	failRef string
}

func (f *fakeResolver) Supports(string) bool { return true }

func (f *fakeResolver) Resolve(_ context.Context, ref string, _ progress.Sink) (string, error) {
	if ref == f.failRef {
		return "", errors.New("unreadable source")
	}
	return ref, nil
}

// fakeFFmpeg plays both the command runner and the filesystem for the
// segmenter, sizing "encoded" chunks from a simulated bitrate.
type fakeFFmpeg struct {
	total       time.Duration
	bytesPerSec int64
	encoded     map[string]time.Duration
}

func newFakeFFmpeg(total time.Duration, bytesPerSec int64) *fakeFFmpeg {
	return &fakeFFmpeg{total: total, bytesPerSec: bytesPerSec, encoded: map[string]time.Duration{}}
}

func (f *fakeFFmpeg) CombinedOutput(_ context.Context, _ string, args []string) ([]byte, error) {
	if args[len(args)-1] == "-" {
		h := int(f.total.Hours())
		m := int(f.total.Minutes()) % 60
		s := int(f.total.Seconds()) % 60
		return []byte(fmt.Sprintf("Input #0\n  Duration: %02d:%02d:%02d.00, start: 0.0\n", h, m, s)), nil
	}
	var dur time.Duration
	for i, a := range args {
		if a == "-t" {
			dur = parseClock(args[i+1])
		}
	}
	f.encoded[args[len(args)-1]] = dur
	return nil, nil
}

func (f *fakeFFmpeg) MkdirTemp(string, string) (string, error) { return "/fake/chunks", nil }
func (f *fakeFFmpeg) Remove(name string) error                 { delete(f.encoded, name); return nil }
func (f *fakeFFmpeg) RemoveAll(string) error                   { return nil }

func (f *fakeFFmpeg) Stat(name string) (os.FileInfo, error) {
	dur, ok := f.encoded[name]
	if !ok {
		return nil, os.ErrNotExist
	}
	return fakeInfo{size: int64(dur.Seconds()) * f.bytesPerSec}, nil
}

type fakeInfo struct{ size int64 }

func (f fakeInfo) Name() string       { return "chunk" }
func (f fakeInfo) Size() int64        { return f.size }
func (f fakeInfo) Mode() os.FileMode  { return 0o644 }
func (f fakeInfo) ModTime() time.Time { return time.Time{} }
func (f fakeInfo) IsDir() bool        { return false }
func (f fakeInfo) Sys() any           { return nil }

func parseClock(s string) time.Duration {
	parts := strings.Split(s, ":")
	h, _ := strconv.Atoi(parts[0])
	m, _ := strconv.Atoi(parts[1])
	sec, _ := strconv.ParseFloat(parts[2], 64)
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute +
		time.Duration(sec*float64(time.Second))
}

type stubRecognizer struct {
	text     string
	language lang.Code
}

func (s *stubRecognizer) Recognize(context.Context, string) (string, lang.Code, error) {
	return s.text, s.language, nil
}

type stubStore struct{}

func (stubStore) SaveTranscript(title, _ string) (string, error) { return title + ".txt", nil }
func (stubStore) SaveDraft(name, _ string) (string, error)       { return name + ".txt", nil }

// scriptedGenerator returns canned replies in call order.
type scriptedGenerator struct {
	replies []string
	calls   int
}

func (g *scriptedGenerator) Generate(_ context.Context, _, _, _ string, _ float32) (string, error) {
	if g.calls >= len(g.replies) {
		return "", errors.New("unexpected generator call")
	}
	out := g.replies[g.calls]
	g.calls++
	return out, nil
}

func newTestRunner(t *testing.T, gen *scriptedGenerator, failRef string) (*Runner, string) {
	t.Helper()
	exportDir := t.TempDir()

	fake := newFakeFFmpeg(8*time.Minute, 1024)
	seg, err := audio.NewSegmenter("ffmpeg", 10*time.Minute, 15*time.Second, 26_000_000,
		zerolog.Nop(), audio.WithCommandRunner(fake), audio.WithFileSystem(fake))
	require.NoError(t, err)

	rec := &stubRecognizer{text: "лекция о рынках", language: "ru"}
	engine := transcribe.NewEngine(rec, stubStore{}, zerolog.Nop())

	pipeline := summary.NewPipeline(gen, func(string) int { return 100 }, stubStore{}, zerolog.Nop())

	r := NewRunner(Deps{
		Resolver:   source.NewRegistry(&fakeResolver{failRef: failRef}),
		Segmenter:  seg,
		Engine:     engine,
		Generator:  gen,
		Translator: translate.NewTranslator(gen),
		Pipeline:   pipeline,
		ExportDir:  exportDir,
		Log:        zerolog.Nop(),
	})
	r.Start()
	t.Cleanup(r.Stop)
	return r, exportDir
}

func waitForTerminal(t *testing.T, r *Runner, id string) State {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		st, ok := r.State(id)
		require.True(t, ok)
		if st.Status == StatusDone || st.Status == StatusFailed {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("job did not finish in time")
	return State{}
}

func TestRunnerFullPipelineWithSummary(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{
		"Первый абзац.\n\nВторой абзац.",     // paragraph formatting
		"## Тема\nПервый абзац. Второй абзац.", // sectioning
		"## Тема\n**Суть** лекции.",           // compression
	}}
	r, exportDir := newTestRunner(t, gen, "")

	id := r.Submit(Job{
		Refs:        []string{"lecture.mp4"},
		Title:       "lecture",
		Target:      translate.Targets["russian"],
		WithSummary: true,
	})

	st := waitForTerminal(t, r, id)
	require.Equal(t, StatusDone, st.Status)
	assert.Empty(t, st.Error)
	assert.Equal(t, lang.Code("ru"), st.Language)
	assert.Equal(t, 100, st.Percent)

	// Source is Russian and the target is Russian: no translation call, so
	// the scripted generator is exhausted by exactly three calls.
	assert.Equal(t, 3, gen.calls)

	require.Len(t, st.Artifacts, 3)
	transcript, err := os.ReadFile(filepath.Join(exportDir, "Russian_lecture.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Первый абзац.\n\nВторой абзац.", string(transcript))

	summaryTxt, err := os.ReadFile(filepath.Join(exportDir, "Summary_lecture.txt"))
	require.NoError(t, err)
	assert.Equal(t, "## Тема\n**Суть** лекции.", string(summaryTxt))

	md, err := os.ReadFile(filepath.Join(exportDir, "Summary_lecture.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "# lecture")
	assert.Contains(t, string(md), "**Суть** лекции.")
}

func TestRunnerTranscriptOnly(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"Оформленный текст."}}
	r, exportDir := newTestRunner(t, gen, "")

	id := r.Submit(Job{
		Refs:   []string{"talk.mp3"},
		Title:  "talk",
		Target: translate.Targets["russian"],
	})

	st := waitForTerminal(t, r, id)
	require.Equal(t, StatusDone, st.Status)
	require.Len(t, st.Artifacts, 1)

	got, err := os.ReadFile(filepath.Join(exportDir, "Russian_talk.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Оформленный текст.", string(got))
}

func TestRunnerBatchSkipsBadFileAndContinues(t *testing.T) {
	// Two formatting replies: only the good file reaches the generator once,
	// but ordering of refs means the first ref fails before any call.
	gen := &scriptedGenerator{replies: []string{"Текст второй записи."}}
	r, exportDir := newTestRunner(t, gen, "broken.mp4")

	id := r.Submit(Job{
		Refs:   []string{"broken.mp4", "good.mp4"},
		Title:  "seminar",
		Target: translate.Targets["russian"],
	})

	st := waitForTerminal(t, r, id)
	require.Equal(t, StatusDone, st.Status)
	assert.Contains(t, st.Error, "skipped")

	// Batch titles are numbered; the surviving file is the second.
	got, err := os.ReadFile(filepath.Join(exportDir, "Russian_seminar_2.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Текст второй записи.", string(got))
}

func TestRunnerAllFilesFailedMarksJobFailed(t *testing.T) {
	gen := &scriptedGenerator{}
	r, _ := newTestRunner(t, gen, "broken.mp4")

	id := r.Submit(Job{
		Refs:   []string{"broken.mp4"},
		Title:  "broken",
		Target: translate.Targets["russian"],
	})

	st := waitForTerminal(t, r, id)
	require.Equal(t, StatusFailed, st.Status)
	assert.Contains(t, st.Error, "unreadable source")
	assert.Zero(t, gen.calls)
}

func TestRunnerSubscribeStreamsEvents(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"Текст."}}
	r, _ := newTestRunner(t, gen, "")

	job := Job{ID: "fixed-id", Refs: []string{"a.mp3"}, Title: "a", Target: translate.Targets["russian"]}
	ch, cancel := r.Subscribe(job.ID)
	defer cancel()

	r.Submit(job)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Percent == 100 && ev.Message == "finished" {
				return
			}
		case <-deadline:
			t.Fatal("no completion event received")
		}
	}
}

func TestRunnerSubscribeReportsFailure(t *testing.T) {
	gen := &scriptedGenerator{}
	r, _ := newTestRunner(t, gen, "broken.mp4")

	job := Job{ID: "doomed", Refs: []string{"broken.mp4"}, Title: "broken", Target: translate.Targets["russian"]}
	ch, cancel := r.Subscribe(job.ID)
	defer cancel()

	r.Submit(job)

	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev := <-ch:
			require.NotEqual(t, "finished", ev.Message, "failed job must not close with a success frame")
			if ev.Message == "failed" {
				return
			}
		case <-deadline:
			t.Fatal("no terminal event received")
		}
	}
}

func TestRunnerJobsRunInSubmissionOrder(t *testing.T) {
	gen := &scriptedGenerator{replies: []string{"Первый.", "Второй."}}
	r, exportDir := newTestRunner(t, gen, "")

	first := r.Submit(Job{Refs: []string{"one.mp3"}, Title: "one", Target: translate.Targets["russian"]})
	second := r.Submit(Job{Refs: []string{"two.mp3"}, Title: "two", Target: translate.Targets["russian"]})

	waitForTerminal(t, r, first)
	waitForTerminal(t, r, second)

	one, err := os.ReadFile(filepath.Join(exportDir, "Russian_one.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Первый.", string(one))

	two, err := os.ReadFile(filepath.Join(exportDir, "Russian_two.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Второй.", string(two))
}
