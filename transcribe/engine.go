// Package transcribe turns segmented audio into a single ordered
// transcript, resolving the dominant spoken language along the way.
package transcribe

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lectoria/conspect/audio"
	"github.com/lectoria/conspect/lang"
	"github.com/lectoria/conspect/progress"
)

// Recognizer sends one encoded audio chunk to a speech-to-text endpoint.
// The returned language code is best-effort and may be empty.
type Recognizer interface {
	Recognize(ctx context.Context, chunkPath string) (text string, language lang.Code, err error)
}

// TranscriptStore persists the assembled transcript keyed by a
// caller-supplied title, as a checkpoint before any further processing.
type TranscriptStore interface {
	SaveTranscript(title, text string) (path string, err error)
}

// RequestError classifies a transcription endpoint failure. Fatal requests
// (quota, unsupported format, bad payload) abort the job; the distinction
// is surfaced so callers could add bounded retries for the transient class,
// which this engine deliberately does not do itself.
type RequestError struct {
	Fatal bool
	Cause error
}

func (e *RequestError) Error() string {
	kind := "transient"
	if e.Fatal {
		kind = "fatal"
	}
	return "transcribe: " + kind + " endpoint error: " + e.Cause.Error()
}

func (e *RequestError) Unwrap() error { return e.Cause }

// Result is the immutable outcome of transcribing one source file. When
// Partial is true the endpoint rejected a chunk mid-way and Text holds
// whatever had been accumulated before the failure.
type Result struct {
	Text     string
	Language lang.Code
	Chunks   []ChunkResult
	Partial  bool
}

// ChunkResult is the transcript of a single audio chunk.
type ChunkResult struct {
	Index    int
	Text     string
	Language lang.Code
}

// Engine runs chunks through a Recognizer strictly in order.
type Engine struct {
	rec   Recognizer
	store TranscriptStore
	log   zerolog.Logger
}

func NewEngine(rec Recognizer, store TranscriptStore, log zerolog.Logger) *Engine {
	return &Engine{rec: rec, store: store, log: log}
}

// Transcribe processes chunks sequentially, joins their texts with
// newlines, and resolves the transcript language: the API-reported code
// from the first chunk, else a detection pass over the first chunk's text,
// else a final detection pass over the full transcript. The transcript is
// persisted under title before returning. An endpoint rejection aborts the
// run; the partial transcript is still assembled, persisted and returned
// alongside the error.
func (e *Engine) Transcribe(ctx context.Context, chunks []audio.Chunk, title string, sink progress.Sink) (Result, error) {
	if sink == nil {
		sink = progress.Nop{}
	}

	res := Result{Language: lang.Unknown}
	var texts []string
	var runErr error

	for i, chunk := range chunks {
		sink.Report(percentOf(i, len(chunks)), fmt.Sprintf("transcribing chunk %d of %d", i+1, len(chunks)))

		text, code, err := e.rec.Recognize(ctx, chunk.Path)
		if err != nil {
			// No per-chunk retry loop: the endpoint rejecting a chunk ends
			// the job, keeping whatever was already transcribed.
			res.Partial = true
			runErr = errors.Wrapf(err, "transcribe: chunk %d", chunk.Index)
			e.log.Error().Err(err).Int("chunk", chunk.Index).Msg("endpoint rejected chunk, aborting job")
			break
		}

		texts = append(texts, text)
		res.Chunks = append(res.Chunks, ChunkResult{Index: chunk.Index, Text: text, Language: code})

		// Only the first chunk's language signal is trusted; later chunks
		// of the same recording do not get to change it.
		if i == 0 {
			if code == "" || code == lang.Unknown {
				res.Language = lang.Detect(text)
			} else {
				res.Language = code
			}
			e.log.Info().Str("language", string(res.Language)).Msg("transcript language")
		}
	}

	res.Text = strings.Join(texts, "\n")

	if res.Language == lang.Unknown && res.Text != "" {
		// Final fallback over the full concatenated transcript.
		res.Language = lang.Detect(res.Text)
	}

	if res.Text != "" && e.store != nil {
		path, err := e.store.SaveTranscript(title, res.Text)
		if err != nil {
			if runErr == nil {
				runErr = errors.Wrap(err, "transcribe: persisting transcript")
			} else {
				e.log.Error().Err(err).Msg("persisting partial transcript")
			}
		} else {
			e.log.Info().Str("path", path).Msg("transcript saved")
		}
	}

	if runErr == nil {
		sink.Report(100, "transcription complete")
	}
	return res, runErr
}

func percentOf(i, total int) int {
	if total == 0 {
		return 100
	}
	return i * 100 / total
}
