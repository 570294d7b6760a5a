// Package progress defines the narrow reporting sink shared by every
// long-running stage: download, transcription, translation, summarization.
package progress

import (
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
)

// Sink receives progress updates as a percentage (0-100) and a short
// human-readable message naming the current step.
type Sink interface {
	Report(percent int, message string)
}

// Nop discards all updates.
type Nop struct{}

func (Nop) Report(int, string) {}

// Func adapts a plain function to a Sink.
type Func func(percent int, message string)

func (f Func) Report(percent int, message string) { f(percent, message) }

// Logger reports progress through a zerolog logger at debug level.
type Logger struct {
	Log zerolog.Logger
}

func (l Logger) Report(percent int, message string) {
	l.Log.Debug().Int("percent", percent).Msg(message)
}

// Bar renders progress on a terminal progress bar.
type Bar struct {
	bar *progressbar.ProgressBar
}

// NewBar creates a terminal sink with the given description.
func NewBar(description string) *Bar {
	return &Bar{bar: progressbar.NewOptions(100,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)}
}

func (b *Bar) Report(percent int, message string) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	b.bar.Describe(message)
	_ = b.bar.Set(percent)
}
