// Package audio slices source audio into encoded chunks small enough for
// the transcription API upload ceiling.
package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Chunk is one contiguous slice of the source audio, already encoded to a
// file on disk. Chunks partition the source with no gaps or overlap.
type Chunk struct {
	Index    int
	Start    time.Duration
	Duration time.Duration
	Size     int64
	Path     string
}

// ErrChunkTooLarge is returned when shrinking the chunk duration reaches
// the configured floor without ever fitting under the size ceiling. That
// means pathologically high bitrate source material, a configuration
// problem rather than something to keep looping on.
var ErrChunkTooLarge = errors.New("audio: chunk exceeds size ceiling even at minimum duration")

// shrinkFactor reduces the chunk duration after an oversized encode. The
// same offset is retried, so the segmenter adapts to the source bitrate
// without probing it up front.
const shrinkFactor = 0.8

// commandRunner executes an external command and returns its combined
// output. Injectable for tests.
type commandRunner interface {
	CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error)
}

// fileSystem covers the few filesystem calls the segmenter makes, so tests
// can run without ffmpeg writing real files.
type fileSystem interface {
	MkdirTemp(dir, pattern string) (string, error)
	Stat(name string) (os.FileInfo, error)
	Remove(name string) error
	RemoveAll(path string) error
}

type osRunner struct{}

func (osRunner) CombinedOutput(ctx context.Context, name string, args []string) ([]byte, error) {
	return commandContext(ctx, name, args)
}

type osFS struct{}

func (osFS) MkdirTemp(dir, pattern string) (string, error) { return os.MkdirTemp(dir, pattern) }
func (osFS) Stat(name string) (os.FileInfo, error)         { return os.Stat(name) }
func (osFS) Remove(name string) error                      { return os.Remove(name) }
func (osFS) RemoveAll(path string) error                   { return os.RemoveAll(path) }

// Segmenter slices audio via an ffmpeg binary.
type Segmenter struct {
	ffmpegPath  string
	maxDuration time.Duration
	minDuration time.Duration
	maxBytes    int64
	log         zerolog.Logger

	cmd commandRunner
	fs  fileSystem
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithCommandRunner replaces the ffmpeg invoker, for tests.
func WithCommandRunner(r commandRunner) Option {
	return func(s *Segmenter) { s.cmd = r }
}

// WithFileSystem replaces the filesystem calls, for tests.
func WithFileSystem(fs fileSystem) Option {
	return func(s *Segmenter) { s.fs = fs }
}

// NewSegmenter creates a Segmenter. maxBytes is the API upload ceiling with
// safety margin already applied; minDuration is the shrink floor.
func NewSegmenter(ffmpegPath string, maxDuration, minDuration time.Duration, maxBytes int64, log zerolog.Logger, opts ...Option) (*Segmenter, error) {
	if ffmpegPath == "" {
		return nil, errors.New("audio: ffmpeg path cannot be empty")
	}
	if maxDuration <= 0 {
		return nil, errors.New("audio: max chunk duration must be positive")
	}
	if minDuration <= 0 || minDuration >= maxDuration {
		return nil, errors.New("audio: min chunk duration must be positive and below the maximum")
	}
	s := &Segmenter{
		ffmpegPath:  ffmpegPath,
		maxDuration: maxDuration,
		minDuration: minDuration,
		maxBytes:    maxBytes,
		log:         log,
		cmd:         osRunner{},
		fs:          osFS{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Segment splits the audio at audioPath into encoded chunks, each no larger
// than the size ceiling. An oversized encode is discarded and the same
// offset retried with a 0.8x shorter duration; the reduced duration sticks
// for the rest of the file. The offset advances only on a successful
// encode, so concatenated chunk durations equal the total source duration.
func (s *Segmenter) Segment(ctx context.Context, audioPath string) ([]Chunk, error) {
	total, err := s.probeDuration(ctx, audioPath)
	if err != nil {
		return nil, errors.Wrap(err, "audio: probing source duration")
	}

	tempDir, err := s.fs.MkdirTemp("", "conspect-chunks-*")
	if err != nil {
		return nil, errors.Wrap(err, "audio: creating chunk directory")
	}

	var chunks []Chunk
	maxDur := s.maxDuration
	offset := time.Duration(0)
	index := 0

	for offset < total {
		dur := maxDur
		if remaining := total - offset; remaining < dur {
			dur = remaining
		}

		chunkPath := filepath.Join(tempDir, fmt.Sprintf("chunk_%03d.mp3", index))
		if err := s.encodeSlice(ctx, audioPath, chunkPath, offset, dur); err != nil {
			_ = s.fs.RemoveAll(tempDir)
			return nil, err
		}

		info, err := s.fs.Stat(chunkPath)
		if err != nil {
			_ = s.fs.RemoveAll(tempDir)
			return nil, errors.Wrapf(err, "audio: sizing chunk %d", index)
		}

		if info.Size() > s.maxBytes {
			_ = s.fs.Remove(chunkPath)
			maxDur = time.Duration(float64(maxDur) * shrinkFactor)
			s.log.Warn().
				Int("chunk", index).
				Dur("next_duration", maxDur).
				Int64("size", info.Size()).
				Msg("chunk over upload ceiling, shrinking and retrying")
			if maxDur < s.minDuration {
				_ = s.fs.RemoveAll(tempDir)
				return nil, errors.Wrapf(ErrChunkTooLarge,
					"audio: chunk %d at offset %s still %d bytes", index, offset, info.Size())
			}
			continue // same offset, shorter slice
		}

		chunks = append(chunks, Chunk{
			Index:    index,
			Start:    offset,
			Duration: dur,
			Size:     info.Size(),
			Path:     chunkPath,
		})
		offset += dur
		index++
	}

	return chunks, nil
}

func (s *Segmenter) encodeSlice(ctx context.Context, audioPath, chunkPath string, start, dur time.Duration) error {
	args := []string{
		"-y",
		"-ss", formatFFmpegTime(start),
		"-t", formatFFmpegTime(dur),
		"-i", audioPath,
		"-vn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "libmp3lame",
		"-b:a", "64k",
		chunkPath,
	}
	out, err := s.cmd.CombinedOutput(ctx, s.ffmpegPath, args)
	if err != nil {
		return errors.Wrapf(err, "audio: encoding slice at %s: %s", start, strings.TrimSpace(string(out)))
	}
	return nil
}

// probeDuration reads the source duration from ffmpeg's stderr banner.
func (s *Segmenter) probeDuration(ctx context.Context, audioPath string) (time.Duration, error) {
	args := []string{"-i", audioPath, "-f", "null", "-"}
	out, err := s.cmd.CombinedOutput(ctx, s.ffmpegPath, args)
	if err != nil && len(out) == 0 {
		// ffmpeg exits non-zero for null output even when the banner with
		// the duration was printed, so only a silent failure is fatal.
		return 0, err
	}
	return parseDuration(string(out))
}

var durationRe = regexp.MustCompile(`Duration:\s*(\d+):(\d+):(\d+)\.(\d+)`)

func parseDuration(out string) (time.Duration, error) {
	m := durationRe.FindStringSubmatch(out)
	if m == nil {
		return 0, errors.New("audio: no duration in ffmpeg output")
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	sec, _ := strconv.Atoi(m[3])

	frac, _ := strconv.Atoi(m[4])
	ms := frac
	switch n := len(m[4]); {
	case n == 1:
		ms = frac * 100
	case n == 2:
		ms = frac * 10
	case n > 3:
		for i := n; i > 3; i-- {
			ms /= 10
		}
	}

	return time.Duration(h)*time.Hour +
		time.Duration(min)*time.Minute +
		time.Duration(sec)*time.Second +
		time.Duration(ms)*time.Millisecond, nil
}

func formatFFmpegTime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := d.Seconds() - float64(h*3600+m*60)
	return fmt.Sprintf("%02d:%02d:%06.3f", h, m, s)
}

// Cleanup removes chunk files and their temp directory after transcription.
func Cleanup(chunks []Chunk) {
	if len(chunks) == 0 {
		return
	}
	dir := filepath.Dir(chunks[0].Path)
	if strings.Contains(filepath.Base(dir), "conspect-chunks-") {
		_ = os.RemoveAll(dir)
		return
	}
	for _, c := range chunks {
		_ = os.Remove(c.Path)
	}
}
