package source

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lectoria/conspect/progress"
)

// lineRunner executes a command and streams its stdout/stderr lines to a
// callback. Injectable for tests.
type lineRunner interface {
	Run(ctx context.Context, name string, args []string, onLine func(string)) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = cmd.Stdout // yt-dlp writes progress to stdout, errors to stderr
	if err := cmd.Start(); err != nil {
		return err
	}
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		onLine(scanner.Text())
	}
	return cmd.Wait()
}

// hostPatterns are the remote platforms the downloader handles.
var hostPatterns = []string{
	"youtube.com", "youtu.be",
	"vk.com", "vkvideo.ru",
	"instagram.com",
	"disk.yandex.", "drive.google.com",
}

// downloadProgress matches yt-dlp progress lines like
// "[download]  42.3% of 10.00MiB at 1.23MiB/s".
var downloadProgress = regexp.MustCompile(`\[download\]\s+(\d+(?:\.\d+)?)%`)

// YTDLP downloads remote media through the yt-dlp binary and extracts an
// mp3 audio track.
type YTDLP struct {
	binPath string
	outDir  string
	log     zerolog.Logger
	cmd     lineRunner
}

// YTDLPOption configures the downloader.
type YTDLPOption func(*YTDLP)

// WithRunner replaces the command execution, for tests.
func WithRunner(r lineRunner) YTDLPOption {
	return func(y *YTDLP) { y.cmd = r }
}

func NewYTDLP(binPath, outDir string, log zerolog.Logger, opts ...YTDLPOption) *YTDLP {
	if binPath == "" {
		binPath = "yt-dlp"
	}
	y := &YTDLP{binPath: binPath, outDir: outDir, log: log, cmd: execRunner{}}
	for _, opt := range opts {
		opt(y)
	}
	return y
}

func (y *YTDLP) Supports(ref string) bool {
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return false
	}
	for _, host := range hostPatterns {
		if strings.Contains(ref, host) {
			return true
		}
	}
	return false
}

// Resolve downloads the reference and returns the extracted audio path.
// Download percentages stream to the sink as they appear in yt-dlp output.
func (y *YTDLP) Resolve(ctx context.Context, ref string, sink progress.Sink) (string, error) {
	if sink == nil {
		sink = progress.Nop{}
	}

	out := filepath.Join(y.outDir, uuid.NewString())
	args := []string{
		"--no-playlist",
		"-x", "--audio-format", "mp3",
		"-o", out + ".%(ext)s",
		ref,
	}

	sink.Report(0, "starting download")
	err := y.cmd.Run(ctx, y.binPath, args, func(line string) {
		if m := downloadProgress.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
				sink.Report(int(pct), "downloading")
			}
		}
	})
	if err != nil {
		return "", errors.Wrap(err, "yt-dlp")
	}

	// yt-dlp can exit 0 yet write a different extension; a dangling path
	// would only surface later, inside ffmpeg.
	audioPath := out + ".mp3"
	if _, err := os.Stat(audioPath); err != nil {
		return "", errors.Wrap(err, "yt-dlp: extracted audio missing")
	}
	sink.Report(100, "download complete")
	y.log.Info().Str("ref", ref).Str("path", audioPath).Msg("source downloaded")
	return audioPath, nil
}
