package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config carries every knob the pipeline components need. It is built once
// in main and passed down explicitly; library packages never read the
// process environment themselves.
type Config struct {
	OpenAIKey    string
	WhisperModel string
	ChatModel    string

	FFmpegPath string
	YTDLPPath  string

	// WorkDir holds chunk files and transcript checkpoints, ExportDir the
	// final documents.
	WorkDir   string
	ExportDir string

	ListenAddr string

	CleanupEvery  time.Duration
	CleanupMaxAge time.Duration

	MaxChunkDuration time.Duration
	MinChunkDuration time.Duration
	MaxChunkBytes    int64

	TargetLanguage string
}

// Default returns a Config with the pipeline defaults filled in. The zero
// values for API keys stay empty and fail Validate.
func Default() Config {
	return Config{
		WhisperModel:     "whisper-1",
		ChatModel:        "gpt-4o-mini",
		FFmpegPath:       "ffmpeg",
		YTDLPPath:        "yt-dlp",
		WorkDir:          "temp_files",
		ExportDir:        "transcriptions",
		ListenAddr:       ":3000",
		CleanupEvery:     12 * time.Hour,
		CleanupMaxAge:    7 * 24 * time.Hour,
		MaxChunkDuration: 10 * time.Minute,
		MinChunkDuration: 15 * time.Second,
		MaxChunkBytes:    26_000_000, // just under the 25MB API ceiling
		TargetLanguage:   "russian",
	}
}

// Load reads .env if present, then the process environment, on top of
// Default. This is the only place the environment is consulted.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	cfg.OpenAIKey = os.Getenv("OPENAI_API_KEY")

	if v := os.Getenv("WHISPER_MODEL"); v != "" {
		cfg.WhisperModel = v
	}
	if v := os.Getenv("CHAT_MODEL"); v != "" {
		cfg.ChatModel = v
	}
	if v := os.Getenv("FFMPEG_BINARY"); v != "" {
		cfg.FFmpegPath = v
	}
	if v := os.Getenv("YTDLP_BINARY"); v != "" {
		cfg.YTDLPPath = v
	}
	if v := os.Getenv("WORK_DIR"); v != "" {
		cfg.WorkDir = v
	}
	if v := os.Getenv("EXPORT_DIR"); v != "" {
		cfg.ExportDir = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("TARGET_LANGUAGE"); v != "" {
		cfg.TargetLanguage = v
	}
	if v := os.Getenv("CLEANUP_INTERVAL_HOURS"); v != "" {
		h, err := strconv.Atoi(v)
		if err != nil {
			return cfg, errors.Wrap(err, "config: CLEANUP_INTERVAL_HOURS")
		}
		cfg.CleanupEvery = time.Duration(h) * time.Hour
	}
	if v := os.Getenv("CLEANUP_MAX_AGE_DAYS"); v != "" {
		d, err := strconv.Atoi(v)
		if err != nil {
			return cfg, errors.Wrap(err, "config: CLEANUP_MAX_AGE_DAYS")
		}
		cfg.CleanupMaxAge = time.Duration(d) * 24 * time.Hour
	}

	return cfg, nil
}

// Validate checks the fields without which no job can run.
func (c Config) Validate() error {
	if c.OpenAIKey == "" {
		return errors.New("config: OPENAI_API_KEY must be set")
	}
	if c.WorkDir == "" || c.ExportDir == "" {
		return errors.New("config: work and export directories must be set")
	}
	if c.MinChunkDuration <= 0 || c.MinChunkDuration >= c.MaxChunkDuration {
		return errors.New("config: chunk duration floor must be positive and below the maximum")
	}
	return nil
}
