package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lectoria/conspect/audio"
	"github.com/lectoria/conspect/cleanup"
	"github.com/lectoria/conspect/config"
	"github.com/lectoria/conspect/llm"
	"github.com/lectoria/conspect/server"
	"github.com/lectoria/conspect/source"
	"github.com/lectoria/conspect/storage"
	"github.com/lectoria/conspect/summary"
	"github.com/lectoria/conspect/transcribe"
	"github.com/lectoria/conspect/translate"
	"github.com/lectoria/conspect/worker"
)

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("loading configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	// Checkpoints are working files: they live under WorkDir so the cleanup
	// sweep reclaims them, while ExportDir holds only finished artifacts.
	store, err := storage.New(cfg.WorkDir)
	if err != nil {
		log.Fatal().Err(err).Msg("opening checkpoint storage")
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("creating working directory")
	}

	sweeper, err := cleanup.NewSweeper(cfg.WorkDir, cfg.CleanupEvery, cfg.CleanupMaxAge, log)
	if err != nil {
		log.Fatal().Err(err).Msg("creating cleanup sweeper")
	}
	if err := sweeper.Start(); err != nil {
		log.Fatal().Err(err).Msg("starting cleanup sweeper")
	}
	defer sweeper.Stop()

	segmenter, err := audio.NewSegmenter(cfg.FFmpegPath, cfg.MaxChunkDuration,
		cfg.MinChunkDuration, cfg.MaxChunkBytes, log)
	if err != nil {
		log.Fatal().Err(err).Msg("creating audio segmenter")
	}

	whisper := transcribe.NewWhisper(cfg.OpenAIKey, cfg.WhisperModel)
	engine := transcribe.NewEngine(whisper, store, log)

	chat, err := llm.NewOpenAIClient(cfg.OpenAIKey, cfg.ChatModel)
	if err != nil {
		log.Fatal().Err(err).Msg("creating chat client")
	}

	pipeline := summary.NewPipeline(chat, summary.TiktokenCounter(cfg.ChatModel), store, log)

	resolvers := source.NewRegistry(
		source.Local{},
		source.NewYTDLP(cfg.YTDLPPath, cfg.WorkDir, log),
	)

	runner := worker.NewRunner(worker.Deps{
		Resolver:   resolvers,
		Segmenter:  segmenter,
		Engine:     engine,
		Generator:  chat,
		Translator: translate.NewTranslator(chat),
		Pipeline:   pipeline,
		ExportDir:  cfg.ExportDir,
		Holder:     sweeper,
		Log:        log,
	})
	runner.Start()
	defer runner.Stop()

	srv := server.New(runner, cfg.WorkDir, log)

	// Listen in the background so signals can drive a clean shutdown.
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(cfg.ListenAddr) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutting down")
		if err := srv.Shutdown(); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	case err := <-errCh:
		log.Fatal().Err(err).Msg("http server stopped")
	}
}
