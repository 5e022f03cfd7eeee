package main

import (
	"context"
	"io"
	"log/slog"

	"github.com/loqalabs/loqa-bridge/internal/stt"
)

func (c *command) transcribe(args []string) int {
	var (
		configPath string
		sampleRate int
		channels   int
		chunkMS    int
		language   string
		pace       float64
	)
	fs := c.flagSet("transcribe", &configPath)
	fs.IntVar(&sampleRate, "sample-rate", 0, "PCM sample rate (default from config)")
	fs.IntVar(&channels, "channels", 0, "PCM channel count (default from config)")
	fs.IntVar(&chunkMS, "chunk-ms", 0, "Chunk length in milliseconds (default from config)")
	fs.StringVar(&language, "language", "", "Recognition language (default from config)")
	fs.Float64Var(&pace, "pace", -1, "Send rate as a multiple of real time, 0 sends unpaced (default from config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx := context.Background()
	b, err := c.start(ctx, configPath)
	if err != nil {
		return c.fatal(err)
	}
	defer b.close()

	asrCfg := b.cfg.ASR
	if sampleRate > 0 {
		asrCfg.SampleRate = sampleRate
	}
	if channels > 0 {
		asrCfg.Channels = channels
	}
	if chunkMS > 0 {
		asrCfg.ChunkMS = chunkMS
	}
	if language != "" {
		asrCfg.Language = language
	}
	if pace >= 0 {
		asrCfg.PaceFactor = pace
	}

	raw, err := io.ReadAll(c.stdin)
	if err != nil {
		b.logger.Warn("failed to read stdin", slog.String("error", err.Error()))
		c.println("")
		return 0
	}
	pcm, err := stt.DecodeInput(raw)
	if err != nil {
		b.logger.Debug("ignoring input", slog.String("error", err.Error()))
		c.println("")
		return 0
	}

	opts := stt.OptionsFromConfig(asrCfg, b.cfg.EventStore.MaxPayload, false)
	rec := stt.NewRecognizer(opts, b.rt.Dialer(b.apiKey), b.logger)
	result, err := rec.TranscribeBuffer(ctx, pcm)
	if err != nil {
		b.logger.Warn("recognition degraded", slog.String("error", err.Error()))
	}
	c.println(result.Text)
	publishTranscript(ctx, b.rt, "buffer", result)
	return 0
}
