package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-bridge/internal/audio"
	"github.com/loqalabs/loqa-bridge/internal/audio/device"
	"github.com/loqalabs/loqa-bridge/internal/config"
	"github.com/loqalabs/loqa-bridge/internal/protocol"
	"github.com/loqalabs/loqa-bridge/internal/runtime"
	"github.com/loqalabs/loqa-bridge/internal/session"
	"github.com/loqalabs/loqa-bridge/internal/stt"
)

func (c *command) asr(args []string) int {
	var (
		configPath string
		duration   float64
		chunkMS    int
		sampleRate int
	)
	fs := c.flagSet("asr", &configPath)
	fs.Float64Var(&duration, "duration", 0, "Seconds to record, 0 records until interrupted")
	fs.IntVar(&chunkMS, "chunk-ms", 0, "Capture buffer length in milliseconds (default from config)")
	fs.IntVar(&sampleRate, "sample-rate", 0, "Capture sample rate (default from config)")
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
	if chunkMS > 0 {
		asrCfg.LiveChunkMS = chunkMS
	}
	if sampleRate > 0 {
		asrCfg.SampleRate = sampleRate
	}
	opts := stt.OptionsFromConfig(asrCfg, b.cfg.EventStore.MaxPayload, true)

	// The first interrupt ends capture and the session still drains. Handling is
	// then reset so a second interrupt kills the process.
	stop := make(chan struct{})
	done := make(chan struct{})
	defer close(done)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)
	go func() {
		select {
		case <-sigs:
			signal.Stop(sigs)
			close(stop)
		case <-done:
		}
	}()

	src, err := openCapture(ctx, asrCfg, opts)
	if err != nil {
		b.logger.Error("failed to open capture source", slog.String("error", err.Error()))
		c.println("")
		return 0
	}

	rec := stt.NewRecognizer(opts, b.rt.Dialer(b.apiKey), b.logger)
	result, err := rec.TranscribeLive(ctx, src, stop, time.Duration(duration*float64(time.Second)))
	if err != nil {
		b.logger.Warn("live recognition degraded", slog.String("error", err.Error()))
	}
	c.println(result.Text)
	publishTranscript(ctx, b.rt, "live", result)
	return 0
}

func openCapture(ctx context.Context, cfg config.ASRConfig, opts stt.Options) (audio.Source, error) {
	switch cfg.CaptureMode {
	case "command":
		return audio.StartCommand(ctx, cfg.CaptureCommand, opts.Format.ChunkSize(opts.ChunkMS))
	case "portaudio":
		return device.Open(opts.Format, opts.ChunkMS)
	default:
		return nil, fmt.Errorf("unknown capture mode %q", cfg.CaptureMode)
	}
}

func publishTranscript(ctx context.Context, rt *runtime.Runtime, mode string, result stt.Result) {
	if result.SessionID == "" {
		return
	}
	rt.Publish(ctx, protocol.SubjectASRResult, protocol.Transcript{
		SessionID: result.SessionID,
		Model:     result.Model,
		Mode:      mode,
		Text:      result.Text,
		Segments:  result.Segments,
		Outcome:   result.State.String(),
		Chunks:    result.Chunks,
		Timestamp: time.Now().UTC(),
	})
	rt.Record(ctx, runtime.JournalEntry{
		SessionID: result.SessionID,
		Direction: session.Recognition,
		Model:     result.Model,
		Outcome:   result.State,
		Result:    result.Text,
		Events:    result.Events,
	})
}
