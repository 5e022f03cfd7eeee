package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/loqalabs/loqa-bridge/internal/audio"
	"github.com/loqalabs/loqa-bridge/internal/protocol"
	"github.com/loqalabs/loqa-bridge/internal/runtime"
	"github.com/loqalabs/loqa-bridge/internal/session"
	"github.com/loqalabs/loqa-bridge/internal/tts"
	"github.com/mattn/go-isatty"
)

func (c *command) speak(args []string) int {
	var (
		configPath string
		voice      string
		model      string
	)
	fs := c.flagSet("speak", &configPath)
	fs.StringVar(&voice, "voice", "", "Voice name (default from config)")
	fs.StringVar(&model, "model", "", "Synthesis model (default: random pick from config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(c.stderr, "usage: loqa-bridge speak [flags] <output.wav> [text_or_text_file]")
		return 2
	}
	outPath := fs.Arg(0)

	ctx := context.Background()
	b, err := c.start(ctx, configPath)
	if err != nil {
		return c.fatal(err)
	}
	defer b.close()

	ttsCfg := b.cfg.TTS
	if voice != "" {
		ttsCfg.Voice = voice
	}
	if model != "" {
		ttsCfg.Models = []string{model}
	}

	input, err := tts.ResolveText(fs.Arg(1), c.pipedStdin())
	if err != nil {
		b.logger.Warn("failed to read text, using fallback", slog.String("error", err.Error()))
	}

	synth := tts.NewSynthesizer(tts.OptionsFromConfig(ttsCfg, b.cfg.EventStore.MaxPayload), b.rt.Dialer(b.apiKey), b.logger)
	result, err := synth.Synthesize(ctx, input)
	if err != nil {
		b.logger.Warn("synthesis degraded", slog.String("error", err.Error()))
	}

	if err := audio.WriteWAV(outPath, result.PCM, result.Format); err != nil {
		b.logger.Error("failed to write wav", slog.String("path", outPath), slog.String("error", err.Error()))
		c.println("")
		return 0
	}
	if len(result.PCM) == 0 {
		c.println("")
	} else {
		c.println(outPath)
	}
	publishSpeech(ctx, b.rt, ttsCfg.Voice, outPath, result)
	return 0
}

// pipedStdin returns stdin unless it is an interactive terminal.
func (c *command) pipedStdin() io.Reader {
	if f, ok := c.stdin.(*os.File); ok {
		if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
			return nil
		}
	}
	return c.stdin
}

func publishSpeech(ctx context.Context, rt *runtime.Runtime, voice, path string, result tts.Result) {
	if result.SessionID == "" {
		return
	}
	rt.Publish(ctx, protocol.SubjectTTSResult, protocol.SpeechResult{
		SessionID:  result.SessionID,
		Model:      result.Model,
		Voice:      voice,
		Path:       path,
		Bytes:      len(result.PCM),
		SampleRate: result.Format.SampleRate,
		Channels:   result.Format.Channels,
		Chunks:     len(result.Chunks),
		Outcome:    result.State.String(),
		Timestamp:  time.Now().UTC(),
	})
	rt.Record(ctx, runtime.JournalEntry{
		SessionID: result.SessionID,
		Direction: session.Synthesis,
		Model:     result.Model,
		Outcome:   result.State,
		Result:    path,
		Events:    result.Events,
	})
}
