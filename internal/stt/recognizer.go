package stt

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loqalabs/loqa-bridge/internal/audio"
	"github.com/loqalabs/loqa-bridge/internal/config"
	"github.com/loqalabs/loqa-bridge/internal/realtime"
	"github.com/loqalabs/loqa-bridge/internal/session"
	"github.com/loqalabs/loqa-bridge/internal/text"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrMalformedInput is returned for empty or undecodable audio payloads.
var ErrMalformedInput = errors.New("malformed audio input")

// Options configures recognition sessions.
type Options struct {
	Model           string
	Language        string
	Format          audio.Format
	ChunkMS         int
	PaceFactor      float64
	DrainCycles     int
	Grace           time.Duration
	TurnDetection   *realtime.TurnDetection
	MaxEventPayload int
}

// OptionsFromConfig picks the buffered or live defaults.
func OptionsFromConfig(cfg config.ASRConfig, eventPayload int, live bool) Options {
	opts := Options{
		Model:           cfg.Model,
		Language:        cfg.Language,
		Format:          audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
		ChunkMS:         cfg.ChunkMS,
		PaceFactor:      cfg.PaceFactor,
		DrainCycles:     cfg.DrainCycles,
		Grace:           time.Duration(cfg.GraceMS) * time.Millisecond,
		MaxEventPayload: eventPayload,
	}
	if live {
		opts.ChunkMS = cfg.LiveChunkMS
		opts.Grace = time.Duration(cfg.LiveGraceMS) * time.Millisecond
	}
	if cfg.VADThreshold > 0 || cfg.VADSilenceMS > 0 {
		opts.TurnDetection = &realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         cfg.VADThreshold,
			SilenceDurationMS: cfg.VADSilenceMS,
		}
	}
	return opts
}

// Result is the outcome of one recognition session. Text is sanitized.
type Result struct {
	SessionID string
	Model     string
	Text      string
	Segments  []string
	State     session.State
	Chunks    int
	Events    []session.RecordedEvent
}

// Recognizer streams audio into realtime recognition sessions.
type Recognizer struct {
	opts   Options
	dial   session.Dialer
	logger *slog.Logger
	tracer trace.Tracer
}

func NewRecognizer(opts Options, dial session.Dialer, logger *slog.Logger) *Recognizer {
	return &Recognizer{
		opts:   opts,
		dial:   dial,
		logger: logger.With(slog.String("component", "stt")),
		tracer: otel.Tracer("github.com/loqalabs/loqa-bridge/internal/stt"),
	}
}

// DecodeInput decodes a base64 PCM payload, ignoring surrounding whitespace.
func DecodeInput(raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedInput)
	}
	pcm, err := base64.StdEncoding.DecodeString(string(trimmed))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrMalformedInput)
	}
	return pcm, nil
}

// TranscribeBuffer recognizes an in-memory PCM payload.
func (r *Recognizer) TranscribeBuffer(ctx context.Context, pcm []byte) (Result, error) {
	if len(pcm) == 0 {
		return Result{Model: r.opts.Model}, fmt.Errorf("%w: empty payload", ErrMalformedInput)
	}
	pacer := audio.NewPacer(r.opts.Format, r.opts.ChunkMS, r.opts.PaceFactor)
	return r.run(ctx, "buffer", func(ctx context.Context, ctrl *session.Controller) (int, error) {
		return pacer.SendBuffer(ctx, pcm, ctrl.AppendAudio)
	})
}

// TranscribeLive streams src until stop is closed or duration elapses. The source is
// closed before the session drains.
func (r *Recognizer) TranscribeLive(ctx context.Context, src audio.Source, stop <-chan struct{}, duration time.Duration) (Result, error) {
	release := sync.OnceValue(src.Close)
	defer release()
	pacer := audio.NewPacer(r.opts.Format, r.opts.ChunkMS, 0)
	return r.run(ctx, "live", func(ctx context.Context, ctrl *session.Controller) (int, error) {
		n, err := pacer.Stream(ctx, src, stop, duration, ctrl.AppendAudio)
		if closeErr := release(); closeErr != nil {
			r.logger.Warn("failed to release capture source", slog.String("error", closeErr.Error()))
		}
		return n, err
	})
}

type streamFunc func(ctx context.Context, ctrl *session.Controller) (int, error)

func (r *Recognizer) run(ctx context.Context, mode string, stream streamFunc) (Result, error) {
	ctx, span := r.tracer.Start(ctx, "stt.recognize", trace.WithAttributes(
		attribute.String("model", r.opts.Model),
		attribute.String("mode", mode),
	))
	defer span.End()

	transcript := &session.Transcript{}
	terminal := session.NewSignal()
	closed := session.NewSignal()
	events := session.NewEventLog(r.opts.MaxEventPayload)

	demux := session.NewDemux(map[string]session.Handler{
		realtime.EventSessionCreated:         session.LifecycleHandler(r.logger),
		realtime.EventSessionUpdated:         session.LifecycleHandler(r.logger),
		realtime.EventSpeechStarted:          session.LifecycleHandler(r.logger),
		realtime.EventSpeechStopped:          session.LifecycleHandler(r.logger),
		realtime.EventTranscriptionCompleted: session.TranscriptHandler(transcript),
		realtime.EventSessionFinished:        session.TerminalHandler(terminal),
		realtime.EventError:                  session.ServerErrorHandler(r.logger),
	},
		session.WithObserver(events.Record),
		session.WithErrorHook(session.DebugErrorHook(r.logger)),
		session.WithOpenHook(session.OpenLogHook(r.logger)),
		session.WithCloseHook(func(int, string) { closed.Fire() }),
	)

	ctrl := session.NewController(r.dial(r.opts.Model, demux), session.Options{
		Direction: session.Recognition,
		Model:     r.opts.Model,
		Terminal:  terminal,
		Closed:    closed,
		Drain: session.DrainConfig{
			SilenceCycles: r.opts.DrainCycles,
			SilenceChunk:  audio.Silence(r.opts.Format.ChunkSize(r.opts.ChunkMS)),
			CycleDelay:    session.CycleDelay(r.opts.ChunkMS),
			Grace:         r.opts.Grace,
		},
		Logger: r.logger,
	})
	defer ctrl.Close()

	result := Result{SessionID: ctrl.ID(), Model: r.opts.Model}
	collect := func() Result {
		result.State = ctrl.State()
		result.Segments = transcript.Segments()
		result.Text = text.Sanitize(transcript.Text())
		result.Events = events.Events()
		return result
	}
	fail := func(err error) (Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		_ = ctrl.Close()
		return collect(), err
	}

	if err := ctrl.Connect(ctx); err != nil {
		return fail(err)
	}
	if err := ctrl.Configure(r.sessionOptions()); err != nil {
		return fail(err)
	}
	if err := ctrl.Stream(); err != nil {
		return fail(err)
	}

	n, streamErr := stream(ctx, ctrl)
	result.Chunks = n
	if streamErr != nil {
		r.logger.Warn("audio streaming stopped early", slog.Int("chunks", n), slog.String("error", streamErr.Error()))
		span.RecordError(streamErr)
	}

	state := ctrl.Drain(ctx)
	span.SetAttributes(attribute.String("outcome", state.String()), attribute.Int("chunks", n))
	r.logger.Debug("recognition complete", slog.String("session_id", ctrl.ID()), slog.String("state", state.String()))
	return collect(), streamErr
}

func (r *Recognizer) sessionOptions() realtime.SessionOptions {
	return realtime.SessionOptions{
		Modalities:       []string{"text"},
		InputAudioFormat: "pcm",
		SampleRate:       r.opts.Format.SampleRate,
		Language:         r.opts.Language,
		TurnDetection:    r.opts.TurnDetection,
	}
}
