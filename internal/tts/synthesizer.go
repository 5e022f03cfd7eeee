package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
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

// ErrNoModels is returned when no synthesis model is configured.
var ErrNoModels = errors.New("no synthesis models configured")

// Options configures synthesis sessions.
type Options struct {
	Models          []string
	Voice           string
	Mode            string
	ResponseFormat  string
	Format          audio.Format
	TextInterval    time.Duration
	FinishTimeout   time.Duration
	FallbackText    string
	MaxEventPayload int
}

func OptionsFromConfig(cfg config.TTSConfig, eventPayload int) Options {
	return Options{
		Models:          cfg.Models,
		Voice:           cfg.Voice,
		Mode:            cfg.Mode,
		ResponseFormat:  cfg.ResponseFormat,
		Format:          audio.Format{SampleRate: cfg.SampleRate, Channels: cfg.Channels},
		TextInterval:    time.Duration(cfg.TextIntervalMS) * time.Millisecond,
		FinishTimeout:   time.Duration(cfg.FinishTimeoutMS) * time.Millisecond,
		FallbackText:    cfg.FallbackText,
		MaxEventPayload: eventPayload,
	}
}

// Result is the outcome of one synthesis session. PCM always holds whole frames.
type Result struct {
	SessionID string
	Model     string
	Chunks    []string
	PCM       []byte
	Format    audio.Format
	State     session.State
	Events    []session.RecordedEvent
}

// Synthesizer streams text chunks into realtime synthesis sessions.
type Synthesizer struct {
	opts   Options
	dial   session.Dialer
	logger *slog.Logger
	tracer trace.Tracer
	pick   func([]string) string
	sleep  func(context.Context, time.Duration) error
}

func NewSynthesizer(opts Options, dial session.Dialer, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		opts:   opts,
		dial:   dial,
		logger: logger.With(slog.String("component", "tts")),
		tracer: otel.Tracer("github.com/loqalabs/loqa-bridge/internal/tts"),
		pick:   pickModel,
		sleep:  audio.Sleep,
	}
}

func pickModel(models []string) string {
	return models[rand.IntN(len(models))]
}

// Chunks segments input, falling back to the configured text when nothing is left.
func (s *Synthesizer) Chunks(input string) []string {
	if chunks := text.Segment(input); len(chunks) > 0 {
		return chunks
	}
	if chunks := text.Segment(s.opts.FallbackText); len(chunks) > 0 {
		return chunks
	}
	return nil
}

// Synthesize speaks input and returns the received audio. Failures after the
// connection is up degrade to whatever audio arrived.
func (s *Synthesizer) Synthesize(ctx context.Context, input string) (Result, error) {
	if len(s.opts.Models) == 0 {
		return Result{}, ErrNoModels
	}
	model := s.pick(s.opts.Models)
	chunks := s.Chunks(input)

	ctx, span := s.tracer.Start(ctx, "tts.synthesize", trace.WithAttributes(
		attribute.String("model", model),
		attribute.String("voice", s.opts.Voice),
		attribute.Int("chunks", len(chunks)),
	))
	defer span.End()

	buffer := &session.AudioBuffer{}
	terminal := session.NewSignal()
	closed := session.NewSignal()
	events := session.NewEventLog(s.opts.MaxEventPayload)

	demux := session.NewDemux(map[string]session.Handler{
		realtime.EventSessionCreated:  session.LifecycleHandler(s.logger),
		realtime.EventSessionUpdated:  session.LifecycleHandler(s.logger),
		realtime.EventAudioDelta:      session.AudioDeltaHandler(buffer),
		realtime.EventSessionFinished: session.TerminalHandler(terminal),
		realtime.EventError:           session.ServerErrorHandler(s.logger),
	},
		session.WithObserver(events.Record),
		session.WithErrorHook(session.DebugErrorHook(s.logger)),
		session.WithOpenHook(session.OpenLogHook(s.logger)),
		session.WithCloseHook(func(int, string) { closed.Fire() }),
	)

	ctrl := session.NewController(s.dial(model, demux), session.Options{
		Direction: session.Synthesis,
		Model:     model,
		Terminal:  terminal,
		Closed:    closed,
		Drain:     session.DrainConfig{Grace: s.opts.FinishTimeout},
		Logger:    s.logger,
	})
	defer ctrl.Close()

	result := Result{SessionID: ctrl.ID(), Model: model, Chunks: chunks, Format: s.opts.Format}
	collect := func() Result {
		pcm := buffer.Bytes()
		if frame := s.opts.Format.FrameSize(); frame > 0 {
			pcm = pcm[:len(pcm)-len(pcm)%frame]
		}
		result.PCM = pcm
		result.State = ctrl.State()
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
	if err := ctrl.Configure(s.sessionOptions()); err != nil {
		return fail(err)
	}
	if err := ctrl.Stream(); err != nil {
		return fail(err)
	}

	streamErr := s.sendChunks(ctx, ctrl, chunks)
	if streamErr != nil {
		s.logger.Warn("text streaming stopped early", slog.String("error", streamErr.Error()))
		span.RecordError(streamErr)
	}

	state := ctrl.Drain(ctx)
	out := collect()
	span.SetAttributes(attribute.String("outcome", state.String()), attribute.Int("pcm_bytes", len(out.PCM)))
	return out, streamErr
}

func (s *Synthesizer) sendChunks(ctx context.Context, ctrl *session.Controller, chunks []string) error {
	for i, chunk := range chunks {
		if err := ctrl.AppendText(chunk); err != nil {
			return fmt.Errorf("append text chunk %d: %w", i, err)
		}
		if err := s.sleep(ctx, s.opts.TextInterval); err != nil {
			return err
		}
	}
	return nil
}

func (s *Synthesizer) sessionOptions() realtime.SessionOptions {
	return realtime.SessionOptions{
		Voice:          s.opts.Voice,
		Mode:           s.opts.Mode,
		ResponseFormat: s.opts.ResponseFormat,
		SampleRate:     s.opts.Format.SampleRate,
	}
}
