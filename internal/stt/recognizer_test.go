package stt

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-bridge/internal/audio"
	"github.com/loqalabs/loqa-bridge/internal/realtime"
	"github.com/loqalabs/loqa-bridge/internal/realtime/realtimetest"
	"github.com/loqalabs/loqa-bridge/internal/session"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func dialer(url string) session.Dialer {
	return func(model string, cb realtime.Callback) session.Client {
		return realtime.NewClient(realtime.Config{URL: url, Model: model, APIKey: "sk-test", CloseGracePeriod: 500 * time.Millisecond}, cb)
	}
}

func testOptions() Options {
	return Options{
		Model:       "qwen3-asr-flash-realtime",
		Language:    "zh",
		Format:      audio.Format{SampleRate: 16000, Channels: 1},
		ChunkMS:     100,
		DrainCycles: 3,
		Grace:       200 * time.Millisecond,
	}
}

func TestTranscribeSilenceYieldsEmptyText(t *testing.T) {
	srv := realtimetest.NewServer(func(s *realtimetest.Session) {
		_ = s.Send(realtime.EventSessionCreated, nil)
		s.Drain(nil)
	})
	defer srv.Close()

	rec := NewRecognizer(testOptions(), dialer(srv.WSURL()), newLogger())
	start := time.Now()
	result, err := rec.TranscribeBuffer(context.Background(), make([]byte, 32000))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "" {
		t.Fatalf("expected empty transcript, got %q", result.Text)
	}
	if result.State != session.StateTimedOut {
		t.Fatalf("expected timed out, got %s", result.State)
	}
	if result.Chunks != 10 {
		t.Fatalf("expected 10 chunks, got %d", result.Chunks)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("transcription took %s", elapsed)
	}

	types := srv.Types()
	if len(types) != 14 || types[0] != realtime.EventSessionUpdate {
		t.Fatalf("expected session.update then 13 appends, got %v", types)
	}
	for _, typ := range types[1:] {
		if typ != realtime.EventAudioAppend {
			t.Fatalf("unexpected client event %q", typ)
		}
	}
}

func TestTranscribeCollectsAndSanitizes(t *testing.T) {
	srv := realtimetest.NewServer(func(s *realtimetest.Session) {
		appends := 0
		s.Drain(func(msg realtimetest.Message) {
			if msg.Type != realtime.EventAudioAppend {
				return
			}
			appends++
			if appends == 2 {
				_ = s.Send(realtime.EventTranscriptionCompleted, map[string]any{"transcript": " “今天天气不错” "})
			}
			if appends == 4 {
				_ = s.Send("conversation.item.unknown", nil)
				_ = s.Send(realtime.EventSessionFinished, nil)
			}
		})
	})
	defer srv.Close()

	opts := testOptions()
	opts.Grace = 5 * time.Second
	rec := NewRecognizer(opts, dialer(srv.WSURL()), newLogger())
	start := time.Now()
	result, err := rec.TranscribeBuffer(context.Background(), make([]byte, 3200*2))
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if result.Text != "今天天气不错" {
		t.Fatalf("unexpected transcript %q", result.Text)
	}
	if result.State != session.StateFinished {
		t.Fatalf("expected finished, got %s", result.State)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatal("terminal event should end the grace wait")
	}
	if len(result.Events) < 3 {
		t.Fatalf("expected events recorded, got %d", len(result.Events))
	}
}

func TestTranscribeConnectionFailure(t *testing.T) {
	rec := NewRecognizer(testOptions(), dialer("ws://127.0.0.1:1/realtime"), newLogger())
	result, err := rec.TranscribeBuffer(context.Background(), make([]byte, 3200))
	var connErr *realtime.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if result.Text != "" {
		t.Fatalf("expected empty transcript, got %q", result.Text)
	}
}

type stubSource struct {
	closed int
}

func (s *stubSource) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	return make([]byte, 6400), nil
}

func (s *stubSource) Close() error {
	s.closed++
	return nil
}

func TestTranscribeLiveStopsAndReleasesSource(t *testing.T) {
	srv := realtimetest.NewServer(func(s *realtimetest.Session) {
		s.Drain(func(msg realtimetest.Message) {
			if msg.Type == realtime.EventAudioAppend && msg.String("audio") != base64.StdEncoding.EncodeToString(make([]byte, 6400)) {
				_ = s.Send(realtime.EventError, map[string]any{"message": "unexpected chunk"})
			}
		})
	})
	defer srv.Close()

	opts := testOptions()
	opts.ChunkMS = 200
	rec := NewRecognizer(opts, dialer(srv.WSURL()), newLogger())
	src := &stubSource{}
	stop := make(chan struct{})
	time.AfterFunc(50*time.Millisecond, func() { close(stop) })

	result, err := rec.TranscribeLive(context.Background(), src, stop, 0)
	if err != nil {
		t.Fatalf("transcribe live: %v", err)
	}
	if result.Chunks == 0 {
		t.Fatal("expected some chunks before stop")
	}
	if src.closed != 1 {
		t.Fatalf("expected source closed once, got %d", src.closed)
	}
	for _, evt := range result.Events {
		if evt.Type == realtime.EventError {
			t.Fatalf("server rejected a chunk")
		}
	}
}

type stalledSource struct {
	released chan struct{}
	once     sync.Once
}

func (s *stalledSource) Read(ctx context.Context) ([]byte, error) {
	<-s.released
	return nil, io.ErrClosedPipe
}

func (s *stalledSource) Close() error {
	s.once.Do(func() { close(s.released) })
	return nil
}

func TestTranscribeLiveStopsStalledCapture(t *testing.T) {
	srv := realtimetest.NewServer(func(s *realtimetest.Session) {
		s.Drain(nil)
	})
	defer srv.Close()

	rec := NewRecognizer(testOptions(), dialer(srv.WSURL()), newLogger())
	src := &stalledSource{released: make(chan struct{})}
	stop := make(chan struct{})
	time.AfterFunc(50*time.Millisecond, func() { close(stop) })

	done := make(chan Result, 1)
	go func() {
		result, _ := rec.TranscribeLive(context.Background(), src, stop, 0)
		done <- result
	}()
	select {
	case result := <-done:
		if result.Chunks != 0 {
			t.Fatalf("expected no chunks, got %d", result.Chunks)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("live recognition did not end after stop while capture was stalled")
	}
	select {
	case <-src.released:
	default:
		t.Fatal("expected capture source released")
	}
}

func TestDecodeInput(t *testing.T) {
	if _, err := DecodeInput([]byte("  \n")); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected malformed input for blank payload, got %v", err)
	}
	if _, err := DecodeInput([]byte("@@not-base64@@")); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected malformed input for invalid payload, got %v", err)
	}
	pcm, err := DecodeInput([]byte(base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}) + "\n"))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(pcm) != 4 {
		t.Fatalf("unexpected pcm length %d", len(pcm))
	}
}

func TestTranscribeEmptyBuffer(t *testing.T) {
	rec := NewRecognizer(testOptions(), dialer("ws://unused"), newLogger())
	if _, err := rec.TranscribeBuffer(context.Background(), nil); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("expected malformed input, got %v", err)
	}
}
