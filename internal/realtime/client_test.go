package realtime

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-bridge/internal/realtime/realtimetest"
)

type recorder struct {
	mu     sync.Mutex
	opened bool
	events []Event
	code   int
	closed chan struct{}
}

func newRecorder() *recorder { return &recorder{closed: make(chan struct{})} }

func (r *recorder) OnOpen() {
	r.mu.Lock()
	r.opened = true
	r.mu.Unlock()
}

func (r *recorder) OnEvent(evt Event) {
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

func (r *recorder) OnClose(code int, _ string) {
	r.mu.Lock()
	r.code = code
	r.mu.Unlock()
	close(r.closed)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var types []string
	for _, evt := range r.events {
		types = append(types, evt.Type)
	}
	return types
}

func TestClientSendsEventsAndDeliversCallbacks(t *testing.T) {
	srv := realtimetest.NewServer(func(s *realtimetest.Session) {
		_ = s.Send(EventSessionCreated, nil)
		s.Drain(func(msg realtimetest.Message) {
			switch msg.Type {
			case EventSessionUpdate:
				_ = s.Send(EventSessionUpdated, nil)
			case EventSessionFinish:
				_ = s.Send(EventSessionFinished, nil)
			}
		})
	})
	defer srv.Close()

	rec := newRecorder()
	client := NewClient(Config{URL: srv.WSURL(), Model: "qwen3-asr-flash-realtime", APIKey: "sk-test"}, rec)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := client.UpdateSession(SessionOptions{Modalities: []string{"text"}, Language: "zh", SampleRate: 16000, InputAudioFormat: "pcm"}); err != nil {
		t.Fatalf("update session: %v", err)
	}
	if err := client.AppendAudio("AAAA"); err != nil {
		t.Fatalf("append audio: %v", err)
	}
	if err := client.Finish(); err != nil {
		t.Fatalf("finish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(rec.types()) < 3 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	<-rec.closed

	got := rec.types()
	want := []string{EventSessionCreated, EventSessionUpdated, EventSessionFinished}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
	if !rec.opened {
		t.Fatal("expected OnOpen")
	}

	if auth := srv.Header().Get("Authorization"); auth != "Bearer sk-test" {
		t.Fatalf("unexpected authorization header %q", auth)
	}
	query, _ := url.ParseQuery(srv.RawQuery())
	if query.Get("model") != "qwen3-asr-flash-realtime" {
		t.Fatalf("expected model query, got %q", srv.RawQuery())
	}

	msgs := srv.Messages()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 client events, got %v", srv.Types())
	}
	session, _ := msgs[0].Fields["session"].(map[string]any)
	transcription, _ := session["input_audio_transcription"].(map[string]any)
	if transcription["language"] != "zh" || session["input_audio_format"] != "pcm" {
		t.Fatalf("unexpected session payload %v", session)
	}
	if msgs[1].String("audio") != "AAAA" || msgs[1].String("event_id") == "" {
		t.Fatalf("unexpected append payload %v", msgs[1].Fields)
	}
}

func TestClientConnectFailure(t *testing.T) {
	client := NewClient(Config{URL: "ws://127.0.0.1:1/realtime", DialTimeout: 500 * time.Millisecond}, newRecorder())
	err := client.Connect(context.Background())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("close after failed connect: %v", err)
	}
}

func TestClientSendAfterClose(t *testing.T) {
	srv := realtimetest.NewServer(func(s *realtimetest.Session) { s.Drain(nil) })
	defer srv.Close()

	rec := newRecorder()
	client := NewClient(Config{URL: srv.WSURL()}, rec)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = client.Close()
	err := client.AppendText("hello")
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestClientReportsRemoteClose(t *testing.T) {
	srv := realtimetest.NewServer(func(s *realtimetest.Session) {
		_ = s.Send(EventError, map[string]any{"error": map[string]any{"message": "bad key"}})
	})
	defer srv.Close()

	rec := newRecorder()
	client := NewClient(Config{URL: srv.WSURL()}, rec)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer client.Close()

	select {
	case <-rec.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected OnClose after server hangup")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 1 || rec.events[0].ErrorMessage() != "bad key" {
		t.Fatalf("unexpected events %v", rec.events)
	}
	if rec.code != 1000 {
		t.Fatalf("expected normal closure, got %d", rec.code)
	}
}

func TestDecodeEvent(t *testing.T) {
	evt, err := DecodeEvent([]byte(`{"type":"conversation.item.input_audio_transcription.completed","transcript":" 你好 "}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Type != EventTranscriptionCompleted || evt.String("transcript") != " 你好 " {
		t.Fatalf("unexpected event %+v", evt)
	}
	if _, err := DecodeEvent([]byte(`{"transcript":"x"}`)); err == nil {
		t.Fatal("expected error for untyped event")
	}
	if _, err := DecodeEvent([]byte(`not json`)); err == nil {
		t.Fatal("expected error for invalid json")
	}
}
