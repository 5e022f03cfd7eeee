package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-bridge/internal/realtime"
)

type fakeClient struct {
	mu        sync.Mutex
	calls     []string
	closes    int
	appendErr error
	onFinish  func()
}

func (f *fakeClient) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeClient) Connect(context.Context) error {
	f.record("connect")
	return nil
}

func (f *fakeClient) UpdateSession(realtime.SessionOptions) error {
	f.record("update")
	return nil
}

func (f *fakeClient) AppendAudio(string) error {
	f.record("audio")
	return f.appendErr
}

func (f *fakeClient) AppendText(string) error {
	f.record("text")
	return nil
}

func (f *fakeClient) Finish() error {
	f.record("finish")
	if f.onFinish != nil {
		f.onFinish()
	}
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

func streamingController(t *testing.T, client *fakeClient, opts Options) *Controller {
	t.Helper()
	ctrl := NewController(client, opts)
	ctrl.sleep = func(context.Context, time.Duration) error { return nil }
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ctrl.Configure(realtime.SessionOptions{}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if err := ctrl.Stream(); err != nil {
		t.Fatalf("stream: %v", err)
	}
	return ctrl
}

func TestDrainRecognitionTimesOutAfterGrace(t *testing.T) {
	client := &fakeClient{}
	ctrl := streamingController(t, client, Options{
		Direction: Recognition,
		Drain:     DrainConfig{SilenceCycles: 3, SilenceChunk: make([]byte, 3200), CycleDelay: 100 * time.Millisecond, Grace: 150 * time.Millisecond},
	})

	start := time.Now()
	state := ctrl.Drain(context.Background())
	elapsed := time.Since(start)

	if state != StateTimedOut {
		t.Fatalf("expected timed out, got %s", state)
	}
	if elapsed < 150*time.Millisecond || elapsed > time.Second {
		t.Fatalf("unexpected drain duration %s", elapsed)
	}
	if got := client.count("audio"); got != 3 {
		t.Fatalf("expected 3 silence cycles, got %d", got)
	}
	if client.closes != 1 {
		t.Fatalf("expected exactly one close, got %d", client.closes)
	}
}

func TestDrainSynthesisFinishesOnTerminalEvent(t *testing.T) {
	terminal := NewSignal()
	client := &fakeClient{}
	client.onFinish = func() {
		go func() {
			time.Sleep(20 * time.Millisecond)
			terminal.Fire()
			terminal.Fire()
		}()
	}
	ctrl := streamingController(t, client, Options{
		Direction: Synthesis,
		Terminal:  terminal,
		Drain:     DrainConfig{Grace: 5 * time.Second},
	})

	start := time.Now()
	state := ctrl.Drain(context.Background())
	if state != StateFinished {
		t.Fatalf("expected finished, got %s", state)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("terminal event should end the wait early")
	}
	if client.count("finish") != 1 || client.count("audio") != 0 {
		t.Fatalf("unexpected calls %v", client.calls)
	}
	if ctrl.State() != StateFinished {
		t.Fatalf("state not recorded")
	}
}

func TestDrainEndsEarlyWhenRemoteCloses(t *testing.T) {
	closed := NewSignal()
	closed.Fire()
	client := &fakeClient{appendErr: errors.New("broken pipe")}
	ctrl := streamingController(t, client, Options{
		Direction: Recognition,
		Closed:    closed,
		Drain:     DrainConfig{SilenceCycles: 3, SilenceChunk: []byte{0, 0}, Grace: 10 * time.Second},
	})
	start := time.Now()
	if state := ctrl.Drain(context.Background()); state != StateTimedOut {
		t.Fatalf("expected timed out, got %s", state)
	}
	if time.Since(start) > time.Second {
		t.Fatal("closed connection should not wait for the full grace period")
	}
	if client.closes != 1 {
		t.Fatalf("expected close, got %d", client.closes)
	}
}

func TestDrainAbsorbsAppendErrors(t *testing.T) {
	client := &fakeClient{appendErr: errors.New("write failed")}
	ctrl := streamingController(t, client, Options{
		Direction: Recognition,
		Drain:     DrainConfig{SilenceCycles: 3, SilenceChunk: []byte{0, 0}, Grace: 10 * time.Millisecond},
	})
	if state := ctrl.Drain(context.Background()); state != StateTimedOut {
		t.Fatalf("expected timed out, got %s", state)
	}
	if client.count("audio") != 1 {
		t.Fatalf("expected silence to stop after first failure")
	}
}

func TestTerminalBeforeDrain(t *testing.T) {
	terminal := NewSignal()
	terminal.Fire()
	client := &fakeClient{}
	ctrl := streamingController(t, client, Options{Direction: Synthesis, Terminal: terminal, Drain: DrainConfig{Grace: time.Hour}})
	if state := ctrl.Drain(context.Background()); state != StateFinished {
		t.Fatalf("expected finished, got %s", state)
	}
}

func TestInvalidTransitions(t *testing.T) {
	client := &fakeClient{}
	ctrl := NewController(client, Options{Direction: Recognition})
	if err := ctrl.AppendAudio("AA=="); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := ctrl.Configure(realtime.SessionOptions{}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if state := ctrl.Drain(context.Background()); state != StateCreated {
		t.Fatalf("drain from created should not change state, got %s", state)
	}
	_ = ctrl.Close()
	_ = ctrl.Close()
	if client.closes != 1 {
		t.Fatalf("expected a single close, got %d", client.closes)
	}
}

func TestCycleDelay(t *testing.T) {
	if CycleDelay(5) != MinCycleDelay {
		t.Fatalf("expected floor at %s", MinCycleDelay)
	}
	if CycleDelay(200) != 200*time.Millisecond {
		t.Fatalf("expected chunk duration")
	}
}
