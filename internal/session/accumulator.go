package session

import (
	"encoding/base64"
	"fmt"
	"strings"
	"sync"

	"github.com/loqalabs/loqa-bridge/internal/realtime"
)

// Transcript collects recognized segments in arrival order.
type Transcript struct {
	mu       sync.Mutex
	segments []string
}

// Append stores s trimmed; blank segments are dropped.
func (t *Transcript) Append(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	t.mu.Lock()
	t.segments = append(t.segments, s)
	t.mu.Unlock()
	return true
}

// Segments returns a copy of the collected segments.
func (t *Transcript) Segments() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.segments...)
}

// Text joins the segments with single spaces.
func (t *Transcript) Text() string {
	return strings.Join(t.Segments(), " ")
}

// AudioBuffer collects decoded audio in arrival order.
type AudioBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (a *AudioBuffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	a.mu.Lock()
	a.buf = append(a.buf, p...)
	a.mu.Unlock()
}

// Bytes returns a copy of everything appended so far.
func (a *AudioBuffer) Bytes() []byte {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]byte(nil), a.buf...)
}

// TranscriptHandler appends the transcript field of completion events.
func TranscriptHandler(t *Transcript) Handler {
	return func(evt realtime.Event) error {
		t.Append(evt.String("transcript"))
		return nil
	}
}

// AudioDeltaHandler decodes the base64 delta field and appends it.
func AudioDeltaHandler(a *AudioBuffer) Handler {
	return func(evt realtime.Event) error {
		delta := evt.String("delta")
		if delta == "" {
			return nil
		}
		pcm, err := base64.StdEncoding.DecodeString(delta)
		if err != nil {
			return fmt.Errorf("decode audio delta: %w", err)
		}
		a.Append(pcm)
		return nil
	}
}

// TerminalHandler fires s on the first terminal event.
func TerminalHandler(s *Signal) Handler {
	return func(realtime.Event) error {
		s.Fire()
		return nil
	}
}
