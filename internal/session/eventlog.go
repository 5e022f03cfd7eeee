package session

import (
	"sync"
	"time"

	"github.com/loqalabs/loqa-bridge/internal/realtime"
)

// RecordedEvent is a journal entry for one received event.
type RecordedEvent struct {
	Type      string
	Payload   []byte
	Truncated bool
	At        time.Time
}

// EventLog keeps received events for diagnostics. Payloads longer than maxPayload
// are cut; a non-positive maxPayload keeps only the type.
type EventLog struct {
	mu         sync.Mutex
	maxPayload int
	events     []RecordedEvent
	clock      func() time.Time
}

func NewEventLog(maxPayload int) *EventLog {
	return &EventLog{maxPayload: maxPayload, clock: time.Now}
}

// Record is meant for WithObserver.
func (l *EventLog) Record(evt realtime.Event) {
	entry := RecordedEvent{Type: evt.Type, At: l.clock().UTC()}
	if l.maxPayload > 0 {
		payload := evt.Raw
		if len(payload) > l.maxPayload {
			payload = payload[:l.maxPayload]
			entry.Truncated = true
		}
		entry.Payload = append([]byte(nil), payload...)
	}
	recordEvent(evt.Type)
	l.mu.Lock()
	l.events = append(l.events, entry)
	l.mu.Unlock()
}

func (l *EventLog) Events() []RecordedEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]RecordedEvent(nil), l.events...)
}
