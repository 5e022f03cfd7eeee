package protocol

import (
	"encoding/json"
	"time"
)

// Transcript is a recognition result broadcast on the bus.
type Transcript struct {
	SessionID string    `json:"session_id"`
	Model     string    `json:"model"`
	Mode      string    `json:"mode"`
	Text      string    `json:"text"`
	Segments  []string  `json:"segments,omitempty"`
	Outcome   string    `json:"outcome"`
	Chunks    int       `json:"chunks"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeechResult describes a finished synthesis session. Audio stays on disk.
type SpeechResult struct {
	SessionID  string    `json:"session_id"`
	Model      string    `json:"model"`
	Voice      string    `json:"voice"`
	Path       string    `json:"path,omitempty"`
	Bytes      int       `json:"bytes"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	Chunks     int       `json:"chunks"`
	Outcome    string    `json:"outcome"`
	Timestamp  time.Time `json:"timestamp"`
}

// ChatResult is an aggregated chat completion.
type ChatResult struct {
	Model     string          `json:"model"`
	Text      string          `json:"text"`
	Usage     json.RawMessage `json:"usage,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

const (
	SubjectASRResult  = "bridge.asr.result"
	SubjectTTSResult  = "bridge.tts.result"
	SubjectChatResult = "bridge.chat.result"
)
