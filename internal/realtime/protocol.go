package realtime

// Client event types.
const (
	EventSessionUpdate = "session.update"
	EventAudioAppend   = "input_audio_buffer.append"
	EventTextAppend    = "input_text_buffer.append"
	EventSessionFinish = "session.finish"
)

// Server event types.
const (
	EventSessionCreated         = "session.created"
	EventSessionUpdated         = "session.updated"
	EventSessionClosed          = "session.closed"
	EventSessionFinished        = "session.finished"
	EventTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	EventAudioDelta             = "response.audio.delta"
	EventSpeechStarted          = "input_audio_buffer.speech_started"
	EventSpeechStopped          = "input_audio_buffer.speech_stopped"
	EventError                  = "error"
)

// SessionOptions are the optional session parameters; zero values are omitted.
type SessionOptions struct {
	Modalities       []string
	Language         string
	SampleRate       int
	InputAudioFormat string
	Voice            string
	ResponseFormat   string
	Mode             string
	TurnDetection    *TurnDetection
}

// TurnDetection enables server-side voice activity detection.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold,omitempty"`
	SilenceDurationMS int     `json:"silence_duration_ms,omitempty"`
}

type clientEvent struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
}

type sessionUpdateEvent struct {
	clientEvent
	Session sessionConfig `json:"session"`
}

type sessionConfig struct {
	Modalities              []string             `json:"modalities,omitempty"`
	Voice                   string               `json:"voice,omitempty"`
	Mode                    string               `json:"mode,omitempty"`
	ResponseFormat          string               `json:"response_format,omitempty"`
	SampleRate              int                  `json:"sample_rate,omitempty"`
	InputAudioFormat        string               `json:"input_audio_format,omitempty"`
	InputAudioTranscription *transcriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection       `json:"turn_detection,omitempty"`
}

type transcriptionConfig struct {
	Language string `json:"language,omitempty"`
}

type audioAppendEvent struct {
	clientEvent
	Audio string `json:"audio"`
}

type textAppendEvent struct {
	clientEvent
	Text string `json:"text"`
}

func (o SessionOptions) config() sessionConfig {
	cfg := sessionConfig{
		Modalities:       o.Modalities,
		Voice:            o.Voice,
		Mode:             o.Mode,
		ResponseFormat:   o.ResponseFormat,
		SampleRate:       o.SampleRate,
		InputAudioFormat: o.InputAudioFormat,
		TurnDetection:    o.TurnDetection,
	}
	if o.Language != "" {
		cfg.InputAudioTranscription = &transcriptionConfig{Language: o.Language}
	}
	return cfg
}
