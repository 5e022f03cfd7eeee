package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// APIKeyEnv names the variable holding the DashScope credential.
const APIKeyEnv = "DASHSCOPE_API_KEY"

// ErrMissingAPIKey is returned when no credential can be resolved. It is the only
// error that aborts an invocation with a non-zero status.
var ErrMissingAPIKey = errors.New(APIKeyEnv + " is not set")

type TelemetryConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`     // json, text
	TraceExporter  string `yaml:"trace_exporter"` // none, stdout, otlp
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Realtime    RealtimeConfig   `yaml:"realtime"`
	ASR         ASRConfig        `yaml:"asr"`
	TTS         TTSConfig        `yaml:"tts"`
	Chat        ChatConfig       `yaml:"chat"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	JetStream      bool     `yaml:"jetstream"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
	MaxPayload    int    `yaml:"max_payload_bytes"`
}

type RealtimeConfig struct {
	URL             string `yaml:"url"`
	DialTimeoutMS   int    `yaml:"dial_timeout_ms"`
	WriteTimeoutMS  int    `yaml:"write_timeout_ms"`
	CloseGraceMS    int    `yaml:"close_grace_ms"`
	MaxMessageBytes int64  `yaml:"max_message_bytes"`
}

type ASRConfig struct {
	Model          string  `yaml:"model"`
	Language       string  `yaml:"language"`
	SampleRate     int     `yaml:"sample_rate"`
	Channels       int     `yaml:"channels"`
	ChunkMS        int     `yaml:"chunk_ms"`
	LiveChunkMS    int     `yaml:"live_chunk_ms"`
	PaceFactor     float64 `yaml:"pace_factor"`
	DrainCycles    int     `yaml:"drain_cycles"`
	GraceMS        int     `yaml:"grace_ms"`
	LiveGraceMS    int     `yaml:"live_grace_ms"`
	VADThreshold   float64 `yaml:"vad_threshold"`
	VADSilenceMS   int     `yaml:"vad_silence_ms"`
	CaptureMode    string  `yaml:"capture_mode"` // portaudio, command
	CaptureCommand string  `yaml:"capture_command"`
}

type TTSConfig struct {
	Models          []string `yaml:"models"`
	Voice           string   `yaml:"voice"`
	Mode            string   `yaml:"mode"`
	ResponseFormat  string   `yaml:"response_format"`
	SampleRate      int      `yaml:"sample_rate"`
	Channels        int      `yaml:"channels"`
	TextIntervalMS  int      `yaml:"text_interval_ms"`
	FinishTimeoutMS int      `yaml:"finish_timeout_ms"`
	FallbackText    string   `yaml:"fallback_text"`
}

type ChatConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-bridge",
		Environment: "development",
		Telemetry: TelemetryConfig{
			LogLevel:      "warn",
			LogFormat:     "json",
			TraceExporter: "none",
			OTLPInsecure:  true,
		},
		Bus: BusConfig{
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-bridge.db",
			RetentionMode: "ephemeral",
			RetentionDays: 30,
			MaxSessions:   1000,
			MaxPayload:    4096,
		},
		Realtime: RealtimeConfig{
			URL:             "wss://dashscope.aliyuncs.com/api-ws/v1/realtime",
			DialTimeoutMS:   10000,
			WriteTimeoutMS:  10000,
			CloseGraceMS:    2000,
			MaxMessageBytes: 16 * 1024 * 1024,
		},
		ASR: ASRConfig{
			Model:        "qwen3-asr-flash-realtime",
			Language:     "zh",
			SampleRate:   16000,
			Channels:     1,
			ChunkMS:      100,
			LiveChunkMS:  200,
			PaceFactor:   1.0,
			DrainCycles:  3,
			GraceMS:      1500,
			LiveGraceMS:  2000,
			VADThreshold: 0.2,
			VADSilenceMS: 800,
			CaptureMode:  "portaudio",
		},
		TTS: TTSConfig{
			Models: []string{
				"qwen3-tts-flash-realtime",
				"qwen3-tts-flash-realtime-2025-11-27",
				"qwen3-tts-flash-realtime-2025-09-18",
			},
			Voice:           "Cherry",
			Mode:            "server_commit",
			ResponseFormat:  "pcm",
			SampleRate:      24000,
			Channels:        1,
			TextIntervalMS:  100,
			FinishTimeoutMS: 30000,
			FallbackText:    "对不起，我不是很理解你的意思呢试着重新提问一次吧~",
		},
		Chat: ChatConfig{
			BaseURL:   "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Model:     "qwen3-omni-flash",
			TimeoutMS: 120000,
		},
	}
}

// Load reads the optional YAML file, then the .env file, then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := loadDotEnv(); err != nil {
		return cfg, err
	}
	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// APIKey resolves the service credential from the environment.
func APIKey() (string, error) {
	key := strings.TrimSpace(os.Getenv(APIKeyEnv))
	if key == "" {
		return "", ErrMissingAPIKey
	}
	return key, nil
}

// loadDotEnv never overrides variables already present in the environment.
func loadDotEnv() error {
	path := ".env"
	if value, ok := os.LookupEnv("LOQA_DOTENV_PATH"); ok && strings.TrimSpace(value) != "" {
		path = value
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("stat dotenv file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load dotenv file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFormat, "LOQA_TELEMETRY_LOG_FORMAT")
	overrideString(&cfg.Telemetry.TraceExporter, "LOQA_TELEMETRY_TRACE_EXPORTER")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideBool(&cfg.Bus.JetStream, "LOQA_BUS_JETSTREAM")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.EventStore.MaxPayload, "LOQA_EVENT_STORE_MAX_PAYLOAD_BYTES")
	overrideString(&cfg.Realtime.URL, "LOQA_REALTIME_URL")
	overrideInt(&cfg.Realtime.DialTimeoutMS, "LOQA_REALTIME_DIAL_TIMEOUT_MS")
	overrideInt(&cfg.Realtime.WriteTimeoutMS, "LOQA_REALTIME_WRITE_TIMEOUT_MS")
	overrideInt(&cfg.Realtime.CloseGraceMS, "LOQA_REALTIME_CLOSE_GRACE_MS")
	overrideString(&cfg.ASR.Model, "LOQA_ASR_MODEL")
	overrideString(&cfg.ASR.Language, "LOQA_ASR_LANGUAGE")
	overrideInt(&cfg.ASR.SampleRate, "LOQA_ASR_SAMPLE_RATE")
	overrideInt(&cfg.ASR.Channels, "LOQA_ASR_CHANNELS")
	overrideInt(&cfg.ASR.ChunkMS, "LOQA_ASR_CHUNK_MS")
	overrideInt(&cfg.ASR.LiveChunkMS, "LOQA_ASR_LIVE_CHUNK_MS")
	overrideFloat(&cfg.ASR.PaceFactor, "LOQA_ASR_PACE_FACTOR")
	overrideInt(&cfg.ASR.DrainCycles, "LOQA_ASR_DRAIN_CYCLES")
	overrideInt(&cfg.ASR.GraceMS, "LOQA_ASR_GRACE_MS")
	overrideInt(&cfg.ASR.LiveGraceMS, "LOQA_ASR_LIVE_GRACE_MS")
	overrideFloat(&cfg.ASR.VADThreshold, "LOQA_ASR_VAD_THRESHOLD")
	overrideInt(&cfg.ASR.VADSilenceMS, "LOQA_ASR_VAD_SILENCE_MS")
	overrideString(&cfg.ASR.CaptureMode, "LOQA_ASR_CAPTURE_MODE")
	overrideString(&cfg.ASR.CaptureCommand, "LOQA_ASR_CAPTURE_COMMAND")
	overrideStringSlice(&cfg.TTS.Models, "LOQA_TTS_MODELS")
	overrideString(&cfg.TTS.Voice, "LOQA_TTS_VOICE")
	overrideString(&cfg.TTS.Mode, "LOQA_TTS_MODE")
	overrideString(&cfg.TTS.ResponseFormat, "LOQA_TTS_RESPONSE_FORMAT")
	overrideInt(&cfg.TTS.SampleRate, "LOQA_TTS_SAMPLE_RATE")
	overrideInt(&cfg.TTS.Channels, "LOQA_TTS_CHANNELS")
	overrideInt(&cfg.TTS.TextIntervalMS, "LOQA_TTS_TEXT_INTERVAL_MS")
	overrideInt(&cfg.TTS.FinishTimeoutMS, "LOQA_TTS_FINISH_TIMEOUT_MS")
	overrideString(&cfg.TTS.FallbackText, "LOQA_TTS_FALLBACK_TEXT")
	overrideString(&cfg.Chat.BaseURL, "DASHSCOPE_COMPAT_BASE_URL")
	overrideString(&cfg.Chat.Model, "LOQA_CHAT_MODEL")
	overrideInt(&cfg.Chat.TimeoutMS, "LOQA_CHAT_TIMEOUT_MS")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func overrideFloat(target *float64, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			*target = parsed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	switch strings.ToLower(cfg.Telemetry.TraceExporter) {
	case "none", "stdout":
	case "otlp":
		if strings.TrimSpace(cfg.Telemetry.OTLPEndpoint) == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of none|stdout|otlp")
	}
	switch strings.ToLower(cfg.Telemetry.LogFormat) {
	case "json", "text":
	default:
		return errors.New("telemetry.log_format must be one of json|text")
	}
	if cfg.Bus.Enabled && len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when the bus is enabled")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Realtime.URL == "" {
		return errors.New("realtime.url must not be empty")
	}
	if cfg.ASR.Model == "" {
		return errors.New("asr.model must not be empty")
	}
	if cfg.ASR.SampleRate <= 0 {
		return errors.New("asr.sample_rate must be positive")
	}
	if cfg.ASR.Channels <= 0 {
		return errors.New("asr.channels must be positive")
	}
	if cfg.ASR.ChunkMS <= 0 || cfg.ASR.LiveChunkMS <= 0 {
		return errors.New("asr.chunk_ms and asr.live_chunk_ms must be positive")
	}
	if cfg.ASR.PaceFactor < 0 {
		return errors.New("asr.pace_factor must be >= 0")
	}
	if cfg.ASR.DrainCycles < 0 {
		return errors.New("asr.drain_cycles must be >= 0")
	}
	if cfg.ASR.GraceMS <= 0 || cfg.ASR.LiveGraceMS <= 0 {
		return errors.New("asr.grace_ms and asr.live_grace_ms must be positive")
	}
	switch cfg.ASR.CaptureMode {
	case "portaudio":
	case "command":
		if strings.TrimSpace(cfg.ASR.CaptureCommand) == "" {
			return errors.New("asr.capture_command must be set when capture_mode=command")
		}
	default:
		return errors.New("asr.capture_mode must be one of portaudio|command")
	}
	if len(cfg.TTS.Models) == 0 {
		return errors.New("tts.models must not be empty")
	}
	if cfg.TTS.SampleRate <= 0 {
		return errors.New("tts.sample_rate must be positive")
	}
	if cfg.TTS.Channels <= 0 {
		return errors.New("tts.channels must be positive")
	}
	if cfg.TTS.TextIntervalMS < 0 {
		return errors.New("tts.text_interval_ms must be >= 0")
	}
	if cfg.TTS.FinishTimeoutMS <= 0 {
		return errors.New("tts.finish_timeout_ms must be positive")
	}
	if cfg.Chat.BaseURL == "" {
		return errors.New("chat.base_url must not be empty")
	}
	if cfg.Chat.Model == "" {
		return errors.New("chat.model must not be empty")
	}
	return nil
}
