// Package config provides the configuration schema and loader for the
// callscribe transcription service.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// LogFormat selects the slog handler.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// IsValid reports whether f is a recognised log format.
func (f LogFormat) IsValid() bool {
	return f == LogFormatText || f == LogFormatJSON
}

// Backend selects the transcription submission implementation.
type Backend string

const (
	// BackendHTTP posts a multipart form to an OpenAI-compatible endpoint.
	BackendHTTP Backend = "http"

	// BackendOpenAI uses the official OpenAI SDK.
	BackendOpenAI Backend = "openai"
)

// IsValid reports whether b is a recognised backend.
func (b Backend) IsValid() bool {
	return b == BackendHTTP || b == BackendOpenAI
}

// Pipeline limits.
const (
	// MinSentenceMaxSec is the smallest accepted pipeline.sentence_max_sec.
	MinSentenceMaxSec = 35

	DefaultSentenceThresholdSec = 1
	DefaultQueueSize            = 128
	DefaultStoreFrames          = 64
	DefaultRecoveryFrames       = 15
	DefaultPollInterval         = 10 * time.Millisecond
	DefaultConnectTimeout       = 10 * time.Second
	DefaultRequestTimeout       = 60 * time.Second
	DefaultModel                = "whisper-1"
	DefaultUserAgent            = "callscribe/1.0"
	DefaultTempDirName          = "callscribe-cache"
)

// Config is the root configuration structure for callscribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	VAD           VADConfig           `yaml:"vad"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Changes are picked up without restart.
	LogLevel LogLevel `yaml:"log_level"`

	// LogFormat selects "text" (default) or "json" output.
	LogFormat LogFormat `yaml:"log_format"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// VADConfig tunes the voice activity detector. Zero values select the
// detector's own defaults.
type VADConfig struct {
	SilenceMs int     `yaml:"silence_ms"`
	VoiceMs   int     `yaml:"voice_ms"`
	Threshold float64 `yaml:"threshold"`
	Debug     bool    `yaml:"debug"`
}

// PipelineConfig controls utterance assembly and buffering.
type PipelineConfig struct {
	// SentenceMaxSec bounds one utterance. The assembly buffer holds
	// sample_rate × sentence_max_sec bytes.
	SentenceMaxSec int `yaml:"sentence_max_sec"`

	// SentenceThresholdSec is the silence delay before a flush.
	SentenceThresholdSec int `yaml:"sentence_threshold_sec"`

	// QueueSize is the capacity of each per-session queue.
	QueueSize int `yaml:"queue_size"`

	// StoreFrames is the number of frames held by the pre-roll ring.
	StoreFrames int `yaml:"store_frames"`

	// RecoveryFrames is the number of pre-roll frames replayed at onset.
	RecoveryFrames int `yaml:"recovery_frames"`

	// PollInterval is the worker tick.
	PollInterval time.Duration `yaml:"poll_interval"`

	// TempDir holds encoded utterances while they are submitted. Defaults
	// to a directory below os.TempDir().
	TempDir string `yaml:"temp_dir"`

	// Encoding is the temp-file format: "wav" (default) or "ogg".
	Encoding string `yaml:"encoding"`
}

// TranscriptionConfig configures the remote speech-to-text service.
type TranscriptionConfig struct {
	Backend Backend `yaml:"backend"`

	// APIURL is the transcription endpoint. For the openai backend it
	// overrides the SDK base URL and may be empty.
	APIURL string `yaml:"api_url"`

	// APIKey is sent as a bearer token. ${VAR} references are expanded.
	APIKey string `yaml:"api_key"`

	Model     string `yaml:"model"`
	UserAgent string `yaml:"user_agent"`

	// Proxy is an HTTP proxy URL; ProxyCredentials is "user:pass".
	Proxy            string `yaml:"proxy"`
	ProxyCredentials string `yaml:"proxy_credentials"`

	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// LogHTTPErrors logs the response body of non-200 replies.
	LogHTTPErrors bool `yaml:"log_http_errors"`

	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the circuit breaker around submissions.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
}

// TelemetryConfig controls metrics export.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// Metrics enables the /metrics endpoint.
	Metrics bool `yaml:"metrics"`
}
