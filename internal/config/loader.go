package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidEncodings lists the accepted pipeline.encoding values.
var ValidEncodings = []string{"wav", "ogg", "opus"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, expands environment
// references, applies defaults and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	expandSecrets(cfg)
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadBytes is LoadFromReader over an in-memory document.
func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// expandSecrets resolves ${VAR} references in credential fields so secrets
// can stay out of the file.
func expandSecrets(cfg *Config) {
	t := &cfg.Transcription
	t.APIKey = os.ExpandEnv(t.APIKey)
	t.APIURL = os.ExpandEnv(t.APIURL)
	t.ProxyCredentials = os.ExpandEnv(t.ProxyCredentials)
}

// ApplyDefaults fills zero-valued fields with their defaults. A
// sentence_max_sec below [MinSentenceMaxSec] is raised to the minimum.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.ListenAddr == "" {
		s.ListenAddr = ":8080"
	}
	if s.LogLevel == "" {
		s.LogLevel = LogInfo
	}
	if s.LogFormat == "" {
		s.LogFormat = LogFormatText
	}

	p := &cfg.Pipeline
	if p.SentenceMaxSec < MinSentenceMaxSec {
		if p.SentenceMaxSec != 0 {
			slog.Warn("pipeline.sentence_max_sec below minimum; raising",
				"configured", p.SentenceMaxSec, "min", MinSentenceMaxSec)
		}
		p.SentenceMaxSec = MinSentenceMaxSec
	}
	if p.SentenceThresholdSec <= 0 {
		p.SentenceThresholdSec = DefaultSentenceThresholdSec
	}
	if p.QueueSize <= 0 {
		p.QueueSize = DefaultQueueSize
	}
	if p.StoreFrames <= 0 {
		p.StoreFrames = DefaultStoreFrames
	}
	if p.RecoveryFrames <= 0 {
		p.RecoveryFrames = DefaultRecoveryFrames
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.TempDir == "" {
		p.TempDir = filepath.Join(os.TempDir(), DefaultTempDirName)
	}
	if p.Encoding == "" {
		p.Encoding = "wav"
	}
	p.Encoding = strings.ToLower(p.Encoding)

	t := &cfg.Transcription
	if t.Backend == "" {
		t.Backend = BackendHTTP
	}
	if t.Model == "" {
		t.Model = DefaultModel
	}
	if t.UserAgent == "" {
		t.UserAgent = DefaultUserAgent
	}
	if t.ConnectTimeout <= 0 {
		t.ConnectTimeout = DefaultConnectTimeout
	}
	if t.RequestTimeout <= 0 {
		t.RequestTimeout = DefaultRequestTimeout
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "callscribe"
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.LogFormat != "" && !cfg.Server.LogFormat.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_format %q is invalid; valid values: text, json", cfg.Server.LogFormat))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// VAD
	if cfg.VAD.SilenceMs < 0 {
		errs = append(errs, fmt.Errorf("vad.silence_ms %d must not be negative", cfg.VAD.SilenceMs))
	}
	if cfg.VAD.VoiceMs < 0 {
		errs = append(errs, fmt.Errorf("vad.voice_ms %d must not be negative", cfg.VAD.VoiceMs))
	}
	if cfg.VAD.Threshold < 0 {
		errs = append(errs, fmt.Errorf("vad.threshold %.2f must not be negative", cfg.VAD.Threshold))
	}

	// Pipeline
	p := cfg.Pipeline
	if p.RecoveryFrames > p.StoreFrames {
		errs = append(errs, fmt.Errorf("pipeline.recovery_frames %d exceeds pipeline.store_frames %d", p.RecoveryFrames, p.StoreFrames))
	}
	if !isValidEncoding(p.Encoding) {
		errs = append(errs, fmt.Errorf("pipeline.encoding %q is invalid; valid values: %s", p.Encoding, strings.Join(ValidEncodings, ", ")))
	}

	// Transcription
	t := cfg.Transcription
	if !t.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("transcription.backend %q is invalid; valid values: http, openai", t.Backend))
	}
	if t.APIKey == "" {
		errs = append(errs, errors.New("transcription.api_key is required"))
	}
	if t.APIURL == "" && t.Backend != BackendOpenAI {
		errs = append(errs, errors.New("transcription.api_url is required"))
	}
	if t.APIURL != "" {
		if u, err := url.Parse(t.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("transcription.api_url %q is not an absolute URL", t.APIURL))
		}
	}
	if t.Proxy != "" {
		if _, err := url.Parse(t.Proxy); err != nil {
			errs = append(errs, fmt.Errorf("transcription.proxy: %w", err))
		}
	}
	if t.ProxyCredentials != "" && !strings.Contains(t.ProxyCredentials, ":") {
		errs = append(errs, errors.New("transcription.proxy_credentials must have the form user:pass"))
	}
	if t.Breaker.MaxFailures < 0 {
		errs = append(errs, fmt.Errorf("transcription.breaker.max_failures %d must not be negative", t.Breaker.MaxFailures))
	}

	return errors.Join(errs...)
}

func isValidEncoding(enc string) bool {
	for _, v := range ValidEncodings {
		if strings.EqualFold(v, enc) {
			return true
		}
	}
	return false
}
