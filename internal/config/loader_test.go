package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/callscribe/internal/config"
)

const minimalYAML = `
transcription:
  api_url: https://stt.example.com/v1/audio/transcriptions
  api_key: secret
`

func TestLoadFromReader_Defaults(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p := cfg.Pipeline
	if p.SentenceMaxSec != config.MinSentenceMaxSec {
		t.Errorf("sentence_max_sec = %d, want %d", p.SentenceMaxSec, config.MinSentenceMaxSec)
	}
	if p.SentenceThresholdSec != 1 {
		t.Errorf("sentence_threshold_sec = %d, want 1", p.SentenceThresholdSec)
	}
	if p.QueueSize != 128 || p.StoreFrames != 64 || p.RecoveryFrames != 15 {
		t.Errorf("queue/store/recovery = %d/%d/%d, want 128/64/15", p.QueueSize, p.StoreFrames, p.RecoveryFrames)
	}
	if p.PollInterval != 10*time.Millisecond {
		t.Errorf("poll_interval = %v, want 10ms", p.PollInterval)
	}
	if p.Encoding != "wav" {
		t.Errorf("encoding = %q, want wav", p.Encoding)
	}
	if p.TempDir == "" {
		t.Error("temp_dir should default to a directory under os.TempDir()")
	}
	tr := cfg.Transcription
	if tr.Backend != config.BackendHTTP {
		t.Errorf("backend = %q, want http", tr.Backend)
	}
	if tr.Model != config.DefaultModel {
		t.Errorf("model = %q, want %q", tr.Model, config.DefaultModel)
	}
	if cfg.Server.LogLevel != config.LogInfo || cfg.Server.LogFormat != config.LogFormatText {
		t.Errorf("server log = %q/%q", cfg.Server.LogLevel, cfg.Server.LogFormat)
	}
}

func TestLoadFromReader_FullDocument(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  listen_addr: ":9000"
  log_level: debug
  log_format: json
vad:
  silence_ms: 700
  voice_ms: 150
  threshold: 250
  debug: true
pipeline:
  sentence_max_sec: 60
  sentence_threshold_sec: 2
  queue_size: 32
  store_frames: 40
  recovery_frames: 10
  poll_interval: 20ms
  temp_dir: /var/tmp/asr
  encoding: OGG
transcription:
  backend: openai
  api_key: sk-test
  model: gpt-4o-transcribe
  connect_timeout: 3s
  request_timeout: 45s
  log_http_errors: true
  breaker:
    max_failures: 3
    reset_timeout: 15s
telemetry:
  metrics: true
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.VAD != (config.VADConfig{SilenceMs: 700, VoiceMs: 150, Threshold: 250, Debug: true}) {
		t.Errorf("vad = %+v", cfg.VAD)
	}
	if cfg.Pipeline.Encoding != "ogg" {
		t.Errorf("encoding = %q, want lowercased ogg", cfg.Pipeline.Encoding)
	}
	if cfg.Pipeline.PollInterval != 20*time.Millisecond {
		t.Errorf("poll_interval = %v", cfg.Pipeline.PollInterval)
	}
	if cfg.Transcription.RequestTimeout != 45*time.Second {
		t.Errorf("request_timeout = %v", cfg.Transcription.RequestTimeout)
	}
	if cfg.Transcription.Breaker.MaxFailures != 3 {
		t.Errorf("breaker.max_failures = %d", cfg.Transcription.Breaker.MaxFailures)
	}
	if !cfg.Telemetry.Metrics || cfg.Telemetry.ServiceName != "callscribe" {
		t.Errorf("telemetry = %+v", cfg.Telemetry)
	}
}

func TestLoadFromReader_SentenceMaxRaisedToMinimum(t *testing.T) {
	t.Parallel()
	cfg, err := config.LoadFromReader(strings.NewReader(minimalYAML + `
pipeline:
  sentence_max_sec: 10
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Pipeline.SentenceMaxSec != config.MinSentenceMaxSec {
		t.Errorf("sentence_max_sec = %d, want %d", cfg.Pipeline.SentenceMaxSec, config.MinSentenceMaxSec)
	}
}

func TestLoadFromReader_ExpandsSecrets(t *testing.T) {
	t.Setenv("CALLSCRIBE_TEST_KEY", "from-env")
	cfg, err := config.LoadFromReader(strings.NewReader(`
transcription:
  api_url: https://stt.example.com/v1
  api_key: ${CALLSCRIBE_TEST_KEY}
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transcription.APIKey != "from-env" {
		t.Errorf("api_key = %q, want from-env", cfg.Transcription.APIKey)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want []string
	}{
		{
			name: "missing credentials",
			yaml: `server: {log_level: info}`,
			want: []string{"api_key is required", "api_url is required"},
		},
		{
			name: "openai backend needs only a key",
			yaml: `transcription: {backend: openai}`,
			want: []string{"api_key is required"},
		},
		{
			name: "bad enums",
			yaml: minimalYAML + `
server:
  log_level: loud
  log_format: xml
pipeline:
  encoding: mp3
`,
			want: []string{"log_level", "log_format", "pipeline.encoding"},
		},
		{
			name: "recovery exceeds ring",
			yaml: minimalYAML + `
pipeline:
  store_frames: 8
  recovery_frames: 20
`,
			want: []string{"recovery_frames 20 exceeds"},
		},
		{
			name: "relative url",
			yaml: `
transcription:
  api_url: /v1/audio
  api_key: k
  proxy_credentials: nocolon
`,
			want: []string{"not an absolute URL", "user:pass"},
		},
		{
			name: "unknown field",
			yaml: minimalYAML + "\nbogus: 1\n",
			want: []string{"field bogus not found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			for _, w := range tt.want {
				if !strings.Contains(err.Error(), w) {
					t.Errorf("error %q does not mention %q", err, w)
				}
			}
		})
	}
}

func TestValidate_OpenAIBackendWithoutURL(t *testing.T) {
	t.Parallel()
	_, err := config.LoadFromReader(strings.NewReader(`
transcription:
  backend: openai
  api_key: sk-test
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "config: open") {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "callscribe.yaml")
	if err := os.WriteFile(path, []byte(minimalYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Transcription.APIKey != "secret" {
		t.Errorf("api_key = %q", cfg.Transcription.APIKey)
	}
}
