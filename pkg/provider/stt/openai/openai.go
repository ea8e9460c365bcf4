// Package openai provides a Submitter backed by the official OpenAI Go SDK's
// audio transcription endpoint.
//
// The SDK handles authentication and multipart encoding. The raw response
// body is captured so the shared stt.ParseResponse logic applies unchanged.
// Extra metadata fields in stt.Request are not forwarded because the SDK's
// transcription parameters have no slot for arbitrary form fields; use the
// httpform backend when the service needs them.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/MrWong99/callscribe/pkg/provider/stt"
)

// DefaultModel is used when neither the request nor the Submitter names one.
const DefaultModel = oai.AudioModelWhisper1

// Ensure Submitter implements the stt.Submitter interface.
var _ stt.Submitter = (*Submitter)(nil)

// Submitter implements stt.Submitter using the OpenAI API.
type Submitter struct {
	client oai.Client
	model  string
}

// config holds optional configuration for the submitter.
type config struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// Option is a functional option for Submitter.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL (for compatible
// self-hosted services).
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithModel sets the model used when a request does not name one.
func WithModel(model string) Option {
	return func(c *config) {
		c.model = model
	}
}

// WithHTTPClient sets the HTTP client (proxy, timeouts, user agent).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a new OpenAI Submitter.
func New(apiKey string, opts ...Option) (*Submitter, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	cfg := &config{model: DefaultModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}

	return &Submitter{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Submit implements stt.Submitter.
func (s *Submitter) Submit(ctx context.Context, req stt.Request) ([]byte, error) {
	f, err := os.Open(req.FilePath)
	if err != nil {
		return nil, fmt.Errorf("openai stt: open audio file: %w", err)
	}
	defer f.Close()

	model := req.Model
	if model == "" {
		model = s.model
	}
	params := oai.AudioTranscriptionNewParams{
		File:  f,
		Model: oai.AudioModel(model),
	}
	if req.Language != "" {
		params.Language = param.NewOpt(req.Language)
	}

	var raw []byte
	_, err = s.client.Audio.Transcriptions.New(ctx, params, option.WithResponseBodyInto(&raw))
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return nil, &stt.StatusError{Code: apiErr.StatusCode, Body: []byte(apiErr.Error())}
		}
		return nil, fmt.Errorf("openai stt: transcribe: %w", err)
	}
	return raw, nil
}
