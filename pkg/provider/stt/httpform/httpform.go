// Package httpform provides a Submitter that uploads utterances to an
// OpenAI-compatible transcription endpoint as multipart/form-data.
//
// The request carries the audio under the "file" field, the model name under
// "model", an optional "language" hint and any extra metadata fields, and is
// authenticated with a bearer token. Any non-200 response is a failure
// regardless of its body.
//
// Usage:
//
//	client, _ := stt.NewHTTPClient(stt.ClientConfig{RequestTimeout: 30 * time.Second})
//	sub, err := httpform.New("https://api.openai.com/v1/audio/transcriptions", apiKey,
//	    httpform.WithHTTPClient(client),
//	)
//	body, err := sub.Submit(ctx, stt.Request{FilePath: path, Model: "whisper-1"})
package httpform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/MrWong99/callscribe/pkg/provider/stt"
)

// maxErrorBody caps how much of a failed response is kept for logging.
const maxErrorBody = 8 << 10

// Compile-time assertion that Submitter implements stt.Submitter.
var _ stt.Submitter = (*Submitter)(nil)

// Option is a functional option for configuring a Submitter.
type Option func(*Submitter)

// WithHTTPClient replaces the default client (30 s timeout, environment
// proxy).
func WithHTTPClient(c *http.Client) Option {
	return func(s *Submitter) {
		s.httpClient = c
	}
}

// Submitter implements stt.Submitter over plain HTTP.
type Submitter struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
}

// New creates a Submitter posting to apiURL. apiURL must be non-empty. An
// empty apiKey sends no Authorization header.
func New(apiURL, apiKey string, opts ...Option) (*Submitter, error) {
	if apiURL == "" {
		return nil, errors.New("httpform: apiURL must not be empty")
	}
	s := &Submitter{
		apiURL:     apiURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Submit implements stt.Submitter.
func (s *Submitter) Submit(ctx context.Context, req stt.Request) ([]byte, error) {
	body, contentType, err := buildForm(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, body)
	if err != nil {
		return nil, fmt.Errorf("httpform: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("httpform: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &stt.StatusError{Code: resp.StatusCode, Body: b}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("httpform: read response body: %w", err)
	}
	return data, nil
}

// buildForm encodes the request as a multipart body.
func buildForm(req stt.Request) (*bytes.Buffer, string, error) {
	f, err := os.Open(req.FilePath)
	if err != nil {
		return nil, "", fmt.Errorf("httpform: open audio file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filepath.Base(req.FilePath)))
	ct := req.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	hdr.Set("Content-Type", ct)
	fw, err := mw.CreatePart(hdr)
	if err != nil {
		return nil, "", fmt.Errorf("httpform: create form file: %w", err)
	}
	if _, err := io.Copy(fw, f); err != nil {
		return nil, "", fmt.Errorf("httpform: write audio data: %w", err)
	}

	if req.Model != "" {
		if err := mw.WriteField("model", req.Model); err != nil {
			return nil, "", fmt.Errorf("httpform: write model field: %w", err)
		}
	}
	if req.Language != "" {
		if err := mw.WriteField("language", req.Language); err != nil {
			return nil, "", fmt.Errorf("httpform: write language field: %w", err)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(req.Fields)) {
		if err := mw.WriteField(k, req.Fields[k]); err != nil {
			return nil, "", fmt.Errorf("httpform: write %s field: %w", k, err)
		}
	}

	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("httpform: close multipart writer: %w", err)
	}
	return &body, mw.FormDataContentType(), nil
}
