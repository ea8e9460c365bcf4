// Package stt defines the Submitter interface for batch Speech-to-Text backends.
//
// A Submitter uploads one encoded audio file (a complete utterance) to a
// remote transcription service and hands back the raw response body. Parsing
// is deliberately separate (see [ParseResponse]) so every backend shares one
// interpretation of the service's JSON: an "error" key is a service-side
// failure, a string "text" key is the transcript, anything else is malformed.
//
// Submissions are at-most-once. Backends never retry; a failed utterance is
// simply lost.
//
// Implementations must be safe for concurrent use. One Submitter is shared by
// every session of the process.
package stt

import (
	"context"
	"fmt"
)

// Request describes one utterance upload.
type Request struct {
	// FilePath is the encoded audio file to upload. The caller owns the file
	// and deletes it after Submit returns.
	FilePath string

	// ContentType is the MIME type of the file (e.g., "audio/wav").
	ContentType string

	// Model is the recognition model name. Required by most services.
	Model string

	// Language is an optional language hint (e.g., "en", "de").
	Language string

	// Fields holds extra form fields forwarded with the upload, such as caller
	// and destination numbers. Backends that cannot carry arbitrary fields
	// ignore it.
	Fields map[string]string
}

// Submitter is the abstraction over any batch transcription backend.
type Submitter interface {
	// Submit uploads the request's file and returns the response body of a
	// successful (HTTP 200) exchange. Any other status yields a *StatusError.
	Submit(ctx context.Context, req Request) ([]byte, error)
}

// StatusError reports a non-200 response from the transcription service.
type StatusError struct {
	// Code is the HTTP status code.
	Code int

	// Body is the response body, possibly truncated.
	Body []byte
}

// Error implements error.
func (e *StatusError) Error() string {
	return fmt.Sprintf("stt: service returned HTTP %d", e.Code)
}
