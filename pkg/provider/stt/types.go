package stt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrEmptyResponse is returned by ParseResponse for an empty body.
	ErrEmptyResponse = errors.New("stt: empty response")

	// ErrMalformedResponse is returned by ParseResponse when the body is a
	// JSON object with neither an "error" nor a string "text" key.
	ErrMalformedResponse = errors.New("stt: malformed response")
)

// ServiceError is a failure reported by the service inside a 200 response.
type ServiceError struct {
	// Detail is the raw JSON value of the "error" key.
	Detail json.RawMessage
}

// Error implements error.
func (e *ServiceError) Error() string {
	return fmt.Sprintf("stt: service error: %s", e.Detail)
}

// ParseResponse extracts the transcript from a service response body.
//
// A present "error" key (of any JSON type) wins over "text" and is returned
// as a *ServiceError. A string "text" key, including the empty string, is a
// success.
func ParseResponse(body []byte) (string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", ErrEmptyResponse
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err != nil {
		return "", fmt.Errorf("stt: parse response: %w", err)
	}
	if detail, ok := obj["error"]; ok {
		return "", &ServiceError{Detail: detail}
	}
	raw, ok := obj["text"]
	if !ok {
		return "", ErrMalformedResponse
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return "", fmt.Errorf("%w: text is not a string", ErrMalformedResponse)
	}
	return text, nil
}
