// Package mock provides test doubles for the stt package interfaces.
//
// Use Submitter to return canned response bodies, inject failures and inspect
// every request, including a copy of the uploaded file taken before the
// caller deletes it.
//
// Example:
//
//	sub := &mock.Submitter{Responses: [][]byte{[]byte(`{"text":"hi"}`)}}
//	body, _ := sub.Submit(ctx, req)
package mock

import (
	"context"
	"os"
	"sync"

	"github.com/MrWong99/callscribe/pkg/provider/stt"
)

// SubmitCall records a single invocation of Submitter.Submit.
type SubmitCall struct {
	// Req is the request passed to Submit.
	Req stt.Request

	// File is the content of Req.FilePath at call time. Nil if unreadable.
	File []byte
}

// Submitter is a mock implementation of stt.Submitter.
type Submitter struct {
	mu sync.Mutex

	// Responses are returned in order, one per call. When exhausted, Default
	// is returned.
	Responses [][]byte

	// Default is returned once Responses runs out.
	Default []byte

	// Err, if non-nil, is returned by every call.
	Err error

	// Hook, if set, runs at the start of every call outside the lock. It can
	// block to simulate a slow service.
	Hook func(ctx context.Context, req stt.Request)

	// Calls records every call to Submit in order.
	Calls []SubmitCall
}

// Submit records the call and returns the next canned response.
func (s *Submitter) Submit(ctx context.Context, req stt.Request) ([]byte, error) {
	file, _ := os.ReadFile(req.FilePath)
	if s.Hook != nil {
		s.Hook(ctx, req)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, SubmitCall{Req: req, File: file})
	if s.Err != nil {
		return nil, s.Err
	}
	i := len(s.Calls) - 1
	if i < len(s.Responses) {
		return s.Responses[i], nil
	}
	return s.Default, nil
}

// CallCount returns the number of Submit calls so far. Thread-safe.
func (s *Submitter) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Snapshot returns a copy of the recorded calls. Thread-safe.
func (s *Submitter) Snapshot() []SubmitCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SubmitCall(nil), s.Calls...)
}

// Ensure Submitter implements stt.Submitter at compile time.
var _ stt.Submitter = (*Submitter)(nil)
