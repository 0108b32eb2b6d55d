// Package provider defines the inference-provider client surface the
// billing pipeline depends on, the structured error taxonomy it receives,
// and the capacity guard that corrects context-length rejections.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a provider rejection.
type ErrorKind string

// Provider error kinds.
const (
	// KindContextLength means the request asked for more output tokens
	// than the model's context window allows.
	KindContextLength ErrorKind = "context_length"
	// KindAuth means provider authentication failed.
	KindAuth ErrorKind = "auth"
	// KindInvalidRequest means the request was malformed.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindRateLimited means the provider throttled the request.
	KindRateLimited ErrorKind = "rate_limited"
	// KindUnavailable means the provider could not be reached.
	KindUnavailable ErrorKind = "unavailable"
)

// Error is a structured provider rejection. Context-length errors carry the
// model's window and the provider's own token estimates.
type Error struct {
	Kind    ErrorKind
	Message string

	MaxContextTokens      int64
	EstimatedInputTokens  int64
	EstimatedOutputTokens int64
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider: %s: %s", e.Kind, e.Message)
}

// AsProviderError unwraps err into *Error when possible.
func AsProviderError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Request describes one completion call.
type Request struct {
	Provider  string
	Model     string
	Prompt    string
	MaxTokens int64
}

// Usage is the provider-reported accounting for a finished call. A provider
// that aborts mid-stream may still report partial counts.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	CachedTokens int64
}

// Outcome is the result of a completed (possibly empty) call.
type Outcome struct {
	Text  string
	Usage Usage
}

// ChunkFunc receives streamed completion chunks as they arrive.
type ChunkFunc func(chunk string) error

// Client streams completions from an inference provider.
type Client interface {
	StreamCompletion(ctx context.Context, req Request, onChunk ChunkFunc) (Outcome, error)
}
