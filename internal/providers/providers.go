// Package providers defines the text-completion backends used for
// furigana annotation.
package providers

import (
	"context"
	"errors"
)

// ErrMissingKey is returned when a hosted provider has no API key.
var ErrMissingKey = errors.New("api key not set")

// Request is a single completion request.
type Request struct {
	Model       string
	Temperature float64
	System      string
	Prompt      string
}

// Provider completes a prompt with a language model.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}
