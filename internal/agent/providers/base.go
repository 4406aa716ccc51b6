// Package providers implements the streaming LLM adapters behind the
// provider-neutral agent contract: Anthropic messages, OpenAI-compatible chat
// completions, and AWS Bedrock ConverseStream.
package providers

import (
	"context"
	"time"
)

// BaseProvider carries the retry policy shared by the streaming adapters.
type BaseProvider struct {
	name       string
	maxRetries int
	retryDelay time.Duration
}

// NewBaseProvider creates a base provider with sane defaults.
func NewBaseProvider(name string, maxRetries int, retryDelay time.Duration) BaseProvider {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return BaseProvider{
		name:       name,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Retry runs op up to maxRetries times while isRetryable reports the failure
// as transient, backing off exponentially (retryDelay, 2*retryDelay, ...).
// Context cancellation wins over both the attempt loop and the backoff sleep.
func (b *BaseProvider) Retry(ctx context.Context, isRetryable func(error) bool, op func() error) error {
	if op == nil {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt < b.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if isRetryable == nil || !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == b.maxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.retryDelay << attempt):
		}
	}
	return lastErr
}
