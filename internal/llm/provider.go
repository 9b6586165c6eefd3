package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "anthropic/claude-3-5-sonnet-20241022"

// Provider is a conversational oracle: given a transcript and a target JSON
// schema, it returns one structured response as raw JSON. Providers are
// stateless between calls; all conversational memory is the caller's
// transcript.
type Provider interface {
	Complete(ctx context.Context, transcript Transcript, schema map[string]any) ([]byte, error)
	// Close releases provider resources
	Close() error
}

// New builds a provider from a model name in "provider/model" form, e.g.
// "anthropic/claude-3-5-sonnet-20241022" or "gemini/gemini-2.5-pro".
func New(name, apiKey string) (Provider, error) {
	providerName, modelName, ok := strings.Cut(name, "/")
	if !ok {
		return nil, fmt.Errorf("invalid model name %q, expected format 'provider/model'", name)
	}

	switch providerName {
	case "anthropic":
		return NewAnthropic(modelName, apiKey)
	case "gemini":
		return NewGemini(modelName, apiKey)
	default:
		return nil, fmt.Errorf("unsupported provider %q, supported providers are: anthropic, gemini", providerName)
	}
}

// ResponseError reports oracle output that was returned but failed schema
// validation.
type ResponseError struct {
	Raw []byte
	Err error
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("invalid oracle response: %v", e.Err)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}

// RateLimitError reports a 429 from a provider, with the server's suggested
// wait when one was given.
type RateLimitError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s rate limited, retry after %s: %v", e.Provider, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s rate limited: %v", e.Provider, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// Retrying decorates a Provider with a fixed attempt budget and validates
// every response against the requested schema before accepting it.
type Retrying struct {
	provider Provider
	attempts int
}

// WithRetry wraps the provider. Attempts below 1 get the default of 3.
func WithRetry(p Provider, attempts int) *Retrying {
	if attempts < 1 {
		attempts = 3
	}
	return &Retrying{provider: p, attempts: attempts}
}

// Complete calls the wrapped provider until it yields a schema-conforming
// response or the attempt budget runs out.
func (r *Retrying) Complete(ctx context.Context, transcript Transcript, schema map[string]any) ([]byte, error) {
	reqID := uuid.New().String()

	var lastErr error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		start := time.Now()
		raw, err := r.provider.Complete(ctx, transcript, schema)
		if err == nil {
			if verr := ValidateAgainstSchema(schema, raw); verr != nil {
				err = &ResponseError{Raw: raw, Err: verr}
			} else {
				slog.Debug("Oracle response accepted",
					"req_id", reqID,
					"attempt", attempt,
					"elapsed_ms", time.Since(start).Milliseconds(),
				)
				return raw, nil
			}
		}

		lastErr = err
		slog.Warn("Oracle attempt failed", "req_id", reqID, "attempt", attempt, "error", err)

		if ctx.Err() != nil {
			break
		}
	}

	return nil, fmt.Errorf("no valid oracle response after %d attempts: %w", r.attempts, lastErr)
}

// Close closes the wrapped provider.
func (r *Retrying) Close() error {
	return r.provider.Close()
}
