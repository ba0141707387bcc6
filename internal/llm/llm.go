// Package llm is the provider-agnostic request layer. It turns a provider
// name into a client for that backend and wraps every call with a timeout
// and retry policy, so callers only ever see a Response or a request error
// carrying structured detail.
package llm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/xlr8harder/mq/internal/mqerr"
	"github.com/xlr8harder/mq/internal/store"
)

const (
	// DefaultTimeout bounds a single request attempt.
	DefaultTimeout = 600 * time.Second

	// DefaultMaxRetries is the attempt budget for retryable failures.
	DefaultMaxRetries = 3

	snippetLimit = 800
)

// Provider is a single LLM backend.
type Provider interface {
	Name() string
	Call(ctx context.Context, req Request) (*Response, error)
}

// Request contains the parameters for one call.
type Request struct {
	Model       string
	Messages    []store.Message
	Temperature *float64
	TopP        *float64
	TopK        *int
}

// Response is a completed call. Reasoning is empty when the backend exposes
// no separate reasoning channel.
type Response struct {
	Content   string
	Reasoning string
}

// Options tune Perform. Zero values select the defaults.
type Options struct {
	Timeout     time.Duration
	MaxRetries  int
	Temperature *float64
	TopP        *float64
	TopK        *int
}

// New builds a provider by name. The API key comes from the environment:
// MQ_<PROVIDER>_API_KEY when set, else the provider's conventional variable.
func New(name string) (Provider, error) {
	key := apiKey(name)
	switch name {
	case "openai":
		if key == "" {
			return nil, mqerr.Config("no API key for provider %q (set OPENAI_API_KEY)", name)
		}
		return newOpenAIProvider(name, key, ""), nil
	case "openrouter":
		if key == "" {
			return nil, mqerr.Config("no API key for provider %q (set OPENROUTER_API_KEY)", name)
		}
		return newOpenAIProvider(name, key, "https://openrouter.ai/api/v1"), nil
	case "anthropic":
		if key == "" {
			return nil, mqerr.Config("no API key for provider %q (set ANTHROPIC_API_KEY)", name)
		}
		return newAnthropicProvider(key), nil
	default:
		return nil, mqerr.Config("unsupported provider: %q", name)
	}
}

func apiKey(provider string) string {
	if v := os.Getenv("MQ_" + strings.ToUpper(provider) + "_API_KEY"); v != "" {
		return v
	}
	return os.Getenv(strings.ToUpper(provider) + "_API_KEY")
}

// Perform resolves the provider and issues one retried call.
func Perform(ctx context.Context, provider, model string, messages []store.Message, opts Options) (*Response, error) {
	p, err := New(provider)
	if err != nil {
		return nil, err
	}
	return Do(ctx, p, model, messages, opts)
}

// callError is how providers report transport/API failures to the retry
// layer. Status is zero when no HTTP status was observed; retryAfter is the
// server-requested delay when a Retry-After header was present.
type callError struct {
	status     int
	body       string
	retryAfter time.Duration
	err        error
}

func (e *callError) Error() string {
	if e.status != 0 {
		return fmt.Sprintf("HTTP %d: %v", e.status, e.err)
	}
	return e.err.Error()
}

func (e *callError) Unwrap() error {
	return e.err
}

// parseRetryAfter reads the delay-seconds form of a Retry-After header.
// The HTTP-date form is rare on LLM APIs and falls back to zero.
func parseRetryAfter(header string) time.Duration {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func truncate(text string) string {
	if len(text) <= snippetLimit {
		return text
	}
	return text[:snippetLimit] + "…"
}
