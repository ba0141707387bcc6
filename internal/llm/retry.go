package llm

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/xlr8harder/mq/internal/mqerr"
	"github.com/xlr8harder/mq/internal/store"
)

// baseBackoff is the first retry delay; each further attempt doubles it.
// Variable so tests can shrink it.
var baseBackoff = time.Second

// Do issues one request against p with per-attempt timeouts and exponential
// backoff on retryable failures. Exhausted retries and terminal failures come
// back as request errors whose Info carries the provider, model, status and a
// capped body snippet.
func Do(ctx context.Context, p Provider, model string, messages []store.Message, opts Options) (*Response, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	req := Request{
		Model:       model,
		Messages:    messages,
		Temperature: opts.Temperature,
		TopP:        opts.TopP,
		TopK:        opts.TopK,
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(lastErr, attempt)
			log.Debug().
				Str("provider", p.Name()).
				Str("model", model).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Msg("retrying request")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, requestError(p.Name(), model, attempt, ctx.Err())
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		resp, err := p.Call(attemptCtx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !retryable(err) {
			return nil, requestError(p.Name(), model, attempt+1, err)
		}
		// Parent context gone: retrying cannot help.
		if ctx.Err() != nil {
			return nil, requestError(p.Name(), model, attempt+1, err)
		}
	}
	return nil, requestError(p.Name(), model, maxRetries, lastErr)
}

// backoffDelay is exponential in the attempt number unless the server asked
// for a specific wait via Retry-After.
func backoffDelay(lastErr error, attempt int) time.Duration {
	var ce *callError
	if errors.As(lastErr, &ce) && ce.retryAfter > 0 {
		return ce.retryAfter
	}
	return baseBackoff << (attempt - 1)
}

// retryable classifies a failed attempt. Rate limits, server errors and
// timeouts are worth another try; other client errors are terminal.
func retryable(err error) bool {
	var ce *callError
	if errors.As(err, &ce) {
		switch {
		case ce.status == 408 || ce.status == 429:
			return true
		case ce.status >= 500:
			return true
		case ce.status >= 400:
			return false
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Transport-level failures without a status (connection reset, DNS).
	return true
}

func requestError(provider, model string, attempts int, cause error) error {
	info := map[string]interface{}{
		"provider": provider,
		"model":    model,
		"attempts": attempts,
	}
	var ce *callError
	if errors.As(cause, &ce) {
		if ce.status != 0 {
			info["status"] = ce.status
		}
		if ce.body != "" {
			info["body_snippet"] = truncate(ce.body)
		}
	}
	msg := "request failed"
	if cause != nil {
		msg = cause.Error()
		info["message"] = msg
	}
	return mqerr.Request(msg, info).Wrap(cause)
}
