package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// AttemptRecorder receives one observation per HTTP attempt.
type AttemptRecorder interface {
	ObserveAttempt(upstream, outcome string, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAttempt(string, string, time.Duration) {}

// FetchOptions controls a single Fetch call. Zero values fall back to the
// package defaults.
type FetchOptions struct {
	Upstream    string
	Timeout     time.Duration
	MaxAttempts int
	Headers     map[string]string
}

func (o FetchOptions) withDefaults() FetchOptions {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Upstream == "" {
		o.Upstream = "upstream"
	}
	return o
}

type FetcherConfig struct {
	RetryDelay       time.Duration
	BreakerEnabled   bool
	BreakerThreshold int
	BreakerTimeout   time.Duration
}

// Fetcher performs GET requests with a per-attempt timeout and linear
// backoff between transient failures. It owns its HTTP client; the only
// state shared between calls is the optional circuit breaker.
type Fetcher struct {
	client     HTTPClient
	logger     *zap.Logger
	clock      clockwork.Clock
	recorder   AttemptRecorder
	breaker    *gobreaker.CircuitBreaker
	retryDelay time.Duration
}

type FetcherOption func(*Fetcher)

func WithHTTPClient(c HTTPClient) FetcherOption {
	return func(f *Fetcher) {
		f.client = c
	}
}

// WithClock replaces the clock used for backoff waits.
func WithClock(c clockwork.Clock) FetcherOption {
	return func(f *Fetcher) {
		f.clock = c
	}
}

func WithRecorder(r AttemptRecorder) FetcherOption {
	return func(f *Fetcher) {
		f.recorder = r
	}
}

func NewFetcher(name string, config FetcherConfig, logger *zap.Logger, opts ...FetcherOption) *Fetcher {
	retryDelay := config.RetryDelay
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}

	f := &Fetcher{
		// Timeouts are applied per attempt through the request context.
		client:     &http.Client{},
		logger:     logger.With(zap.String("client", name)),
		clock:      clockwork.NewRealClock(),
		recorder:   nopRecorder{},
		retryDelay: retryDelay,
	}

	if config.BreakerEnabled {
		threshold := config.BreakerThreshold
		if threshold < 1 {
			threshold = 5
		}
		f.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     config.BreakerTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold)
			},
			// Only availability failures trip the breaker.
			IsSuccessful: func(err error) bool {
				switch KindOf(err) {
				case KindExhaustedRetries, KindUpstream:
					return false
				}
				return true
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Info("Circuit breaker state changed",
					zap.String("client", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		})
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch returns the body of the first 2xx response.
//
// A 401 fails immediately with KindUnauthorized. Any other non-2xx status
// fails immediately with KindUpstream. Failures that produced no complete
// response are retried after attempt*RetryDelay, and once MaxAttempts is
// reached Fetch fails with KindExhaustedRetries.
func (f *Fetcher) Fetch(ctx context.Context, url string, opts FetchOptions) ([]byte, error) {
	opts = opts.withDefaults()

	if f.breaker == nil {
		return f.fetchWithRetry(ctx, url, opts)
	}

	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.fetchWithRetry(ctx, url, opts)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, NewError(KindExhaustedRetries, opts.Upstream+" circuit breaker is open", err)
	}
	if err != nil {
		return nil, err
	}

	return result.([]byte), nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, url string, opts FetchOptions) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		body, err := f.doAttempt(ctx, url, opts)
		if err == nil {
			f.logger.Debug("Request successful",
				zap.String("upstream", opts.Upstream),
				zap.Int("attempt", attempt),
				zap.Int("body_size", len(body)))
			return body, nil
		}

		if !IsKind(err, KindTransient) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, NewError(KindTransient, "request cancelled", ctx.Err())
		}

		lastErr = err
		f.logger.Warn("HTTP request failed",
			zap.String("upstream", opts.Upstream),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", opts.MaxAttempts),
			zap.Error(err))

		if attempt == opts.MaxAttempts {
			break
		}

		delay := time.Duration(attempt) * f.retryDelay
		f.logger.Debug("Retrying request",
			zap.String("upstream", opts.Upstream),
			zap.Int("next_attempt", attempt+1),
			zap.Duration("delay", delay))

		select {
		case <-ctx.Done():
			return nil, NewError(KindTransient, "request cancelled", ctx.Err())
		case <-f.clock.After(delay):
		}
	}

	return nil, NewError(KindExhaustedRetries,
		fmt.Sprintf("%s failed after %d attempts", opts.Upstream, opts.MaxAttempts), lastErr)
}

func (f *Fetcher) doAttempt(ctx context.Context, url string, opts FetchOptions) ([]byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	start := time.Now()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, NewError(KindUpstream, "creating request failed", err)
	}
	for key, value := range opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		f.recorder.ObserveAttempt(opts.Upstream, "transient", time.Since(start))
		return nil, NewError(KindTransient, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		f.recorder.ObserveAttempt(opts.Upstream, "unauthorized", time.Since(start))
		return nil, NewError(KindUnauthorized, opts.Upstream+" rejected the request credentials", nil)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		f.recorder.ObserveAttempt(opts.Upstream, "upstream", time.Since(start))
		return nil, NewError(KindUpstream, fmt.Sprintf("%s returned HTTP %d", opts.Upstream, resp.StatusCode), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		f.recorder.ObserveAttempt(opts.Upstream, "transient", time.Since(start))
		return nil, NewError(KindTransient, "reading response body failed", err)
	}

	f.recorder.ObserveAttempt(opts.Upstream, "success", time.Since(start))
	return body, nil
}

// FetchJSON fetches url and decodes the body into T. A body that does not
// decode is an upstream contract violation and is not retried.
func FetchJSON[T any](ctx context.Context, f *Fetcher, url string, opts FetchOptions) (T, error) {
	var out T

	body, err := f.Fetch(ctx, url, opts)
	if err != nil {
		return out, err
	}

	if err := json.Unmarshal(body, &out); err != nil {
		return out, NewError(KindUpstream, "failed to parse response", err)
	}

	return out, nil
}
