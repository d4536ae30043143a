package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// DefaultUserAgent mimics a desktop browser; syosetu.com answers 403 to
// unknown agents.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_10_1) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/39.0.2171.95 Safari/537.36"

// DefaultMaxBodyBytes caps a single page read.
const DefaultMaxBodyBytes = 16 << 20

// Getter is the fetch capability the scanner and extractor depend on.
type Getter interface {
	Fetch(ctx context.Context, rawURL string) (string, error)
}

// Config tunes retry and politeness behaviour.
type Config struct {
	UserAgent      string
	MaxAttempts    int
	Backoff        time.Duration
	AttemptTimeout time.Duration
	// RequestsPerSecond of 0 disables rate limiting.
	RequestsPerSecond float64
	MaxInFlight       int
	// MaxBodyBytes rejects larger pages with a PermanentError.
	MaxBodyBytes int64
}

// DefaultConfig waits roughly half a second between requests, like the
// original script did to avoid temporary IP bans.
func DefaultConfig() Config {
	return Config{
		UserAgent:         DefaultUserAgent,
		MaxAttempts:       4,
		Backoff:           time.Second,
		AttemptTimeout:    30 * time.Second,
		RequestsPerSecond: 2,
		MaxInFlight:       2,
		MaxBodyBytes:      DefaultMaxBodyBytes,
	}
}

// Fetcher performs retried GETs under one shared rate and concurrency
// budget. A single Fetcher must be shared by every component talking to
// the same site.
type Fetcher struct {
	HTTPClient *http.Client
	Logger     *slog.Logger

	cfg     Config
	limiter *rate.Limiter
	sem     *semaphore.Weighted
}

// NewFetcher creates a fetcher. Zero UserAgent, MaxAttempts, AttemptTimeout,
// MaxInFlight and MaxBodyBytes fall back to DefaultConfig; a zero Backoff
// retries at once.
func NewFetcher(cfg Config) *Fetcher {
	def := DefaultConfig()
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff < 0 {
		cfg.Backoff = 0
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = def.AttemptTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = def.MaxInFlight
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Fetcher{
		HTTPClient: &http.Client{},
		cfg:        cfg,
		limiter:    limiter,
		sem:        semaphore.NewWeighted(int64(cfg.MaxInFlight)),
	}
}

// Config returns the effective configuration.
func (f *Fetcher) Config() Config {
	return f.cfg
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// Fetch returns the body of rawURL as a string.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (string, error) {
	if err := validateURL(rawURL); err != nil {
		return "", &PermanentError{URL: rawURL, Err: err}
	}

	var lastErr error
	lastStatus := 0
	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			// Backoff: base, 2*base, 4*base...
			backoff := f.cfg.Backoff * time.Duration(1<<uint(attempt-2))
			f.logger().Debug("Retrying fetch", "url", rawURL, "attempt", attempt, "backoff", backoff, "err", lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		body, status, err := f.attempt(ctx, rawURL)
		if err == nil {
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}

		var pe *PermanentError
		if errors.As(err, &pe) {
			return "", err
		}
		lastErr = err
		lastStatus = status
	}

	return "", &TransientError{URL: rawURL, StatusCode: lastStatus, Attempts: f.cfg.MaxAttempts, Err: lastErr}
}

// attempt performs one request under the shared budget. Non-permanent
// errors are retryable.
func (f *Fetcher) attempt(ctx context.Context, rawURL string) (string, int, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return "", 0, err
	}
	if err := f.sem.Acquire(ctx, 1); err != nil {
		return "", 0, err
	}
	defer f.sem.Release(1)

	attemptCtx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", 0, &PermanentError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", resp.StatusCode, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return "", resp.StatusCode, &PermanentError{URL: rawURL, StatusCode: resp.StatusCode}
	default:
		return "", resp.StatusCode, &PermanentError{URL: rawURL, StatusCode: resp.StatusCode, Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes+1))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > f.cfg.MaxBodyBytes {
		return "", resp.StatusCode, &PermanentError{URL: rawURL, Err: fmt.Errorf("body exceeds %d bytes", f.cfg.MaxBodyBytes)}
	}
	return string(data), resp.StatusCode, nil
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
