// Package fetch is the single point through which all network I/O to the
// source site passes. It enforces per-host request pacing, classifies
// failures as transient or permanent, and returns parsed pages.
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/time/rate"

	"github.com/edupipe/edupipe/internal/config"
	"github.com/edupipe/edupipe/internal/retry"
)

// Kind distinguishes listing pages (link discovery, paginated) from
// content pages (full resource extraction). Content pages get a longer
// timeout since media-heavy pages are slower to serve.
type Kind int

const (
	KindListing Kind = iota
	KindContent
)

func (k Kind) String() string {
	if k == KindListing {
		return "listing"
	}
	return "content"
}

// Error is a classified fetch failure.
type Error struct {
	URL       string
	Status    int
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsPermanent reports whether err is a fetch failure that will not be
// fixed by retrying (404, content removed, malformed URL).
func IsPermanent(err error) bool {
	var fe *Error
	return errors.As(err, &fe) && !fe.Transient
}

// Fetcher wraps an HTTP client with per-host pacing and retry.
type Fetcher struct {
	client    *http.Client
	policy    retry.Policy
	userAgent string
	maxBody   int64
	interval  time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a Fetcher from config. The per-host minimum interval applies
// to every request attempt, successful or not, so a failing host degrades
// gracefully instead of being hammered.
func New(cfg config.FetchConfig) *Fetcher {
	policy := retry.DefaultPolicy()
	if cfg.MaxRetries > 0 {
		policy.MaxAttempts = cfg.MaxRetries
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxBody := int64(cfg.MaxBodyKB) * 1024
	if maxBody <= 0 {
		maxBody = 2 << 20
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		policy:    policy,
		userAgent: cfg.UserAgent,
		maxBody:   maxBody,
		interval:  time.Duration(cfg.MinIntervalMs) * time.Millisecond,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// limiter returns the rate limiter for the given host, creating it on
// first use. Safe under concurrent callers.
func (f *Fetcher) limiter(host string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.limiters[host]
	if !ok {
		if f.interval > 0 {
			l = rate.NewLimiter(rate.Every(f.interval), 1)
		} else {
			l = rate.NewLimiter(rate.Inf, 1)
		}
		f.limiters[host] = l
	}
	return l
}

// Fetch retrieves and parses the page at rawURL. Transient failures
// (timeouts, 5xx, connection resets) are retried with backoff and jitter;
// permanent failures (404, malformed content) return immediately with a
// classified *Error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, kind Kind) (*Page, error) {
	body, err := f.get(ctx, rawURL, kind, "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, err
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("parsing html: %w", err)}
	}

	return &Page{URL: rawURL, doc: doc}, nil
}

// FetchRaw retrieves the response body without HTML parsing. Used for
// binary resources such as PDF worksheets.
func (f *Fetcher) FetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	return f.get(ctx, rawURL, KindContent, "*/*")
}

func (f *Fetcher) get(ctx context.Context, rawURL string, kind Kind, accept string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, &Error{URL: rawURL, Err: fmt.Errorf("malformed url: %v", err)}
	}
	lim := f.limiter(u.Host)

	timeout := f.client.Timeout
	if kind == KindContent {
		timeout = timeout * 2
	}

	return retry.Do(ctx, f.policy, func() ([]byte, error) {
		// Each attempt consumes one unit of the host's rate budget.
		if err := lim.Wait(ctx); err != nil {
			return nil, retry.Permanent(err)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, retry.Permanent(&Error{URL: rawURL, Err: err})
		}
		req.Header.Set("User-Agent", f.userAgent)
		req.Header.Set("Accept", accept)

		resp, err := f.client.Do(req)
		if err != nil {
			// Timeouts and connection resets are transient.
			return nil, &Error{URL: rawURL, Transient: true, Err: err}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			fe := &Error{URL: rawURL, Status: resp.StatusCode, Transient: retryableStatus(resp.StatusCode)}
			if fe.Transient {
				return nil, fe
			}
			return nil, retry.Permanent(fe)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody))
		if err != nil {
			return nil, &Error{URL: rawURL, Transient: true, Err: fmt.Errorf("reading body: %w", err)}
		}

		slog.Debug("fetched", "url", rawURL, "kind", kind.String(), "bytes", len(body))
		return body, nil
	})
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
