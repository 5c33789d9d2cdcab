// Package fetcher retrieves procurement pages over HTTP.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"TenderScanner/internal/ports"
)

// maxBodyBytes limits the size of fetched pages.
const maxBodyBytes = 10 * 1024 * 1024

// Kind classifies a fetch failure.
type Kind string

const (
	KindTimeout    Kind = "timeout"
	KindHTTPStatus Kind = "http_status"
	KindNetwork    Kind = "network"
)

// ErrTooManyRedirects is returned when the redirect hop limit is exceeded.
var ErrTooManyRedirects = errors.New("too many redirects")

// FetchError is the only error type Fetch returns.
type FetchError struct {
	URL        string
	Kind       Kind
	StatusCode int
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("fetch %s: http status %d after %d attempt(s)", e.URL, e.StatusCode, e.Attempts)
	}
	return fmt.Sprintf("fetch %s: %s after %d attempt(s): %v", e.URL, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// retryable is false for client errors; the server will not change its mind.
func (e *FetchError) retryable() bool {
	if e.Kind == KindHTTPStatus {
		return e.StatusCode >= http.StatusInternalServerError
	}
	return true
}

// Config tunes timeouts, identity and retries.
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	Retries      int
	RetryDelay   time.Duration
	MaxRedirects int
}

// Fetcher downloads pages and parses them with goquery.
type Fetcher struct {
	client     *http.Client
	userAgent  string
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger
}

var _ ports.PageFetcher = (*Fetcher)(nil)

// New wires an HTTP client; a nil client gets one built from cfg.
func New(cfg Config, client *http.Client, logger *slog.Logger) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if client == nil {
		client = &http.Client{}
	}
	client.Timeout = cfg.Timeout
	client.CheckRedirect = redirectPolicy(cfg.MaxRedirects)

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Fetcher{
		client:     client,
		userAgent:  cfg.UserAgent,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		logger:     logger,
	}
}

// Fetch retrieves pageURL, retrying transient failures with a fixed delay.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	var lastErr *FetchError

	for attempt := 1; attempt <= f.retries+1; attempt++ {
		doc, fetchErr := f.fetchOnce(ctx, pageURL)
		if fetchErr == nil {
			return doc, nil
		}

		fetchErr.Attempts = attempt
		lastErr = fetchErr

		if !fetchErr.retryable() || ctx.Err() != nil || attempt > f.retries {
			break
		}

		f.logger.Debug("retrying fetch", "url", pageURL, "attempt", attempt, "error", fetchErr.Err)
		if err := sleep(ctx, f.retryDelay); err != nil {
			break
		}
	}

	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, pageURL string) (*goquery.Document, *FetchError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Kind: KindNetwork, Err: fmt.Errorf("build request: %w", err)}
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classify(pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &FetchError{URL: pageURL, Kind: KindHTTPStatus, StatusCode: resp.StatusCode}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, classify(pageURL, err)
	}

	body, err := charset.NewReader(bytes.NewReader(raw), resp.Header.Get("Content-Type"))
	if err != nil {
		body = bytes.NewReader(raw)
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, &FetchError{URL: pageURL, Kind: KindNetwork, Err: fmt.Errorf("parse document: %w", err)}
	}
	doc.Url = resp.Request.URL

	return doc, nil
}

func classify(pageURL string, err error) *FetchError {
	kind := KindNetwork
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		kind = KindTimeout
	}
	return &FetchError{URL: pageURL, Kind: kind, Err: err}
}

func redirectPolicy(maxHops int) func(*http.Request, []*http.Request) error {
	if maxHops <= 0 {
		maxHops = 10
	}
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) >= maxHops {
			return ErrTooManyRedirects
		}
		return nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
