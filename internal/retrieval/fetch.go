package retrieval

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/iago/technoshare-commentator/internal/logger"
	"github.com/iago/technoshare-commentator/internal/policy"
)

const (
	defaultFetchTimeout = 15 * time.Second
	defaultMaxAttempts  = 3
	defaultRetryDelay   = 2 * time.Second
	defaultUserAgent    = "TechnoShareCommentator/1.0"
	defaultMaxBodyBytes = 5 << 20
	maxRedirects        = 5
)

// StatusError is returned for non-2xx responses. It is never retried.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s returned status %d", e.URL, e.StatusCode)
}

type FetcherConfig struct {
	Timeout      time.Duration
	MaxAttempts  int
	RetryDelay   time.Duration
	UserAgent    string
	MaxBodyBytes int64
	Rules        policy.FetchRules
	HTTPClient   *http.Client
	Logger       *logger.Logger
}

// Page is a fetched document.
type Page struct {
	URL         string
	StatusCode  int
	ContentType string
	Body        []byte
	FetchedAt   time.Time
}

func (p *Page) IsHTML() bool {
	contentType := strings.ToLower(p.ContentType)
	return contentType == "" || strings.Contains(contentType, "html") || strings.Contains(contentType, "xml")
}

// Fetcher performs bounded GET requests. Transport errors are retried with a
// fixed delay; HTTP error statuses and refused targets are not.
type Fetcher struct {
	timeout      time.Duration
	maxAttempts  int
	retryDelay   time.Duration
	userAgent    string
	maxBodyBytes int64
	rules        policy.FetchRules
	httpClient   *http.Client
	logger       *logger.Logger
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultFetchTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.HTTPClient == nil {
		rules := cfg.Rules
		cfg.HTTPClient = &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("stopped after %d redirects", maxRedirects)
				}
				return rules.Check(req.URL.String())
			},
		}
	}
	return &Fetcher{
		timeout:      cfg.Timeout,
		maxAttempts:  cfg.MaxAttempts,
		retryDelay:   cfg.RetryDelay,
		userAgent:    cfg.UserAgent,
		maxBodyBytes: cfg.MaxBodyBytes,
		rules:        cfg.Rules,
		httpClient:   cfg.HTTPClient,
		logger:       cfg.Logger,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	target := NormalizeURL(rawURL)
	if err := f.rules.Check(target); err != nil {
		return nil, err
	}

	attempt := 0
	page, err := backoff.Retry(ctx, func() (*Page, error) {
		attempt++
		page, err := f.get(ctx, target)
		if err == nil {
			return page, nil
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) || errors.Is(err, policy.ErrFetchNotAllowed) || ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		f.logger.Debug("fetch attempt failed", "url", target, "attempt", attempt, "error", err)
		return nil, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(f.retryDelay)),
		backoff.WithMaxTries(uint(f.maxAttempts)),
	)
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (f *Fetcher) get(ctx context.Context, target string) (*Page, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	request.Header.Set("User-Agent", f.userAgent)
	request.Header.Set("Accept", "text/html,application/xhtml+xml,text/plain;q=0.9,*/*;q=0.5")

	response, err := f.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", target, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 64<<10))
		return nil, &StatusError{URL: target, StatusCode: response.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, f.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", target, err)
	}

	return &Page{
		URL:         response.Request.URL.String(),
		StatusCode:  response.StatusCode,
		ContentType: response.Header.Get("Content-Type"),
		Body:        body,
		FetchedAt:   time.Now().UTC(),
	}, nil
}
