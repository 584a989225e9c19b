package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/iago/technoshare-commentator/internal/logger"
)

var (
	ErrRateLimited   = errors.New("slack rate limited")
	ErrNotConfigured = errors.New("slack bot token not configured")
)

const errorCodeRateLimit = "ratelimited"

// APIError is a non-rate-limit failure reported by the Web API.
type APIError struct {
	Method     string
	StatusCode int
	Code       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s failed status=%d error=%s", e.Method, e.StatusCode, e.Code)
}

type ClientConfig struct {
	BotToken       string
	BaseURL        string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	HTTPClient     *http.Client
	Logger         *logger.Logger
}

// Client posts threaded replies through chat.postMessage.
type Client struct {
	botToken       string
	baseURL        string
	timeout        time.Duration
	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
	httpClient     *http.Client
	logger         *logger.Logger
}

func NewClient(cfg ClientConfig) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://slack.com/api"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 4
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Client{
		botToken:       strings.TrimSpace(cfg.BotToken),
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		timeout:        cfg.Timeout,
		maxAttempts:    cfg.MaxAttempts,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
		httpClient:     cfg.HTTPClient,
		logger:         cfg.Logger,
	}
}

type postMessageRequest struct {
	Channel     string `json:"channel"`
	ThreadTS    string `json:"thread_ts,omitempty"`
	Text        string `json:"text"`
	Mrkdwn      bool   `json:"mrkdwn"`
	UnfurlLinks bool   `json:"unfurl_links"`
	UnfurlMedia bool   `json:"unfurl_media"`
}

type apiResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
	TS    string `json:"ts"`
}

// PostReply posts text as a threaded reply. Rate limits are retried with
// exponential backoff; any other failure is returned immediately.
func (c *Client) PostReply(ctx context.Context, channel, threadTS, text string) error {
	if c.botToken == "" {
		return ErrNotConfigured
	}
	payload, err := json.Marshal(postMessageRequest{
		Channel:     channel,
		ThreadTS:    threadTS,
		Text:        text,
		Mrkdwn:      true,
		UnfurlLinks: false,
		UnfurlMedia: false,
	})
	if err != nil {
		return fmt.Errorf("marshal chat.postMessage payload: %w", err)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.initialBackoff
	policy.MaxInterval = c.maxBackoff

	attempt := 0
	_, err = backoff.Retry(ctx, func() (string, error) {
		attempt++
		ts, callErr := c.call(ctx, "chat.postMessage", payload)
		if callErr == nil {
			return ts, nil
		}
		if errors.Is(callErr, ErrRateLimited) {
			c.logger.Warn("slack rate limited", "channel", channel, "attempt", attempt)
			return "", callErr
		}
		return "", backoff.Permanent(callErr)
	},
		backoff.WithBackOff(policy),
		backoff.WithMaxTries(uint(c.maxAttempts)),
	)
	if err != nil {
		return fmt.Errorf("post reply: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, payload []byte) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	request, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create slack request: %w", err)
	}
	request.Header.Set("Authorization", "Bearer "+c.botToken)
	request.Header.Set("Content-Type", "application/json; charset=utf-8")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("slack transport error: %w", err)
	}
	defer response.Body.Close()

	body, err := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read slack body: %w", err)
	}

	if response.StatusCode == http.StatusTooManyRequests {
		return "", rateLimitError(response.Header.Get("Retry-After"))
	}

	var decoded apiResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", &APIError{Method: method, StatusCode: response.StatusCode, Code: "invalid_response"}
	}
	if decoded.Error == errorCodeRateLimit {
		return "", rateLimitError(response.Header.Get("Retry-After"))
	}
	if response.StatusCode < 200 || response.StatusCode > 299 || !decoded.OK {
		code := decoded.Error
		if code == "" {
			code = "unknown_error"
		}
		return "", &APIError{Method: method, StatusCode: response.StatusCode, Code: code}
	}
	return decoded.TS, nil
}

func rateLimitError(retryAfter string) error {
	seconds, err := strconv.Atoi(strings.TrimSpace(retryAfter))
	if err != nil || seconds < 0 {
		return ErrRateLimited
	}
	return fmt.Errorf("%w: %w", ErrRateLimited, backoff.RetryAfter(seconds))
}
