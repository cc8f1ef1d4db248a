package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"subtrans/internal/metrics"
	"subtrans/internal/services"
	"subtrans/internal/settings"
)

const (
	defaultTimeout     = 60 * time.Second
	defaultMaxAttempts = 5
	defaultBackoffBase = time.Second
	defaultBackoffCap  = 30 * time.Second

	anthropicVersion = "2023-06-01"
	maxCompletionTokens = 4096
)

// Sleeper waits for the given duration or until the context is done. Tests
// inject a no-op implementation.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Client is a chat-completion client bound to one provider and credential
// set.
type Client struct {
	profile     Profile
	apiKey      string
	model       string
	baseURL     string
	httpClient  *http.Client
	maxAttempts int
	backoffBase time.Duration
	backoffCap  time.Duration
	sleep       Sleeper
	jitter      func() float64
}

// Option customizes Client construction.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxAttempts overrides the retry attempt cap.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff overrides the retry backoff base and cap.
func WithBackoff(base, cap time.Duration) Option {
	return func(c *Client) {
		if base > 0 {
			c.backoffBase = base
		}
		if cap > 0 {
			c.backoffCap = cap
		}
	}
}

// WithSleeper replaces the retry sleeper, used by tests.
func WithSleeper(sleep Sleeper) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewClient builds a client from resolved provider credentials.
func NewClient(creds settings.ProviderCredentials, opts ...Option) (*Client, error) {
	profile, err := ProfileByID(creds.Provider)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(creds.APIKey) == "" {
		return nil, services.Wrap(services.ErrAuth, "llm", "client", fmt.Sprintf("no API key configured for %s", profile.ID), nil)
	}
	model := creds.Model
	if model == "" {
		model = profile.Models[0]
	}
	baseURL := strings.TrimRight(creds.BaseURL, "/")
	if baseURL == "" {
		baseURL = profile.DefaultBaseURL
	}

	client := &Client{
		profile:     profile,
		apiKey:      creds.APIKey,
		model:       model,
		baseURL:     baseURL,
		httpClient:  &http.Client{Timeout: defaultTimeout},
		maxAttempts: defaultMaxAttempts,
		backoffBase: defaultBackoffBase,
		backoffCap:  defaultBackoffCap,
		sleep:       defaultSleep,
		jitter:      rand.Float64,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Provider returns the bound provider id.
func (c *Client) Provider() string { return c.profile.ID }

// Model returns the bound model name.
func (c *Client) Model() string { return c.model }

// Complete sends one system+user exchange and returns the assistant text.
// Transient failures are retried with jittered exponential backoff; 401/403
// fail immediately.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	var lastErr error
	jsonRetried := false

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		content, err := c.doRequest(ctx, system, user)
		if err == nil {
			return content, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		if services.Terminal(err) {
			return "", err
		}
		if isMalformedResponse(err) {
			if jsonRetried {
				return "", services.Wrap(services.ErrConsistency, "llm", "complete", "provider returned malformed JSON twice", err)
			}
			jsonRetried = true
		}
		if attempt == c.maxAttempts {
			break
		}
		delay := c.retryDelay(err, attempt)
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return "", sleepErr
		}
	}
	return "", lastErr
}

// Healthcheck performs a trivial one-word translation round trip.
func (c *Client) Healthcheck(ctx context.Context) error {
	_, err := c.Complete(ctx, "You are a translator.", `Translate "hello" to French. Reply with one word only.`)
	return err
}

func (c *Client) retryDelay(err error, attempt int) time.Duration {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) && statusErr.retryAfter > 0 {
		return statusErr.retryAfter
	}
	delay := c.backoffBase << (attempt - 1)
	if delay > c.backoffCap || delay <= 0 {
		delay = c.backoffCap
	}
	half := delay / 2
	return half + time.Duration(c.jitter()*float64(half))
}

// httpStatusError marks a non-2xx provider response. Transient statuses
// wrap services.ErrTransient so the retry loop picks them up.
type httpStatusError struct {
	status     int
	body       string
	retryAfter time.Duration
}

func (e *httpStatusError) Error() string {
	detail := e.body
	if len(detail) > 256 {
		detail = detail[:256]
	}
	return fmt.Sprintf("provider returned HTTP %d: %s", e.status, detail)
}

func (e *httpStatusError) Unwrap() error {
	switch {
	case e.status == http.StatusUnauthorized || e.status == http.StatusForbidden:
		return services.ErrAuth
	case e.status == http.StatusTooManyRequests || e.status == http.StatusRequestTimeout || e.status >= 500:
		return services.ErrTransient
	default:
		return services.ErrUser
	}
}

type malformedResponseError struct{ err error }

func (e *malformedResponseError) Error() string {
	return "malformed provider response: " + e.err.Error()
}

func (e *malformedResponseError) Unwrap() error { return services.ErrTransient }

func isMalformedResponse(err error) bool {
	var target *malformedResponseError
	return errors.As(err, &target)
}

// doRequest performs one provider round trip and records its latency and
// outcome.
func (c *Client) doRequest(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	content, err := c.roundTrip(ctx, system, user)
	metrics.LLMRequestDuration.WithLabelValues(c.profile.ID).Observe(time.Since(start).Seconds())
	metrics.LLMRequests.WithLabelValues(c.profile.ID, requestOutcome(err)).Inc()
	return content, err
}

func requestOutcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, services.ErrAuth):
		return "auth_error"
	case errors.Is(err, services.ErrTransient):
		return "transient_error"
	default:
		return "error"
	}
}

func (c *Client) roundTrip(ctx context.Context, system, user string) (string, error) {
	var (
		endpoint string
		payload  any
	)
	switch c.profile.wire {
	case wireAnthropic:
		endpoint = c.baseURL + "/messages"
		payload = map[string]any{
			"model":      c.model,
			"max_tokens": maxCompletionTokens,
			"system":     system,
			"messages": []map[string]string{
				{"role": "user", "content": user},
			},
		}
	default:
		endpoint = c.baseURL + "/chat/completions"
		payload = map[string]any{
			"model":       c.model,
			"temperature": 0.3,
			"messages": []map[string]string{
				{"role": "system", "content": system},
				{"role": "user", "content": user},
			},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", services.Wrap(services.ErrConsistency, "llm", "request", "encode request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", services.Wrap(services.ErrUser, "llm", "request", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.profile.wire == wireAnthropic {
		req.Header.Set("x-api-key", c.apiKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %s request: %v", services.ErrTransient, c.profile.ID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", services.ErrTransient, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &httpStatusError{
			status:     resp.StatusCode,
			body:       strings.TrimSpace(string(data)),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	content, err := c.extractContent(data)
	if err != nil {
		return "", &malformedResponseError{err: err}
	}
	return content, nil
}

func (c *Client) extractContent(data []byte) (string, error) {
	if c.profile.wire == wireAnthropic {
		var parsed struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return "", err
		}
		for _, block := range parsed.Content {
			if block.Type == "" || block.Type == "text" {
				return block.Text, nil
			}
		}
		return "", errors.New("response has no text content block")
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", err
	}
	if len(parsed.Choices) == 0 {
		return "", errors.New("response has no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if until := time.Until(when); until > 0 {
			return until
		}
	}
	return 0
}
