// Package liveconnect is a thin client for the LiveConnect chat API proxy endpoints.
//
// Calls return the upstream response normalized into a JSON object; a non-2xx
// status is not an error. Only transport failures are returned as errors.
package liveconnect

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	apperrors "github.com/edgard/liveinbox/internal/errors"
	"github.com/edgard/liveinbox/internal/resilience"
)

const (
	// DefaultBaseURL is the production API root.
	DefaultBaseURL = "https://api.liveconnect.chat/prod"
	// DefaultTimeout bounds every upstream call.
	DefaultTimeout = 20 * time.Second

	tokenHeader = "PageGearToken"
	tokenPath   = "/account/token"
)

// Upstream endpoints.
const (
	PathSendMessage     = "/proxy/sendMessage"
	PathSendFile        = "/proxy/sendFile"
	PathSendQuickAnswer = "/proxy/sendQuickAnswer"
	PathSetWebhook      = "/proxy/setWebhook"
	PathGetWebhook      = "/proxy/getWebhook"
	PathBalance         = "/proxy/balance"
	PathChannels        = "/channels/list"
)

var errUpstreamUnavailable = errors.New("upstream unavailable")

// Config holds the client settings.
type Config struct {
	BaseURL    string
	CKey       string
	PrivateKey string
	Timeout    time.Duration
	// BreakerFailures is the number of consecutive transport or 5xx failures
	// that opens the circuit.
	BreakerFailures int
	// BreakerReset is how long the circuit stays open.
	BreakerReset time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// Client talks to the LiveConnect API. It is safe for concurrent use.
type Client struct {
	baseURL    string
	cKey       string
	privateKey string
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	logger     *slog.Logger

	mu    sync.Mutex
	token string
}

// New creates a client from cfg.
func New(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "liveconnect")

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	c := &Client{
		baseURL:    baseURL,
		cKey:       cfg.CKey,
		privateKey: cfg.PrivateKey,
		httpClient: &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:          "liveconnect",
			MaxFailures:   cfg.BreakerFailures,
			Timeout:       timeout,
			ResetInterval: cfg.BreakerReset,
			Logger:        logger,
		}),
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns the cached access token, requesting a new one when none is cached.
func (c *Client) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" {
		return c.token, nil
	}

	body := map[string]string{"cKey": c.cKey, "privateKey": c.privateKey}
	status, raw, err := c.do(ctx, http.MethodPost, tokenPath, nil, body, "")
	if err != nil {
		return "", err
	}
	if status < 200 || status > 299 {
		return "", apperrors.NewAPIError(fmt.Sprintf("token request rejected with status %d", status), nil)
	}

	token := extractToken(raw)
	if token == "" {
		return "", apperrors.NewAPIError("token response carried no token", nil)
	}

	c.token = token
	c.logger.DebugContext(ctx, "Acquired LiveConnect token")
	return token, nil
}

// InvalidateToken drops the cached token so the next call requests a fresh one.
func (c *Client) InvalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// Post sends body as JSON to path and returns the normalized response.
func (c *Client) Post(ctx context.Context, path string, body any) (Response, error) {
	return c.call(ctx, http.MethodPost, path, nil, body)
}

// Get requests path with query parameters and returns the normalized response.
func (c *Client) Get(ctx context.Context, path string, query url.Values) (Response, error) {
	return c.call(ctx, http.MethodGet, path, query, nil)
}

// SendMessage posts a text message to a conversation.
func (c *Client) SendMessage(ctx context.Context, conversationID, message string) (Response, error) {
	return c.Post(ctx, PathSendMessage, map[string]any{
		"id_conversacion": conversationID,
		"mensaje":         message,
	})
}

// SendQuickAnswer posts a stored quick answer with its template variables.
func (c *Client) SendQuickAnswer(ctx context.Context, conversationID string, answerID int64, variables map[string]any) (Response, error) {
	if variables == nil {
		variables = map[string]any{}
	}
	return c.Post(ctx, PathSendQuickAnswer, map[string]any{
		"id_conversacion": conversationID,
		"id_respuesta":    answerID,
		"variables":       variables,
	})
}

// SendFile posts a file link to a conversation.
func (c *Client) SendFile(ctx context.Context, conversationID, fileURL, name, ext string) (Response, error) {
	return c.Post(ctx, PathSendFile, map[string]any{
		"id_conversacion": conversationID,
		"url":             fileURL,
		"nombre":          name,
		"extension":       ext,
	})
}

// SetWebhook forwards a webhook configuration body unchanged.
func (c *Client) SetWebhook(ctx context.Context, body any) (Response, error) {
	return c.Post(ctx, PathSetWebhook, body)
}

// GetWebhook looks up the webhook configured for a channel.
func (c *Client) GetWebhook(ctx context.Context, channelID string) (Response, error) {
	return c.Post(ctx, PathGetWebhook, map[string]any{"id_canal": channelID})
}

// Balance fetches the account balance.
func (c *Client) Balance(ctx context.Context) (Response, error) {
	return c.Get(ctx, PathBalance, nil)
}

// Channels lists channels matching filters.
func (c *Client) Channels(ctx context.Context, filters url.Values) (Response, error) {
	return c.Get(ctx, PathChannels, filters)
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body any) (Response, error) {
	token, err := c.Token(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "Failed to obtain LiveConnect token", "path", path, "error", err)
		return nil, err
	}

	status, raw, err := c.do(ctx, method, path, query, body, token)
	if err != nil {
		c.logger.ErrorContext(ctx, "LiveConnect request failed", "method", method, "path", path, "error", err)
		return nil, err
	}

	if status == http.StatusUnauthorized {
		c.logger.WarnContext(ctx, "LiveConnect rejected token, refreshing on next call", "path", path)
		c.InvalidateToken()
	}

	c.logger.DebugContext(ctx, "LiveConnect request completed", "method", method, "path", path, "status", status)
	return normalizeResponse(status, raw), nil
}

// do performs one request through the circuit breaker and returns the raw status and body.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, token string) (int, []byte, error) {
	req, err := c.buildRequest(ctx, method, path, query, body, token)
	if err != nil {
		return 0, nil, apperrors.NewAPIError("failed to build request", err)
	}

	var (
		status int
		raw    []byte
	)
	err = c.breaker.Execute(ctx, func(context.Context) error {
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		raw, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		status = resp.StatusCode
		if status >= http.StatusInternalServerError {
			return errUpstreamUnavailable
		}
		return nil
	})

	switch {
	case status != 0:
		return status, raw, nil
	case resilience.IsOpen(err):
		return 0, nil, apperrors.NewAPIError("LiveConnect circuit open", err)
	case err != nil:
		return 0, nil, apperrors.NewAPIError(fmt.Sprintf("network error on %s", path), err)
	}
	return status, raw, nil
}

func (c *Client) buildRequest(ctx context.Context, method, path string, query url.Values, body any, token string) (*http.Request, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}
	return req, nil
}

func extractToken(raw []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	for _, key := range []string{tokenHeader, "token", "access_token"} {
		if s, ok := payload[key].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	if data, ok := payload["data"].(map[string]any); ok {
		for _, key := range []string{tokenHeader, "token"} {
			if s, ok := data[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}
