// Package gateway implements the HTTP/SSE client for the OpenClaw gateway.
// The gateway exposes an OpenAI-compatible completion API plus a tool
// invocation endpoint; everything else (including unknown routes) is
// answered by its SPA catch-all with 200 text/html, which is why the
// probes below lean on content-type rather than status codes.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	pathModels          = "/v1/models"
	pathChatCompletions = "/v1/chat/completions"
	pathToolsInvoke     = "/tools/invoke"

	// apiTimeout bounds regular API calls.
	apiTimeout = 10 * time.Second

	// streamTimeout bounds chat completions, which can run for minutes.
	streamTimeout = 300 * time.Second
)

// ClientConfig is the connection profile for one gateway instance.
type ClientConfig struct {
	Host      string
	Port      int
	UseTLS    bool
	VerifyTLS bool
	Token     string
	// AgentID selects the target OpenClaw agent. Defaults to "main".
	AgentID string
}

// Client is the HTTP client for the OpenClaw gateway API. It owns one
// reusable connection pool and supports JSON request/response calls, SSE
// streaming completions, and lightweight probes. The bearer token is
// hot-swappable via UpdateToken without rebuilding the client.
type Client struct {
	baseURL    string
	agentID    string
	httpClient *http.Client
	logger     *slog.Logger

	tokenMu sync.RWMutex
	token   string
}

// NewClient creates a gateway client from a connection profile.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}
	agentID := cfg.AgentID
	if agentID == "" {
		agentID = "main"
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     120 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		// How long to wait for the server to start answering. Completions
		// over large contexts can take a while to emit the first byte.
		ResponseHeaderTimeout: 120 * time.Second,
	}
	if cfg.UseTLS && !cfg.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		baseURL: fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port),
		agentID: agentID,
		token:   cfg.Token,
		httpClient: &http.Client{
			// No global timeout — each call carries its own context so
			// streaming responses are not cut off mid-flight.
			Transport: transport,
		},
		logger: logger.With("component", "gateway"),
	}
}

// BaseURL returns the gateway base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// UpdateToken hot-swaps the bearer token. Takes effect on the next request.
func (c *Client) UpdateToken(token string) {
	c.tokenMu.Lock()
	c.token = token
	c.tokenMu.Unlock()
}

func (c *Client) currentToken() string {
	c.tokenMu.RLock()
	defer c.tokenMu.RUnlock()
	return c.token
}

// headers builds the standard request headers. agentID overrides the
// client-level agent when non-empty.
func (c *Client) headers(agentID string) http.Header {
	if agentID == "" {
		agentID = c.agentID
	}
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.currentToken())
	h.Set("Content-Type", "application/json")
	h.Set("x-openclaw-agent-id", agentID)
	return h
}

// classify maps a non-2xx response to the error taxonomy. The body reader
// is consumed. Returns nil for statuses below 400.
func classify(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &AuthError{Status: resp.StatusCode}
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	return nil
}

// decodeJSON enforces a JSON content type and unmarshals the body.
func decodeJSON(resp *http.Response, dst any) error {
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "json") {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{
			Status: resp.StatusCode,
			Body:   truncate(string(body), 200),
			Hint:   fmt.Sprintf("unexpected content type %q, the host/port may be wrong or the gateway returned an error page", ct),
		}
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// CheckAlive reports whether the gateway HTTP server is responding at all.
// The SPA catch-all answers 200 HTML for any route, so any status below
// 500 only proves the process is up — auth is not verified here.
func (c *Client) CheckAlive(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL, nil)
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, connError(c.baseURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode < 500, nil
}

// CheckAPIReady reports whether the OpenAI-compatible API layer is enabled
// and the token is accepted. It POSTs an intentionally empty message list:
// the auth middleware validates the token first, then the endpoint rejects
// the body with a JSON error. Any JSON response, whatever the status,
// proves the route exists and auth passed. An HTML response means the API
// layer is disabled server-side and raises APIError.
func (c *Client) CheckAPIReady(ctx context.Context) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	url := c.baseURL + pathChatCompletions
	body, _ := json.Marshal(map[string]any{"messages": []any{}, "stream": false})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.headers("")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, connError(url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return false, &AuthError{Status: resp.StatusCode}
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "json") {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return false, &APIError{
			Status: resp.StatusCode,
			Body:   truncate(string(excerpt), 200),
			Hint:   "the gateway returned " + ct + " instead of JSON; the OpenAI-compatible API is likely not enabled (enable_openai_api)",
		}
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return true, nil
}

// ModelInfo describes one model from /v1/models.
type ModelInfo struct {
	ID            string `json:"id"`
	OwnedBy       string `json:"owned_by"`
	ContextWindow int    `json:"context_window"`
}

// ListModels fetches the available models. Not every gateway build
// implements /v1/models — callers should treat APIError as expected and
// non-fatal, keeping any previously cached model info.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, apiTimeout)
	defer cancel()

	url := c.baseURL + pathModels
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.headers("")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, connError(url, err)
	}
	defer resp.Body.Close()

	if err := classify(resp); err != nil {
		return nil, err
	}

	var parsed struct {
		Data []ModelInfo `json:"data"`
	}
	if err := decodeJSON(resp, &parsed); err != nil {
		return nil, err
	}
	return parsed.Data, nil
}

// SendOptions carries the optional parameters of a chat completion.
type SendOptions struct {
	// SessionID correlates the conversation. Sent both in the body
	// (session_id, user) and as headers (X-Session-Id,
	// x-openclaw-session-key) for compatibility across gateway versions.
	SessionID string
	// Model overrides the gateway's default model.
	Model string
	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string
	// AgentID overrides the client-level agent for this call.
	AgentID string
}

func (c *Client) completionRequest(ctx context.Context, message string, opts SendOptions, stream bool) (*http.Request, error) {
	messages := make([]map[string]string, 0, 2)
	if opts.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": opts.SystemPrompt})
	}
	messages = append(messages, map[string]string{"role": "user", "content": message})

	payload := map[string]any{
		"messages": messages,
		"stream":   stream,
	}
	if opts.SessionID != "" {
		payload["session_id"] = opts.SessionID
		payload["user"] = opts.SessionID
	}
	if opts.Model != "" {
		payload["model"] = opts.Model
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+pathChatCompletions, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.headers(opts.AgentID)
	if opts.SessionID != "" {
		req.Header.Set("X-Session-Id", opts.SessionID)
		req.Header.Set("x-openclaw-session-key", opts.SessionID)
	}
	return req, nil
}

// SendMessage sends a chat message and returns the full completion
// response as an opaque JSON tree. Callers recover the assistant text via
// ExtractText, since the payload shape varies by provider.
func (c *Client) SendMessage(ctx context.Context, message string, opts SendOptions) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	req, err := c.completionRequest(ctx, message, opts, false)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, connError(req.URL.String(), err)
	}
	defer resp.Body.Close()

	if err := classify(resp); err != nil {
		return nil, err
	}

	var parsed map[string]any
	if err := decodeJSON(resp, &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}

// StreamCallback receives one non-empty content delta per SSE frame.
type StreamCallback func(delta string)

// StreamMessage sends a chat message and consumes the SSE response,
// invoking onDelta for each non-empty content delta. The stream ends at
// the `data: [DONE]` marker or connection close; malformed frames are
// skipped with a debug log and never abort the stream. Cancel ctx to
// abandon consumption — the response body is released on exit either way.
func (c *Client) StreamMessage(ctx context.Context, message string, opts SendOptions, onDelta StreamCallback) error {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	req, err := c.completionRequest(ctx, message, opts, true)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return connError(req.URL.String(), err)
	}
	defer resp.Body.Close()

	if err := classify(resp); err != nil {
		return err
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			return nil
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			c.logger.Debug("skipping non-JSON SSE frame", "payload", truncate(payload, 100))
			continue
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			onDelta(chunk.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return connError(req.URL.String(), fmt.Errorf("reading stream: %w", err))
	}
	return nil
}

// ToolRequest describes one tool invocation against /tools/invoke.
type ToolRequest struct {
	Tool   string
	Action string
	Args   map[string]any
	// SessionKey scopes the invocation to a gateway session.
	SessionKey string
	DryRun     bool
	// MessageChannel and AccountID are forwarded as routing headers used
	// by the gateway to scope side effects.
	MessageChannel string
	AccountID      string
}

// ToolResult is the structured outcome of a tool invocation.
type ToolResult struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// InvokeTool invokes a single OpenClaw tool via the gateway HTTP endpoint.
func (c *Client) InvokeTool(ctx context.Context, treq ToolRequest) (*ToolResult, error) {
	ctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	args := treq.Args
	if args == nil {
		args = map[string]any{}
	}
	payload := map[string]any{
		"tool":   treq.Tool,
		"args":   args,
		"dryRun": treq.DryRun,
	}
	if treq.Action != "" {
		payload["action"] = treq.Action
	}
	if treq.SessionKey != "" {
		payload["sessionKey"] = treq.SessionKey
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	url := c.baseURL + pathToolsInvoke
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header = c.headers("")
	if treq.MessageChannel != "" {
		req.Header.Set("x-openclaw-message-channel", treq.MessageChannel)
	}
	if treq.AccountID != "" {
		req.Header.Set("x-openclaw-account-id", treq.AccountID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, connError(url, err)
	}
	defer resp.Body.Close()

	if err := classify(resp); err != nil {
		return nil, err
	}

	var result ToolResult
	if err := decodeJSON(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
