// Package bridge is the service layer tying the gateway client, the status
// coordinator, chat history, and the event bus together. It owns the
// conversation flow: build the system prompt, prefer streaming, fall back
// to a blocking completion, and retry once after a credential refresh when
// the gateway rejects the token.
package bridge

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/clawbridge/pkg/clawbridge/coordinator"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/events"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/gateway"
	"github.com/jholhewres/clawbridge/pkg/clawbridge/history"
)

// previewLimit bounds tool result previews in status and events.
const previewLimit = 200

// GatewayClient is the gateway surface the bridge needs.
type GatewayClient interface {
	SendMessage(ctx context.Context, message string, opts gateway.SendOptions) (map[string]any, error)
	StreamMessage(ctx context.Context, message string, opts gateway.SendOptions, onDelta gateway.StreamCallback) error
	InvokeTool(ctx context.Context, treq gateway.ToolRequest) (*gateway.ToolResult, error)
}

// Refresher re-reads the gateway credential. Refresh reports whether the
// token actually changed.
type Refresher interface {
	Refresh(ctx context.Context) (bool, error)
}

// ModelSelector persists the user-selected model.
type ModelSelector interface {
	ActiveModel() string
	SetActiveModel(model string) error
}

// SendRequest is one user message to the assistant.
type SendRequest struct {
	// SessionID correlates the conversation. Empty generates a new one.
	SessionID string

	// Message is the user's text.
	Message string

	// Context is the host state block appended to the system prompt,
	// bounded by the context policy.
	Context string

	// Model overrides the active model for this call.
	Model string
}

// Reply is the assistant's answer to one SendRequest.
type Reply struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Model     string `json:"model"`
}

// Bridge coordinates one gateway conversation surface.
type Bridge struct {
	client    GatewayClient
	coord     *coordinator.Coordinator
	history   *history.Store
	bus       *events.Bus
	refresher Refresher
	models    ModelSelector

	instructions string
	policy       ContextPolicy
	logger       *slog.Logger
}

// Options configures a Bridge. Refresher and Models may be nil.
type Options struct {
	Client       GatewayClient
	Coordinator  *coordinator.Coordinator
	History      *history.Store
	Bus          *events.Bus
	Refresher    Refresher
	Models       ModelSelector
	Instructions string
	Policy       ContextPolicy
	Logger       *slog.Logger
}

// New creates a Bridge.
func New(opts Options) *Bridge {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		client:       opts.Client,
		coord:        opts.Coordinator,
		history:      opts.History,
		bus:          opts.Bus,
		refresher:    opts.Refresher,
		models:       opts.Models,
		instructions: opts.Instructions,
		policy:       opts.Policy,
		logger:       logger.With("component", "bridge"),
	}
}

// Send delivers one user message and returns the assistant's reply.
// Streaming is preferred; if the stream fails before producing any text,
// it falls back to a blocking completion. Either path gets one transparent
// retry after a credential refresh when the gateway rejects the token.
func (b *Bridge) Send(ctx context.Context, req SendRequest) (*Reply, error) {
	return b.send(ctx, req, nil)
}

// Stream is Send with live deltas: onDelta receives each content chunk as
// it arrives, and the returned Reply carries the concatenated text. When
// the stream fails before producing output and the blocking fallback
// succeeds, the full text is delivered as a single delta.
func (b *Bridge) Stream(ctx context.Context, req SendRequest, onDelta gateway.StreamCallback) (*Reply, error) {
	return b.send(ctx, req, onDelta)
}

func (b *Bridge) send(ctx context.Context, req SendRequest, onDelta gateway.StreamCallback) (*Reply, error) {
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	model := req.Model
	if model == "" && b.models != nil {
		model = b.models.ActiveModel()
	}

	opts := gateway.SendOptions{
		SessionID:    sessionID,
		Model:        model,
		SystemPrompt: buildSystemPrompt(b.instructions, req.Context, b.policy),
	}

	if b.history != nil {
		b.history.Append(sessionID, history.Message{Role: "user", Content: req.Message})
	}

	var text string
	err := b.withAuthRetry(ctx, func() error {
		var innerErr error
		text, innerErr = b.complete(ctx, req.Message, opts, onDelta)
		return innerErr
	})
	if err != nil {
		return nil, err
	}

	if b.history != nil {
		b.history.Append(sessionID, history.Message{Role: "assistant", Content: text})
	}
	if b.coord != nil {
		b.coord.UpdateLastActivity()
	}
	if b.bus != nil {
		b.bus.EmitMessageReceived(sessionID, text, model)
	}

	return &Reply{SessionID: sessionID, Text: text, Model: model}, nil
}

// complete runs one completion attempt, streaming first. A stream that
// fails after emitting deltas is surfaced as an error (the reply would be
// incomplete); a stream that fails cleanly before any output falls back to
// the blocking endpoint.
func (b *Bridge) complete(ctx context.Context, message string, opts gateway.SendOptions, onDelta gateway.StreamCallback) (string, error) {
	var sb strings.Builder
	streamErr := b.client.StreamMessage(ctx, message, opts, func(delta string) {
		sb.WriteString(delta)
		if onDelta != nil {
			onDelta(delta)
		}
	})
	if streamErr == nil {
		return sb.String(), nil
	}
	if sb.Len() > 0 {
		return "", streamErr
	}

	var authErr *gateway.AuthError
	if errors.As(streamErr, &authErr) {
		// Let the retry wrapper refresh credentials instead of hammering
		// the blocking endpoint with the same bad token.
		return "", streamErr
	}

	b.logger.Debug("stream failed before output, falling back to blocking completion", "error", streamErr)
	parsed, err := b.client.SendMessage(ctx, message, opts)
	if err != nil {
		return "", err
	}
	text := gateway.ExtractText(parsed)
	if onDelta != nil && text != "" {
		onDelta(text)
	}
	return text, nil
}

// InvokeTool runs one gateway tool, records the outcome in the status
// snapshot, and emits a tool event. The invocation gets the same
// refresh-and-retry-once treatment as messages.
func (b *Bridge) InvokeTool(ctx context.Context, treq gateway.ToolRequest) (*gateway.ToolResult, error) {
	start := time.Now()

	var result *gateway.ToolResult
	err := b.withAuthRetry(ctx, func() error {
		var innerErr error
		result, innerErr = b.client.InvokeTool(ctx, treq)
		return innerErr
	})
	duration := time.Since(start)

	ok := err == nil && result != nil && result.OK
	var errMsg, preview string
	switch {
	case err != nil:
		errMsg = err.Error()
	case result != nil && result.Error != "":
		errMsg = result.Error
	}
	if result != nil && len(result.Result) > 0 {
		preview = truncatePreview(string(result.Result), previewLimit)
	}

	if b.coord != nil {
		b.coord.RecordToolInvocation(treq.Tool, ok, duration, errMsg, preview)
	}
	if b.bus != nil {
		b.bus.EmitToolInvoked(treq.SessionKey, treq.Tool, ok, duration.Milliseconds(), errMsg, preview)
	}

	return result, err
}

// ClearHistory removes one session's chat log, or all logs when sessionID
// is empty.
func (b *Bridge) ClearHistory(sessionID string) {
	if b.history != nil {
		b.history.Clear(sessionID)
	}
}

// History returns the chat log for one session, oldest first.
func (b *Bridge) History(sessionID string) []history.Message {
	if b.history == nil {
		return nil
	}
	return b.history.Messages(sessionID)
}

// Status returns the current gateway snapshot.
func (b *Bridge) Status() coordinator.Snapshot {
	if b.coord == nil {
		return coordinator.Snapshot{Status: coordinator.StatusOffline}
	}
	return b.coord.Snapshot()
}

// Models returns the model ids cached by the last successful poll.
func (b *Bridge) Models() []string {
	if b.coord == nil {
		return nil
	}
	return b.coord.AvailableModels()
}

// ActiveModel returns the persisted model selection, or empty for the
// gateway default.
func (b *Bridge) ActiveModel() string {
	if b.models == nil {
		return ""
	}
	return b.models.ActiveModel()
}

// SetActiveModel persists a model selection. Unknown models are accepted
// with a warning — the cache may simply be stale.
func (b *Bridge) SetActiveModel(model string) error {
	if b.models == nil {
		return errors.New("model selection is not persisted in this configuration")
	}
	if model != "" {
		known := false
		for _, id := range b.Models() {
			if id == model {
				known = true
				break
			}
		}
		if !known {
			b.logger.Warn("selecting model not present in the cached model list", "model", model)
		}
	}
	return b.models.SetActiveModel(model)
}

// withAuthRetry runs fn, and when it fails with an auth error, refreshes
// the credential and retries exactly once if the token actually changed.
func (b *Bridge) withAuthRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || b.refresher == nil {
		return err
	}
	var authErr *gateway.AuthError
	if !errors.As(err, &authErr) {
		return err
	}

	changed, refreshErr := b.refresher.Refresh(ctx)
	if refreshErr != nil {
		b.logger.Warn("credential refresh failed", "error", refreshErr)
		return err
	}
	if !changed {
		return err
	}

	b.logger.Info("gateway token refreshed, retrying request")
	return fn()
}

// truncatePreview clips a tool result excerpt.
func truncatePreview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
