// Package coordinator polls the OpenClaw gateway on a fixed interval and
// reconciles the partially-available remote state into a stable status
// snapshot. Transient failures degrade to an "offline" snapshot that
// carries the cached model and tool sub-state forward; auth failures
// trigger a credential re-read; a missing /v1/models endpoint is expected
// and never marks the poll cycle failed.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jholhewres/clawbridge/pkg/clawbridge/gateway"
)

// DefaultInterval is the poll cadence when none is configured.
const DefaultInterval = 30 * time.Second

// GatewayAPI is the slice of the gateway client the coordinator drives.
type GatewayAPI interface {
	CheckAlive(ctx context.Context) (bool, error)
	ListModels(ctx context.Context) ([]gateway.ModelInfo, error)
	InvokeTool(ctx context.Context, req gateway.ToolRequest) (*gateway.ToolResult, error)
}

// RefreshFunc re-reads the gateway credential from its external source.
// It reports whether the token changed. Called at most once per tick, on
// auth failure.
type RefreshFunc func(ctx context.Context) (bool, error)

// Listener receives every published snapshot.
type Listener func(Snapshot)

// Coordinator owns the recurring refresh cycle. Ticks are serialized by a
// non-reentrant guard: a tick that outlasts the interval delays the next
// one instead of overlapping it.
type Coordinator struct {
	client   GatewayAPI
	interval time.Duration
	refresh  RefreshFunc
	logger   *slog.Logger

	tickMu sync.Mutex

	mu                  sync.RWMutex
	current             Snapshot
	cache               modelCache
	lastTool            toolRecord
	lastActivity        *time.Time
	consecutiveFailures int
	listeners           []Listener

	refreshCh chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a coordinator. interval <= 0 selects DefaultInterval.
func New(client GatewayAPI, interval time.Duration, logger *slog.Logger) *Coordinator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		client:    client,
		interval:  interval,
		logger:    logger.With("component", "coordinator"),
		current:   Snapshot{Status: StatusOffline, Sessions: []string{}},
		refreshCh: make(chan struct{}, 1),
	}
}

// SetRefreshFunc registers the credential refresh hook.
func (c *Coordinator) SetRefreshFunc(fn RefreshFunc) {
	c.mu.Lock()
	c.refresh = fn
	c.mu.Unlock()
}

// Subscribe registers a snapshot listener and returns an unsubscribe func.
func (c *Coordinator) Subscribe(fn Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
	idx := len(c.listeners) - 1
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if idx < len(c.listeners) {
			c.listeners[idx] = nil
		}
	}
}

// Start performs one immediate poll and then begins the interval loop.
func (c *Coordinator) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	c.Poll(loopCtx)

	c.logger.Info("coordinator started", "interval", c.interval.String())
	go c.loop(loopCtx)
}

// Stop shuts down the poll loop and waits for it to exit.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
	}
}

// RequestRefresh schedules an immediate out-of-cycle poll.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

func (c *Coordinator) loop(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.Poll(ctx)
		case <-c.refreshCh:
			c.Poll(ctx)
		case <-ctx.Done():
			c.logger.Info("coordinator stopped")
			return
		}
	}
}

// Poll runs a single poll cycle. No error ever escapes: every failure
// degrades to a valid (possibly offline) snapshot.
func (c *Coordinator) Poll(ctx context.Context) {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	snap := c.offlineSnapshot()

	// Liveness check: base-URL ping. The gateway SPA answers any route, so
	// this only proves the process is up.
	alive, err := c.client.CheckAlive(ctx)
	if err != nil || !alive {
		c.mu.Lock()
		c.consecutiveFailures++
		failures := c.consecutiveFailures
		c.mu.Unlock()

		if failures <= 3 {
			c.logger.Debug("gateway unreachable", "attempt", failures, "error", err)
		} else if failures == 4 {
			c.logger.Warn("gateway has been unreachable for consecutive polls", "attempts", failures)
		}
		c.publish(snap)
		return
	}

	c.mu.Lock()
	c.consecutiveFailures = 0
	c.mu.Unlock()

	snap.Status = StatusOnline
	snap.Connected = true
	// Session/uptime details are not exposed by this gateway; they stay at
	// their defaults unless the sessions tool below fills them in.

	c.refreshModels(ctx)
	c.enumerateSessions(ctx, &snap)

	c.mu.RLock()
	snap.merge(c.cache, c.lastTool, c.lastActivity)
	c.mu.RUnlock()

	c.publish(snap)
}

// refreshModels updates the model cache best-effort. A missing endpoint
// (APIError) is expected on this gateway build and skipped silently; an
// auth failure triggers the credential refresh hook once for this tick.
func (c *Coordinator) refreshModels(ctx context.Context) {
	models, err := c.client.ListModels(ctx)
	if err == nil {
		if len(models) == 0 {
			return
		}
		current := models[0]
		ids := make([]string, 0, len(models))
		for _, m := range models {
			ids = append(ids, m.ID)
		}
		model := current.ID
		if model == "" {
			model = "unknown"
		}
		c.mu.Lock()
		c.cache = modelCache{
			model:         model,
			provider:      current.OwnedBy,
			contextWindow: current.ContextWindow,
			available:     ids,
		}
		c.mu.Unlock()
		return
	}

	var authErr *gateway.AuthError
	if errors.As(err, &authErr) {
		c.logger.Warn("gateway auth failed during poll", "error", err)
		c.tryRefreshToken(ctx)
		return
	}
	// /v1/models not implemented or unreachable mid-poll — expected, keep
	// the cache as-is.
	c.logger.Debug("model refresh skipped", "error", err)
}

// enumerateSessions attempts to list active sessions via the sessions
// tool. Server policy may disallow it; any failure is skipped silently.
func (c *Coordinator) enumerateSessions(ctx context.Context, snap *Snapshot) {
	result, err := c.client.InvokeTool(ctx, gateway.ToolRequest{
		Tool:   "sessions",
		Action: "list",
	})
	if err != nil || result == nil || !result.OK {
		c.logger.Debug("session enumeration skipped", "error", err)
		return
	}

	var parsed struct {
		Sessions []string `json:"sessions"`
	}
	if err := json.Unmarshal(result.Result, &parsed); err != nil {
		return
	}
	if parsed.Sessions != nil {
		snap.Sessions = parsed.Sessions
		snap.SessionCount = len(parsed.Sessions)
	}
}

// tryRefreshToken invokes the credential refresh hook, at most once per
// detected auth failure per tick. Interval-driven retry makes backoff at
// this layer unnecessary.
func (c *Coordinator) tryRefreshToken(ctx context.Context) {
	c.mu.RLock()
	refresh := c.refresh
	c.mu.RUnlock()

	if refresh == nil {
		c.logger.Debug("no credential refresh hook configured")
		return
	}
	changed, err := refresh(ctx)
	if err != nil {
		c.logger.Warn("credential refresh failed", "error", err)
		return
	}
	if changed {
		c.logger.Info("gateway token refreshed — next poll should succeed")
	}
}

// offlineSnapshot builds the degraded snapshot: offline, but carrying the
// cached model/tool sub-state forward.
func (c *Coordinator) offlineSnapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Status:   StatusOffline,
		Sessions: []string{},
	}
	snap.merge(c.cache, c.lastTool, c.lastActivity)
	return snap
}

// publish replaces the current snapshot and fans it out to listeners.
func (c *Coordinator) publish(snap Snapshot) {
	c.mu.Lock()
	c.current = snap
	listeners := make([]Listener, len(c.listeners))
	copy(listeners, c.listeners)
	c.mu.Unlock()

	for _, fn := range listeners {
		if fn != nil {
			fn(snap)
		}
	}
}

// Snapshot returns the most recently published snapshot.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// AvailableModels returns the cached model id list from the last
// successful /v1/models fetch.
func (c *Coordinator) AvailableModels() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.cache.available))
	copy(out, c.cache.available)
	return out
}

// UpdateLastActivity stamps the last message activity with the current
// time. Reflected in the snapshot on the next publish.
func (c *Coordinator) UpdateLastActivity() {
	now := time.Now().UTC()
	c.mu.Lock()
	c.lastActivity = &now
	c.mu.Unlock()
}

// RecordToolInvocation folds a completed tool invocation into the last-
// tool state and republishes the snapshot immediately, without waiting for
// the next poll tick.
func (c *Coordinator) RecordToolInvocation(tool string, ok bool, duration time.Duration, errMsg, preview string) {
	c.mu.Lock()
	c.lastTool = toolRecord{
		name:       tool,
		ok:         ok,
		durationMs: duration.Milliseconds(),
		invokedAt:  time.Now().UTC(),
		errMsg:     errMsg,
		preview:    preview,
	}
	snap := c.current
	snap.merge(c.cache, c.lastTool, c.lastActivity)
	c.mu.Unlock()

	c.publish(snap)
}
