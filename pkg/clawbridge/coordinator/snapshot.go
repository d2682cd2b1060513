// snapshot.go defines the aggregated status snapshot the coordinator
// publishes once per poll cycle, plus the sub-state that survives
// individual poll failures.
package coordinator

import "time"

// Status values for Snapshot.Status.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Snapshot is the aggregated gateway status published after every poll
// cycle. It is immutable once published and replaced wholesale; every
// field has a defined default even when the gateway is fully unreachable.
type Snapshot struct {
	Status        string     `json:"status"`
	Connected     bool       `json:"connected"`
	Model         string     `json:"model,omitempty"`
	Provider      string     `json:"provider,omitempty"`
	ContextWindow int        `json:"context_window,omitempty"`
	SessionCount  int        `json:"session_count"`
	Sessions      []string   `json:"sessions"`
	LastActivity  *time.Time `json:"last_activity,omitempty"`

	LastToolName          string `json:"last_tool_name,omitempty"`
	LastToolStatus        string `json:"last_tool_status,omitempty"` // "ok", "error", or ""
	LastToolDurationMs    int64  `json:"last_tool_duration_ms,omitempty"`
	LastToolError         string `json:"last_tool_error,omitempty"`
	LastToolResultPreview string `json:"last_tool_result_preview,omitempty"`
}

// modelCache holds the best-effort model info. It is replaced wholesale on
// a successful /v1/models fetch and carried forward unchanged otherwise.
type modelCache struct {
	model         string
	provider      string
	contextWindow int
	available     []string
}

// toolRecord is the outcome of the most recent tool invocation. It is
// written by explicit invocation events, not by polling.
type toolRecord struct {
	name       string
	ok         bool
	durationMs int64
	invokedAt  time.Time
	errMsg     string
	preview    string
}

// merge folds the cached sub-state into a snapshot.
func (s *Snapshot) merge(cache modelCache, tool toolRecord, lastActivity *time.Time) {
	s.Model = cache.model
	s.Provider = cache.provider
	s.ContextWindow = cache.contextWindow
	s.LastActivity = lastActivity

	if tool.name != "" {
		s.LastToolName = tool.name
		if tool.ok {
			s.LastToolStatus = "ok"
		} else {
			s.LastToolStatus = "error"
		}
		s.LastToolDurationMs = tool.durationMs
		s.LastToolError = tool.errMsg
		s.LastToolResultPreview = tool.preview
	}
}
