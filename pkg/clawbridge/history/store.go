// Package history keeps a bounded per-session chat log. Each session
// holds at most MaxMessages entries; appending beyond the cap drops the
// oldest first. The in-memory log is authoritative; an optional SQLite
// database gives write-through persistence across restarts.
package history

import (
	"database/sql"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// MaxMessages is the per-session log bound.
const MaxMessages = 200

// Message is a single chat log entry.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store manages per-session chat logs.
type Store struct {
	mu       sync.RWMutex
	sessions map[string][]Message

	db     *sql.DB // nil disables persistence
	logger *slog.Logger
}

// NewStore creates a chat history store. db may be nil for memory-only
// operation; when set, existing rows are loaded and pruned to the bound.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		sessions: make(map[string][]Message),
		db:       db,
		logger:   logger.With("component", "history"),
	}
	if db != nil {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Append adds a message to a session log, evicting the oldest entry when
// the bound is exceeded.
func (s *Store) Append(sessionID string, msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	log := append(s.sessions[sessionID], msg)
	if len(log) > MaxMessages {
		log = log[len(log)-MaxMessages:]
	}
	s.sessions[sessionID] = log
	s.mu.Unlock()

	if s.db != nil {
		s.persist(sessionID, msg)
	}
}

// Messages returns a copy of the full log for one session, oldest first.
func (s *Store) Messages(sessionID string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.sessions[sessionID]
	out := make([]Message, len(log))
	copy(out, log)
	return out
}

// Sessions returns the known session ids, sorted.
func (s *Store) Sessions() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Clear removes one session's log, or every log when sessionID is empty.
func (s *Store) Clear(sessionID string) {
	s.mu.Lock()
	if sessionID == "" {
		s.sessions = make(map[string][]Message)
	} else {
		delete(s.sessions, sessionID)
	}
	s.mu.Unlock()

	if s.db == nil {
		return
	}
	var err error
	if sessionID == "" {
		_, err = s.db.Exec("DELETE FROM messages")
	} else {
		_, err = s.db.Exec("DELETE FROM messages WHERE session_id = ?", sessionID)
	}
	if err != nil {
		s.logger.Error("failed to clear persisted history", "session", sessionID, "error", err)
	}
}

// persist writes one message and prunes the session to the bound.
func (s *Store) persist(sessionID string, msg Message) {
	_, err := s.db.Exec(
		"INSERT INTO messages (session_id, role, content, created_at) VALUES (?, ?, ?, ?)",
		sessionID, msg.Role, msg.Content, msg.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		s.logger.Error("failed to persist message", "session", sessionID, "error", err)
		return
	}
	_, err = s.db.Exec(`
		DELETE FROM messages WHERE session_id = ? AND id NOT IN (
			SELECT id FROM messages WHERE session_id = ? ORDER BY id DESC LIMIT ?
		)`,
		sessionID, sessionID, MaxMessages,
	)
	if err != nil {
		s.logger.Error("failed to prune history", "session", sessionID, "error", err)
	}
}

// load reads persisted messages back into memory, oldest first, keeping at
// most MaxMessages per session.
func (s *Store) load() error {
	rows, err := s.db.Query(
		"SELECT session_id, role, content, created_at FROM messages ORDER BY id")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var sessionID, role, content, createdAt string
		if err := rows.Scan(&sessionID, &role, &content, &createdAt); err != nil {
			return err
		}
		ts, _ := time.Parse(time.RFC3339Nano, createdAt)
		log := append(s.sessions[sessionID], Message{Role: role, Content: content, Timestamp: ts})
		if len(log) > MaxMessages {
			log = log[len(log)-MaxMessages:]
		}
		s.sessions[sessionID] = log
	}
	return rows.Err()
}
