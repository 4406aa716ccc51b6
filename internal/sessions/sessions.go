// Package sessions tracks per-transport conversation state.
package sessions

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/valet/pkg/models"
)

// DefaultMaxContextMessages bounds the history handed to the model.
const DefaultMaxContextMessages = 50

// Session is one conversation keyed by transport.
type Session struct {
	ID            string
	Key           string
	Messages      []models.Message
	LastToolCalls []models.ToolCall
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Manager holds one active session per transport key.
type Manager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	maxMessages int
}

// NewManager creates a session manager. maxMessages <= 0 uses the default.
func NewManager(maxMessages int) *Manager {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxContextMessages
	}
	return &Manager{
		sessions:    make(map[string]*Session),
		maxMessages: maxMessages,
	}
}

// GetOrCreate returns the session for a transport key, creating it on first
// use.
func (m *Manager) GetOrCreate(key string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[key]; ok {
		return s
	}
	now := time.Now()
	s := &Session{
		ID:        uuid.NewString(),
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.sessions[key] = s
	return s
}

// Append records messages on the session.
func (m *Manager) Append(key string, msgs ...models.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return
	}
	s.Messages = append(s.Messages, msgs...)
	s.UpdatedAt = time.Now()
}

// SetLastToolCalls records the most recent turn's tool calls.
func (m *Manager) SetLastToolCalls(key string, calls []models.ToolCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	if !ok {
		return
	}
	s.LastToolCalls = append([]models.ToolCall(nil), calls...)
	s.UpdatedAt = time.Now()
}

// History returns the session's messages trimmed to the context window. The
// trim happens at assembly time; the full history stays on the session.
func (m *Manager) History(key string) []models.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[key]
	if !ok {
		return nil
	}
	msgs := s.Messages
	if len(msgs) > m.maxMessages {
		msgs = msgs[len(msgs)-m.maxMessages:]
	}
	return append([]models.Message(nil), msgs...)
}

// Clear drops the session for a transport key.
func (m *Manager) Clear(key string) {
	m.mu.Lock()
	delete(m.sessions, key)
	m.mu.Unlock()
}

// Len returns the number of active sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
