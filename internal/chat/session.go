package chat

import (
	"sync"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a conversation, immutable once appended.
type Turn struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

type session struct {
	mu    sync.Mutex
	turns []Turn
}

// Manager keeps bounded per-session chat history. Sessions are created
// transparently on first touch: an expired or unknown id is never an error.
// Appends are serialized per session; sessions are independent of each
// other and share no lock.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session
	maxTurns int
}

func NewManager(maxTurns int) *Manager {
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &Manager{
		sessions: make(map[string]*session),
		maxTurns: maxTurns,
	}
}

func (m *Manager) get(id string) *session {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if ok {
		return s
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		return s
	}
	s = &session{}
	m.sessions[id] = s
	return s
}

// AppendTurn appends a turn, evicting the oldest turns first when the
// session exceeds the configured maximum. Chronological order of the
// retained turns is preserved.
func (m *Manager) AppendTurn(id string, role Role, text string) {
	s := m.get(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(m.maxTurns, Turn{Role: role, Text: text, Timestamp: time.Now()})
}

// AppendExchange appends a user turn and the assistant's reply atomically,
// so a concurrent reader of the same session never observes the reply
// without its question or vice versa.
func (m *Manager) AppendExchange(id, userText, assistantText string) {
	s := m.get(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.appendLocked(m.maxTurns, Turn{Role: RoleUser, Text: userText, Timestamp: now})
	s.appendLocked(m.maxTurns, Turn{Role: RoleAssistant, Text: assistantText, Timestamp: now})
}

func (s *session) appendLocked(maxTurns int, t Turn) {
	s.turns = append(s.turns, t)
	if excess := len(s.turns) - maxTurns; excess > 0 {
		s.turns = append([]Turn(nil), s.turns[excess:]...)
	}
}

// History returns a copy of the session's turns in chronological order.
func (m *Manager) History(id string) []Turn {
	s := m.get(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Turn, len(s.turns))
	copy(out, s.turns)
	return out
}

// BuildQuery derives the retrieval query for a session: the current user
// turn when one is in flight, otherwise the most recent user turn in the
// history. The current turn is passed rather than appended so a failed
// exchange leaves the session untouched.
func (m *Manager) BuildQuery(id, current string) string {
	if current != "" {
		return current
	}
	turns := m.History(id)
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == RoleUser {
			return turns[i].Text
		}
	}
	return ""
}

// Expire drops a session. Expiry policy itself lives with the caller.
func (m *Manager) Expire(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Count returns the number of live sessions, for stats reporting.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
