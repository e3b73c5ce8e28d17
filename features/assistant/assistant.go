package assistant

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"receiptiq/backend/internal/chat"
	"receiptiq/backend/internal/retrieval"
)

type Answer struct {
	SessionID string               `json:"sessionId"`
	Reply     string               `json:"reply"`
	Fragments []retrieval.Fragment `json:"usedFragments"`
}

type Retriever interface {
	Retrieve(ctx context.Context, userID, query string) ([]retrieval.Fragment, error)
}

// Responder generates the reply and records the exchange on success.
type Responder interface {
	Respond(ctx context.Context, sessionID, userText string, fragments []retrieval.Fragment) (string, error)
}

type Service struct {
	sessions  *chat.Manager
	retriever Retriever
	responder Responder
}

func NewService(sessions *chat.Manager, retriever Retriever, responder Responder) *Service {
	return &Service{sessions: sessions, retriever: retriever, responder: responder}
}

// Ask answers one user message. An empty session id starts a fresh session;
// an unknown one is treated as fresh rather than rejected.
func (s *Service) Ask(ctx context.Context, userID, sessionID, message string) (*Answer, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	query := s.sessions.BuildQuery(sessionID, message)
	fragments, err := s.retriever.Retrieve(ctx, userID, query)
	if err != nil {
		if errors.Is(err, retrieval.ErrScopeViolation) {
			return nil, err
		}
		// Retrieval trouble degrades to an uninformed answer rather than
		// blocking the conversation.
		slog.WarnContext(ctx, "retrieval failed, answering without context", "error", err, "session_id", sessionID)
		fragments = nil
	}

	reply, err := s.responder.Respond(ctx, sessionID, message, fragments)
	if err != nil {
		return nil, err
	}

	if fragments == nil {
		fragments = []retrieval.Fragment{}
	}
	return &Answer{SessionID: sessionID, Reply: reply, Fragments: fragments}, nil
}

func (s *Service) History(sessionID string) []chat.Turn {
	return s.sessions.History(sessionID)
}

func (s *Service) EndSession(sessionID string) {
	s.sessions.Expire(sessionID)
}
