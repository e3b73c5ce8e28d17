package assistant

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"receiptiq/backend/internal/chat"
	"receiptiq/backend/internal/retrieval"
)

type TestRetriever struct {
	Fragments []retrieval.Fragment
	Err       error
	LastUser  string
	LastQuery string
}

func (m *TestRetriever) Retrieve(ctx context.Context, userID, query string) ([]retrieval.Fragment, error) {
	m.LastUser = userID
	m.LastQuery = query
	return m.Fragments, m.Err
}

type TestResponder struct {
	Reply     string
	Err       error
	LastFrags []retrieval.Fragment
	Sessions  []string
}

func (m *TestResponder) Respond(ctx context.Context, sessionID, userText string, fragments []retrieval.Fragment) (string, error) {
	m.Sessions = append(m.Sessions, sessionID)
	m.LastFrags = fragments
	return m.Reply, m.Err
}

func TestAsk_Success(t *testing.T) {
	ret := &TestRetriever{Fragments: []retrieval.Fragment{{ReceiptID: "rcpt-1", Content: "Total: 18.45", Score: 0.9}}}
	resp := &TestResponder{Reply: "You spent 18.45 at the deli."}
	svc := NewService(chat.NewManager(10), ret, resp)

	answer, err := svc.Ask(context.Background(), "user-1", "sess-1", "how much at the deli?")

	require.NoError(t, err)
	assert.Equal(t, "sess-1", answer.SessionID)
	assert.Equal(t, "You spent 18.45 at the deli.", answer.Reply)
	assert.Len(t, answer.Fragments, 1)
	assert.Equal(t, "user-1", ret.LastUser)
	assert.Equal(t, "how much at the deli?", ret.LastQuery)
}

func TestAsk_QueryFallsBackToSessionHistory(t *testing.T) {
	sessions := chat.NewManager(10)
	sessions.AppendExchange("sess-1", "how much at the deli?", "You spent 18.45.")
	ret := &TestRetriever{}
	svc := NewService(sessions, ret, &TestResponder{Reply: "still 18.45"})

	_, err := svc.Ask(context.Background(), "user-1", "sess-1", "")

	require.NoError(t, err)
	assert.Equal(t, "how much at the deli?", ret.LastQuery)
}

func TestAsk_EmptySessionID_GeneratesOne(t *testing.T) {
	resp := &TestResponder{Reply: "hello"}
	svc := NewService(chat.NewManager(10), &TestRetriever{}, resp)

	answer, err := svc.Ask(context.Background(), "user-1", "", "hi")

	require.NoError(t, err)
	assert.NotEmpty(t, answer.SessionID)
	require.Len(t, resp.Sessions, 1)
	assert.Equal(t, answer.SessionID, resp.Sessions[0])
}

func TestAsk_RetrievalFailure_AnswersWithoutContext(t *testing.T) {
	ret := &TestRetriever{Err: errors.New("weaviate down")}
	resp := &TestResponder{Reply: "I don't have your receipts handy."}
	svc := NewService(chat.NewManager(10), ret, resp)

	answer, err := svc.Ask(context.Background(), "user-1", "sess-1", "what did I buy?")

	require.NoError(t, err)
	assert.Nil(t, resp.LastFrags)
	assert.Empty(t, answer.Fragments)
	assert.NotNil(t, answer.Fragments)
}

func TestAsk_ScopeViolation_Aborts(t *testing.T) {
	ret := &TestRetriever{Err: fmt.Errorf("search: %w", retrieval.ErrScopeViolation)}
	resp := &TestResponder{Reply: "should not be called"}
	svc := NewService(chat.NewManager(10), ret, resp)

	_, err := svc.Ask(context.Background(), "user-1", "sess-1", "what did I buy?")

	assert.ErrorIs(t, err, retrieval.ErrScopeViolation)
	assert.Empty(t, resp.Sessions)
}

func TestAsk_GenerationError_Propagates(t *testing.T) {
	resp := &TestResponder{Err: fmt.Errorf("%w: deadline", chat.ErrGenerationTimeout)}
	svc := NewService(chat.NewManager(10), &TestRetriever{}, resp)

	_, err := svc.Ask(context.Background(), "user-1", "sess-1", "hi")

	assert.ErrorIs(t, err, chat.ErrGenerationTimeout)
}

func TestEndSession_DropsHistory(t *testing.T) {
	sessions := chat.NewManager(10)
	svc := NewService(sessions, &TestRetriever{}, &TestResponder{})

	sessions.AppendExchange("sess-1", "hi", "hello")
	require.Len(t, svc.History("sess-1"), 2)

	svc.EndSession("sess-1")
	assert.Empty(t, svc.History("sess-1"))
}
