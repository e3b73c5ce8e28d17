package chat

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_AppendTurn_EvictsOldestFirst(t *testing.T) {
	m := NewManager(3)

	for i := 0; i < 5; i++ {
		m.AppendTurn("s1", RoleUser, fmt.Sprintf("msg-%d", i))
	}

	turns := m.History("s1")
	require.Len(t, turns, 3)
	assert.Equal(t, "msg-2", turns[0].Text)
	assert.Equal(t, "msg-3", turns[1].Text)
	assert.Equal(t, "msg-4", turns[2].Text)
}

func TestManager_UnknownSessionIsNotAnError(t *testing.T) {
	m := NewManager(10)
	assert.Empty(t, m.History("never-seen"))
	assert.Equal(t, "", m.BuildQuery("never-seen", ""))
}

func TestManager_BuildQuery_MostRecentUserTurn(t *testing.T) {
	m := NewManager(10)
	m.AppendTurn("s1", RoleUser, "how much at delis?")
	m.AppendTurn("s1", RoleAssistant, "you spent $42")
	assert.Equal(t, "how much at delis?", m.BuildQuery("s1", ""))

	m.AppendTurn("s1", RoleUser, "and on coffee?")
	assert.Equal(t, "and on coffee?", m.BuildQuery("s1", ""))
}

func TestManager_BuildQuery_CurrentTurnWins(t *testing.T) {
	m := NewManager(10)
	m.AppendTurn("s1", RoleUser, "how much at delis?")
	assert.Equal(t, "and on coffee?", m.BuildQuery("s1", "and on coffee?"))
}

func TestManager_AppendExchange_Atomic(t *testing.T) {
	m := NewManager(10)
	m.AppendExchange("s1", "question", "answer")

	turns := m.History("s1")
	require.Len(t, turns, 2)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, RoleAssistant, turns[1].Role)
}

func TestManager_ConcurrentAppends_NoLostUpdate(t *testing.T) {
	m := NewManager(1000)

	const writers = 10
	const perWriter = 50
	var wg sync.WaitGroup
	wg.Add(writers)
	for w := 0; w < writers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				m.AppendTurn("shared", RoleUser, fmt.Sprintf("w%d-%d", w, i))
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, m.History("shared"), writers*perWriter)
}

func TestManager_SessionsIndependent(t *testing.T) {
	m := NewManager(10)
	m.AppendTurn("a", RoleUser, "for a")
	m.AppendTurn("b", RoleUser, "for b")

	assert.Len(t, m.History("a"), 1)
	assert.Len(t, m.History("b"), 1)
	assert.Equal(t, 2, m.Count())

	m.Expire("a")
	assert.Empty(t, m.History("a")) // recreated fresh, transparently
	assert.Len(t, m.History("b"), 1)
}

func TestManager_HistoryIsACopy(t *testing.T) {
	m := NewManager(10)
	m.AppendTurn("s1", RoleUser, "original")

	turns := m.History("s1")
	turns[0].Text = "mutated"

	assert.Equal(t, "original", m.History("s1")[0].Text)
}
