package model

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWorkingMemory_PreservesLeadingSystemMessage(t *testing.T) {
	wm := NewWorkingMemory(10) // tiny budget forces eviction
	wm.Add(Message{Role: RoleSystem, Content: "you are rove"})
	for i := 0; i < 10; i++ {
		wm.Add(Message{Role: RoleUser, Content: strings.Repeat("x", 40)})
	}

	msgs := wm.Messages()
	require.NotEmpty(t, msgs)
	require.Equal(t, RoleSystem, msgs[0].Role)
}

func TestWorkingMemory_NeverEvictsBelowThreeMessages(t *testing.T) {
	wm := NewWorkingMemory(1) // budget impossible to satisfy
	wm.Add(Message{Role: RoleUser, Content: strings.Repeat("x", 1000)})
	wm.Add(Message{Role: RoleAssistant, Content: strings.Repeat("y", 1000)})
	wm.Add(Message{Role: RoleUser, Content: strings.Repeat("z", 1000)})

	require.Equal(t, 3, wm.Len())
}

func TestWorkingMemory_EvictsOldestNonSystemFirst(t *testing.T) {
	wm := NewWorkingMemory(20)
	wm.Add(Message{Role: RoleSystem, Content: "sys"})
	wm.Add(Message{Role: RoleUser, Content: "first"})
	wm.Add(Message{Role: RoleAssistant, Content: "second"})
	wm.Add(Message{Role: RoleUser, Content: strings.Repeat("n", 100)})

	msgs := wm.Messages()
	require.Equal(t, RoleSystem, msgs[0].Role)
	for _, m := range msgs[1:] {
		require.NotEqual(t, "first", m.Content)
	}
}

func TestWorkingMemory_StaysWithinBudgetWhenPossible(t *testing.T) {
	wm := NewWorkingMemory(50)
	for i := 0; i < 20; i++ {
		wm.Add(Message{Role: RoleUser, Content: strings.Repeat("a", 20)})
	}
	require.LessOrEqual(t, wm.EstimatedTokens(), 50+20) // floor may push slightly over
}
