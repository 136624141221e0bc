package session

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/meshchat/core"
)

func TestInMemoryStore_AppendAndMessages(t *testing.T) {
	s := NewInMemoryStore()

	msgs, err := s.Messages("unknown")
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, s.Append("s-1", core.NewUserMessage("hi")))
	require.NoError(t, s.Append("s-1", core.NewAgentMessage("coder", "hello")))

	msgs, err = s.Messages("s-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, "coder", msgs[1].AgentID)

	// Returned slices are copies.
	msgs[0].Content = "changed"
	again, _ := s.Messages("s-1")
	assert.Equal(t, "hi", again[0].Content)
}

func TestInMemoryStore_ClearAndRename(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.Append("s-1", core.NewUserMessage("hi")))
	require.NoError(t, s.Rename("s-1", "Greeting"))
	require.NoError(t, s.Clear("s-1"))
	require.NoError(t, s.Clear("never-seen"))

	conv, ok := s.Get("s-1")
	require.True(t, ok)
	assert.Empty(t, conv.Messages)
	assert.Equal(t, "Greeting", conv.Title)

	_, ok = s.Get("never-seen")
	assert.False(t, ok)
}

func TestInMemoryStore_ConcurrentAppends(t *testing.T) {
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Append("s", core.NewAgentMessage(fmt.Sprint(i), "x"))
		}(i)
	}
	wg.Wait()
	msgs, _ := s.Messages("s")
	assert.Len(t, msgs, 20)
}
