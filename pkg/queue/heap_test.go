package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoreHeapOrdering(t *testing.T) {
	h := newCoreHeap()
	h.Push(&Item{ID: "a", Priority: PriorityLow, sequence: 0})
	h.Push(&Item{ID: "b", Priority: PriorityCritical, sequence: 1})
	h.Push(&Item{ID: "c", Priority: PriorityCritical, sequence: 2})

	first := h.Pop()
	require.NotNil(t, first)
	assert.Equal(t, "b", first.ID, "equal priority ties break by earlier sequence")

	second := h.Pop()
	assert.Equal(t, "c", second.ID)

	third := h.Pop()
	assert.Equal(t, "a", third.ID)

	assert.Nil(t, h.Pop())
}

func TestCoreHeapRemoveWhere(t *testing.T) {
	h := newCoreHeap()
	h.Push(&Item{ID: "a", Priority: PriorityLow})
	h.Push(&Item{ID: "b", Priority: PriorityHigh})
	h.Push(&Item{ID: "c", Priority: PriorityNormal})

	removed := h.RemoveWhere(func(it *Item) bool { return it.Priority == PriorityLow })
	require.Len(t, removed, 1)
	assert.Equal(t, "a", removed[0].ID)
	assert.Equal(t, 2, h.Len())

	top := h.Peek()
	require.NotNil(t, top)
	assert.Equal(t, "b", top.ID)
}

func TestCoreHeapPeekDoesNotRemove(t *testing.T) {
	h := newCoreHeap()
	h.Push(&Item{ID: "only", Priority: PriorityNormal})
	assert.Equal(t, "only", h.Peek().ID)
	assert.Equal(t, 1, h.Len())
}
