package urlstate

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")

	state := NewFileState(path)
	assert.Empty(t, state.Get("conversationId"))

	state.Set("conversationId", "abc-123")
	assert.Equal(t, "abc-123", state.Get("conversationId"))

	// Перезапуск восстанавливает контекст
	reloaded := NewFileState(path)
	assert.Equal(t, "abc-123", reloaded.Get("conversationId"))
}

func TestMemoryState(t *testing.T) {
	state := NewMemoryState()
	state.Set("conversationId", "x")
	assert.Equal(t, "x", state.Get("conversationId"))
}
