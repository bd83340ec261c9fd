package execution

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/order-pipeline/internal/logger"
)

func TestHaltFlag_ExistingFileStartsHalted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "HALT")
	require.NoError(t, os.WriteFile(path, []byte("exchange outage\n"), 0644))

	h := NewHaltFlag(path, logger.Nop())
	halted, reason := h.IsHalted()
	assert.True(t, halted)
	assert.Equal(t, "exchange outage", reason)
}

func TestHaltFlag_InMemory(t *testing.T) {
	h := NewHaltFlag("", logger.Nop())
	halted, _ := h.IsHalted()
	assert.False(t, halted)

	h.Halt("")
	halted, reason := h.IsHalted()
	assert.True(t, halted)
	assert.Equal(t, "halted by operator", reason)

	h.Clear()
	halted, _ = h.IsHalted()
	assert.False(t, halted)
}

func TestHaltFlag_WatchFollowsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ops", "HALT")
	h := NewHaltFlag(path, logger.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Watch(ctx) }()

	// rewrite on every poll: the watcher may not be registered on the first write
	require.Eventually(t, func() bool {
		if err := os.WriteFile(path, []byte("manual stop"), 0644); err != nil {
			return false
		}
		halted, reason := h.IsHalted()
		return halted && reason == "manual stop"
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		halted, _ := h.IsHalted()
		return !halted
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
}
