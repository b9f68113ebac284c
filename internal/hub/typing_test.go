package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTypingStartStop(t *testing.T) {
	tracker := NewTypingTracker()

	tracker.Start("chat-1", "user-1")
	require.Equal(t, []string{"user-1"}, tracker.TypingIn("chat-1"))

	require.True(t, tracker.Stop("chat-1", "user-1"))
	require.Empty(t, tracker.TypingIn("chat-1"))

	// stopping again reports no entry
	require.False(t, tracker.Stop("chat-1", "user-1"))
}

func TestTypingStartRefreshesDeadline(t *testing.T) {
	tracker := NewTypingTracker()

	tracker.Start("chat-1", "user-1")
	tracker.Start("chat-1", "user-1")
	require.Equal(t, []string{"user-1"}, tracker.TypingIn("chat-1"))
}

func TestTypingClearAll(t *testing.T) {
	tracker := NewTypingTracker()

	tracker.Start("chat-1", "user-1")
	tracker.Start("chat-2", "user-1")
	tracker.Start("chat-2", "user-2")

	cleared := tracker.ClearAll("user-1")
	require.ElementsMatch(t, []string{"chat-1", "chat-2"}, cleared)

	require.Empty(t, tracker.TypingIn("chat-1"))
	require.Equal(t, []string{"user-2"}, tracker.TypingIn("chat-2"))
}

func TestTypingExpiry(t *testing.T) {
	tracker := NewTypingTracker()
	tracker.ttl = -time.Second // every entry is born expired

	tracker.Start("chat-1", "user-1")
	require.Empty(t, tracker.TypingIn("chat-1"))
}

func TestTypingSweepExpired(t *testing.T) {
	tracker := NewTypingTracker()

	tracker.Start("chat-1", "user-1")

	tracker.ttl = -time.Second
	tracker.Start("chat-1", "user-2")
	tracker.Start("chat-2", "user-3")

	expired := tracker.SweepExpired()
	require.ElementsMatch(t, []string{"user-2"}, expired["chat-1"])
	require.ElementsMatch(t, []string{"user-3"}, expired["chat-2"])

	// the live entry survives the sweep
	require.Equal(t, []string{"user-1"}, tracker.TypingIn("chat-1"))
	require.Empty(t, tracker.TypingIn("chat-2"))
}

func TestTypingSnapshot(t *testing.T) {
	tracker := NewTypingTracker()

	tracker.Start("chat-1", "user-1")
	tracker.Start("chat-1", "user-2")
	tracker.Start("chat-2", "user-3")

	snapshot := tracker.Snapshot()
	require.Equal(t, 2, snapshot["chat-1"])
	require.Equal(t, 1, snapshot["chat-2"])
}
