package hub

import (
	"sync"
	"time"
)

const (
	// typingTTL bounds how long a typing entry survives without a refresh,
	// so an abrupt network failure cannot leave an indicator stuck.
	typingTTL = 10 * time.Second

	// typingSweepInterval is the period of the hub's background sweep.
	typingSweepInterval = 5 * time.Second
)

// TypingTracker keeps the per-conversation set of identities currently
// typing. Entries carry a deadline; expired ones are dropped lazily on every
// read and by the hub's periodic sweep. Process-local, never persisted.
type TypingTracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]map[string]time.Time // chatID -> userID -> deadline
}

func NewTypingTracker() *TypingTracker {
	return &TypingTracker{
		ttl:     typingTTL,
		entries: make(map[string]map[string]time.Time),
	}
}

// Start records that userID is typing in chatID, refreshing the deadline if
// the entry already exists.
func (t *TypingTracker) Start(chatID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.entries[chatID]
	if !ok {
		set = make(map[string]time.Time)
		t.entries[chatID] = set
	}
	set[userID] = time.Now().Add(t.ttl)
}

// Stop removes the typing entry. Reports whether an entry existed.
func (t *TypingTracker) Stop(chatID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.entries[chatID]
	if !ok {
		return false
	}
	_, present := set[userID]
	delete(set, userID)
	if len(set) == 0 {
		delete(t.entries, chatID)
	}
	return present
}

// ClearAll removes userID from every conversation it is typing in and
// returns those conversation ids so the caller can broadcast stops.
func (t *TypingTracker) ClearAll(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var cleared []string
	for chatID, set := range t.entries {
		if _, ok := set[userID]; ok {
			delete(set, userID)
			cleared = append(cleared, chatID)
			if len(set) == 0 {
				delete(t.entries, chatID)
			}
		}
	}
	return cleared
}

// TypingIn returns the identities currently typing in chatID, sweeping
// expired entries on the way.
func (t *TypingTracker) TypingIn(chatID string) []string {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.entries[chatID]
	if !ok {
		return nil
	}

	var typing []string
	for userID, deadline := range set {
		if deadline.Before(now) {
			delete(set, userID)
			continue
		}
		typing = append(typing, userID)
	}
	if len(set) == 0 {
		delete(t.entries, chatID)
	}
	return typing
}

// SweepExpired drops every expired entry and returns them grouped by
// conversation, so the hub can broadcast the missed typing-stop events.
func (t *TypingTracker) SweepExpired() map[string][]string {
	now := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	expired := make(map[string][]string)
	for chatID, set := range t.entries {
		for userID, deadline := range set {
			if deadline.Before(now) {
				delete(set, userID)
				expired[chatID] = append(expired[chatID], userID)
			}
		}
		if len(set) == 0 {
			delete(t.entries, chatID)
		}
	}
	return expired
}

// Snapshot counts typing identities per conversation for the monitor API.
func (t *TypingTracker) Snapshot() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[string]int, len(t.entries))
	for chatID, set := range t.entries {
		counts[chatID] = len(set)
	}
	return counts
}
