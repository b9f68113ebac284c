package hub

import (
	"sync"
	"time"

	"github.com/derek-dv/errand-backend/internal/apperr"
)

// Presence status values.
const (
	StatusOnline  = "online"
	StatusAway    = "away"
	StatusBusy    = "busy"
	StatusOffline = "offline"
)

func validStatus(status string) bool {
	switch status {
	case StatusOnline, StatusAway, StatusBusy, StatusOffline:
		return true
	}
	return false
}

type presenceInfo struct {
	Status   string
	LastSeen time.Time
}

// PresenceRegistry tracks which connections belong to which identity, plus a
// status per identity. An identity may hold several live connections at once
// (multi-device); it is online as long as the set is non-empty. All state is
// process-local and never persisted.
type PresenceRegistry struct {
	mu     sync.RWMutex
	conns  map[string]map[string]*Client // userID -> connID -> client
	status map[string]presenceInfo
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{
		conns:  make(map[string]map[string]*Client),
		status: make(map[string]presenceInfo),
	}
}

// Bind attaches a connection to an identity and marks it online.
func (p *PresenceRegistry) Bind(userID string, c *Client) {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[userID]
	if !ok {
		set = make(map[string]*Client)
		p.conns[userID] = set
	}
	set[c.ID] = c
	p.status[userID] = presenceInfo{Status: StatusOnline, LastSeen: time.Now().UTC()}
}

// Unbind detaches one connection. It reports whether the identity went
// offline, i.e. this was its last live connection.
func (p *PresenceRegistry) Unbind(userID, connID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	set, ok := p.conns[userID]
	if !ok {
		return false
	}
	delete(set, connID)
	if len(set) > 0 {
		return false
	}

	delete(p.conns, userID)
	p.status[userID] = presenceInfo{Status: StatusOffline, LastSeen: time.Now().UTC()}
	return true
}

// SetStatus updates an identity's status after validating the enum value.
func (p *PresenceRegistry) SetStatus(userID, status string) error {
	if !validStatus(status) {
		return apperr.Validation("Invalid status")
	}

	p.mu.Lock()
	p.status[userID] = presenceInfo{Status: status, LastSeen: time.Now().UTC()}
	p.mu.Unlock()
	return nil
}

// Status returns the identity's current status, offline when unknown.
func (p *PresenceRegistry) Status(userID string) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	info, ok := p.status[userID]
	if !ok {
		return StatusOffline
	}
	return info.Status
}

// IsOnline reports whether the identity has at least one live connection.
func (p *PresenceRegistry) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns[userID]) > 0
}

// ConnectionsOf snapshots the live connections of an identity.
func (p *PresenceRegistry) ConnectionsOf(userID string) []*Client {
	p.mu.RLock()
	defer p.mu.RUnlock()

	clients := make([]*Client, 0, len(p.conns[userID]))
	for _, c := range p.conns[userID] {
		clients = append(clients, c)
	}
	return clients
}

// StatusCounts counts currently connected identities by status.
func (p *PresenceRegistry) StatusCounts() map[string]int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	counts := make(map[string]int)
	for userID := range p.conns {
		info, ok := p.status[userID]
		if !ok {
			continue
		}
		counts[info.Status]++
	}
	return counts
}

// OnlineCount returns the number of identities with live connections.
func (p *PresenceRegistry) OnlineCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns)
}
