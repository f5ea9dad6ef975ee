package core

import "time"

// PresenceEntry is the registry's record of an online identity.
type PresenceEntry struct {
	UserID      string
	DisplayName string
	Role        Role
	LastSeen    time.Time
}

type presenceBinding struct {
	entry PresenceEntry
	owner *Client
}

// Presence maps each online userId to its single active connection.
// It is owned by the hub goroutine and is not safe for concurrent use.
type Presence struct {
	bindings map[string]*presenceBinding
	order    []string
}

// NewPresence returns an empty registry.
func NewPresence() *Presence {
	return &Presence{bindings: make(map[string]*presenceBinding)}
}

// Upsert binds userId to the given connection, replacing any prior
// binding in place. A reconnect or second tab simply supersedes the old
// connection, which is left for the heartbeat to reclaim.
func (p *Presence) Upsert(owner *Client, userID, displayName string, role Role) {
	entry := PresenceEntry{
		UserID:      userID,
		DisplayName: displayName,
		Role:        role,
		LastSeen:    time.Now(),
	}
	if b, ok := p.bindings[userID]; ok {
		b.entry = entry
		b.owner = owner
		return
	}
	p.bindings[userID] = &presenceBinding{entry: entry, owner: owner}
	p.order = append(p.order, userID)
}

// Remove evicts the entry for userId. Returns false if it was not online.
func (p *Presence) Remove(userID string) bool {
	if _, ok := p.bindings[userID]; !ok {
		return false
	}
	delete(p.bindings, userID)
	for i, id := range p.order {
		if id == userID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	return true
}

// Owner returns the connection currently bound to userId, or nil.
// The disconnect path uses this to avoid evicting an entry that a newer
// connection already took over.
func (p *Presence) Owner(userID string) *Client {
	if b, ok := p.bindings[userID]; ok {
		return b.owner
	}
	return nil
}

// Snapshot returns the online entries in insertion order.
func (p *Presence) Snapshot() []PresenceEntry {
	entries := make([]PresenceEntry, 0, len(p.order))
	for _, id := range p.order {
		entries = append(entries, p.bindings[id].entry)
	}
	return entries
}

// Len returns the number of online entries.
func (p *Presence) Len() int {
	return len(p.bindings)
}
