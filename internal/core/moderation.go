package core

import "context"

// Moderation holds the room's deny-lists and the pinned message set.
// Role checks happen in the hub before any mutator is called; these are
// plain set operations. Owned by the hub goroutine.
type Moderation struct {
	blocked map[string]struct{}
	muted   map[string]struct{}
	pinned  map[string]struct{}
}

// NewModeration returns empty moderation state.
func NewModeration() *Moderation {
	return &Moderation{
		blocked: make(map[string]struct{}),
		muted:   make(map[string]struct{}),
		pinned:  make(map[string]struct{}),
	}
}

func (m *Moderation) Block(userID string)   { m.blocked[userID] = struct{}{} }
func (m *Moderation) Unblock(userID string) { delete(m.blocked, userID) }
func (m *Moderation) Mute(userID string)    { m.muted[userID] = struct{}{} }
func (m *Moderation) Unmute(userID string)  { delete(m.muted, userID) }

// Pin marks or unmarks a message as pinned.
func (m *Moderation) Pin(messageID string, pinned bool) {
	if pinned {
		m.pinned[messageID] = struct{}{}
		return
	}
	delete(m.pinned, messageID)
}

// Clear empties the pinned set only. Blocked and muted users stay
// blocked and muted across a chat clear.
func (m *Moderation) Clear() {
	m.pinned = make(map[string]struct{})
}

func (m *Moderation) IsBlocked(userID string) bool {
	_, ok := m.blocked[userID]
	return ok
}

func (m *Moderation) IsMuted(userID string) bool {
	_, ok := m.muted[userID]
	return ok
}

func (m *Moderation) IsPinned(messageID string) bool {
	_, ok := m.pinned[messageID]
	return ok
}

// Export returns the three sets as slices for the persistence sink.
func (m *Moderation) Export() (blocked, muted, pinned []string) {
	return setToSlice(m.blocked), setToSlice(m.muted), setToSlice(m.pinned)
}

// Restore replaces all three sets, typically from a persisted snapshot.
func (m *Moderation) Restore(blocked, muted, pinned []string) {
	m.blocked = sliceToSet(blocked)
	m.muted = sliceToSet(muted)
	m.pinned = sliceToSet(pinned)
}

func setToSlice(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

func sliceToSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

// ModerationSink is the opaque persistence collaborator: moderation state
// is loaded once at hub start and saved after every admin mutation.
type ModerationSink interface {
	LoadModeration(ctx context.Context) (blocked, muted, pinned []string, err error)
	SaveModeration(ctx context.Context, blocked, muted, pinned []string) error
}
