package session

import (
	"sync"

	"github.com/deskhive/chat-server/internal/proto"
)

// Cache is the client's local view of the conversation. The relay keeps
// no history, so everything here is built up from frames seen on this
// connection plus the client's own sends.
type Cache struct {
	mu       sync.RWMutex
	selfID   string
	messages []proto.ChatMessage
	online   []proto.UserStatus
	blocked  map[string]struct{}
	muted    map[string]struct{}
	typing   map[string]string
}

// NewCache creates an empty cache. selfID is used to skip the echo-free
// relay's duplicates: the client's own messages are appended at send
// time, so a remote frame carrying selfID is ignored.
func NewCache(selfID string) *Cache {
	return &Cache{
		selfID:  selfID,
		blocked: make(map[string]struct{}),
		muted:   make(map[string]struct{}),
		typing:  make(map[string]string),
	}
}

// AppendLocal records a message this client just sent.
func (c *Cache) AppendLocal(msg proto.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

// ApplyRemote records a message relayed from another participant.
// Messages from the client itself or from blocked users are dropped.
func (c *Cache) ApplyRemote(msg proto.ChatMessage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg.UserID == c.selfID {
		return false
	}
	if _, ok := c.blocked[msg.UserID]; ok {
		return false
	}
	c.messages = append(c.messages, msg)
	return true
}

// MarkRead unions userID into the readBy set of the given message.
func (c *Cache) MarkRead(messageID, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.messages {
		if c.messages[i].ID != messageID {
			continue
		}
		for _, id := range c.messages[i].ReadBy {
			if id == userID {
				return
			}
		}
		c.messages[i].ReadBy = append(c.messages[i].ReadBy, userID)
		return
	}
}

// SetPinned toggles the pinned flag on a message.
func (c *Cache) SetPinned(messageID string, pinned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.messages {
		if c.messages[i].ID == messageID {
			c.messages[i].IsPinned = pinned
			return
		}
	}
}

// Clear wipes the message history, including pinned messages.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// Block marks a user as blocked and removes their messages from the
// local history.
func (c *Cache) Block(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocked[userID] = struct{}{}
	kept := c.messages[:0]
	for _, m := range c.messages {
		if m.UserID != userID {
			kept = append(kept, m)
		}
	}
	c.messages = kept
}

// Unblock removes a user from the blocked set. Previously removed
// messages are gone; only new messages flow again.
func (c *Cache) Unblock(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blocked, userID)
}

// Mute and Unmute track the muted set. Muting is enforced by the relay;
// the client keeps the set only to label the user in its UI.
func (c *Cache) Mute(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted[userID] = struct{}{}
}

func (c *Cache) Unmute(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.muted, userID)
}

// IsBlocked reports whether the user is in the local blocked set.
func (c *Cache) IsBlocked(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blocked[userID]
	return ok
}

// IsMuted reports whether the user is in the local muted set.
func (c *Cache) IsMuted(userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.muted[userID]
	return ok
}

// SetUserStatus applies a presence change to the online list.
func (c *Cache) SetUserStatus(s proto.UserStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Status == proto.StatusOffline {
		kept := c.online[:0]
		for _, u := range c.online {
			if u.UserID != s.UserID {
				kept = append(kept, u)
			}
		}
		c.online = kept
		delete(c.typing, s.UserID)
		return
	}
	for i := range c.online {
		if c.online[i].UserID == s.UserID {
			c.online[i] = s
			return
		}
	}
	c.online = append(c.online, s)
}

// ClearPresence wipes the online roster and typing indicators. Called
// when the connection drops: a stale roster must not outlive its
// transport, the next user_list rebuilds it.
func (c *Cache) ClearPresence() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = nil
	c.typing = make(map[string]string)
}

// SetOnline replaces the online list wholesale from a user_list frame.
func (c *Cache) SetOnline(list []proto.UserStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.online = append(c.online[:0:0], list...)
}

// SetTyping tracks the advisory typing indicator per user.
func (c *Cache) SetTyping(userID, userName string, isTyping bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if isTyping {
		c.typing[userID] = userName
	} else {
		delete(c.typing, userID)
	}
}

// Messages returns a copy of the message history.
func (c *Cache) Messages() []proto.ChatMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]proto.ChatMessage(nil), c.messages...)
}

// Online returns a copy of the online user list.
func (c *Cache) Online() []proto.UserStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]proto.UserStatus(nil), c.online...)
}

// Typing returns the display names of users currently typing.
func (c *Cache) Typing() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.typing))
	for _, name := range c.typing {
		names = append(names, name)
	}
	return names
}
