package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is one protocol frame: a tagged union discriminated by Type.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Frame types exchanged between client and relay.
const (
	TypeUserStatus      = "user_status"
	TypeChatMessage     = "chat_message"
	TypeMessageRead     = "message_read"
	TypeMessagePinned   = "message_pinned"
	TypeUserBlocked     = "user_blocked"
	TypeUserUnblocked   = "user_unblocked"
	TypeUserMuted       = "user_muted"
	TypeUserUnmuted     = "user_unmuted"
	TypeChatCleared     = "chat_cleared"
	TypeUserTyping      = "user_typing"
	TypeRequestUserList = "request_user_list"
	TypeUserList        = "user_list"
)

// Presence status values carried by user_status frames.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// ErrMissingField is returned by payload validation when a required
// field is absent or empty.
var ErrMissingField = errors.New("missing required field")

// UserStatus announces a user coming online or going offline.
type UserStatus struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	UserRole string `json:"userRole"`
	Status   string `json:"status"`
	LastSeen string `json:"lastSeen"`
}

// ReplyRef points at the message a chat message replies to.
type ReplyRef struct {
	MessageID string `json:"messageId"`
	UserName  string `json:"userName"`
	Message   string `json:"message"`
}

// ChatMessage is the full message object relayed between clients. The id
// is client-generated; the relay never mutates the payload, it only
// forwards it.
type ChatMessage struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	UserRole  string    `json:"userRole"`
	Message   string    `json:"message"`
	Timestamp string    `json:"timestamp"`
	FileURL   string    `json:"fileUrl,omitempty"`
	FileName  string    `json:"fileName,omitempty"`
	FileType  string    `json:"fileType,omitempty"`
	IsPinned  bool      `json:"isPinned"`
	ReadBy    []string  `json:"readBy"`
	ReplyTo   *ReplyRef `json:"replyTo,omitempty"`
	Mentions  []string  `json:"mentions,omitempty"`
}

// MessageRead marks a message as read by a user.
type MessageRead struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// MessagePinned toggles the pinned flag on a message.
type MessagePinned struct {
	MessageID string `json:"messageId"`
	IsPinned  bool   `json:"isPinned"`
}

// UserRef carries only a user id. Used by the block/mute family of
// frames; display name enrichment is the receiving client's job.
type UserRef struct {
	UserID string `json:"userId"`
}

// ChatCleared announces that an admin wiped the conversation.
type ChatCleared struct {
	ClearedBy string `json:"clearedBy"`
}

// UserTyping is the advisory typing indicator.
type UserTyping struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	IsTyping bool   `json:"isTyping"`
}

// NewEnvelope marshals a payload into an envelope of the given type.
func NewEnvelope(frameType string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", frameType, err)
	}
	return Envelope{Type: frameType, Data: raw}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// DecodeUserStatus validates and decodes a user_status payload.
func (e Envelope) DecodeUserStatus() (UserStatus, error) {
	var s UserStatus
	if err := e.Decode(&s); err != nil {
		return s, err
	}
	if s.UserID == "" {
		return s, fmt.Errorf("user_status userId: %w", ErrMissingField)
	}
	if s.Status != StatusOnline && s.Status != StatusOffline {
		return s, fmt.Errorf("user_status status %q: invalid value", s.Status)
	}
	return s, nil
}

// DecodeChatMessage validates and decodes a chat_message payload.
func (e Envelope) DecodeChatMessage() (ChatMessage, error) {
	var m ChatMessage
	if err := e.Decode(&m); err != nil {
		return m, err
	}
	if m.ID == "" {
		return m, fmt.Errorf("chat_message id: %w", ErrMissingField)
	}
	if m.UserID == "" {
		return m, fmt.Errorf("chat_message userId: %w", ErrMissingField)
	}
	return m, nil
}

// DecodeMessageRead validates and decodes a message_read payload.
func (e Envelope) DecodeMessageRead() (MessageRead, error) {
	var r MessageRead
	if err := e.Decode(&r); err != nil {
		return r, err
	}
	if r.MessageID == "" || r.UserID == "" {
		return r, fmt.Errorf("message_read: %w", ErrMissingField)
	}
	return r, nil
}

// DecodeMessagePinned validates and decodes a message_pinned payload.
func (e Envelope) DecodeMessagePinned() (MessagePinned, error) {
	var p MessagePinned
	if err := e.Decode(&p); err != nil {
		return p, err
	}
	if p.MessageID == "" {
		return p, fmt.Errorf("message_pinned messageId: %w", ErrMissingField)
	}
	return p, nil
}

// DecodeUserRef validates and decodes the payload of a block/mute frame.
func (e Envelope) DecodeUserRef() (UserRef, error) {
	var u UserRef
	if err := e.Decode(&u); err != nil {
		return u, err
	}
	if u.UserID == "" {
		return u, fmt.Errorf("%s userId: %w", e.Type, ErrMissingField)
	}
	return u, nil
}

// DecodeUserTyping decodes a user_typing payload.
func (e Envelope) DecodeUserTyping() (UserTyping, error) {
	var t UserTyping
	if err := e.Decode(&t); err != nil {
		return t, err
	}
	if t.UserID == "" {
		return t, fmt.Errorf("user_typing userId: %w", ErrMissingField)
	}
	return t, nil
}
