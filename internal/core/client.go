package core

import (
	"context"

	"github.com/deskhive/chat-server/internal/proto"
)

// Role is the privilege level a connection claims at identity binding.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// Identity is the logical user a connection represents. It is supplied by
// the auth collaborator and bound to a connection by its first
// user_status frame.
type Identity struct {
	UserID      string
	DisplayName string
	Role        Role
}

// Pinger probes a connection's transport for liveness. The websocket
// connection satisfies it directly; tests substitute fakes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Client is one live connection as seen by the hub. Frames is the
// outbound queue drained by the transport write loop; the hub closes it
// when the connection is evicted. The identity and heartbeat fields are
// owned exclusively by the hub goroutine.
type Client struct {
	ID     string
	Frames chan proto.Envelope

	pinger       Pinger
	identity     *Identity
	awaitingPong bool
}

// NewClient constructs a client with a buffered outbound queue.
func NewClient(id string, pinger Pinger, sendBuffer int) *Client {
	if sendBuffer <= 0 {
		sendBuffer = 16
	}
	return &Client{
		ID:     id,
		Frames: make(chan proto.Envelope, sendBuffer),
		pinger: pinger,
	}
}

// Identity returns the bound identity, or nil before the first
// user_status frame. Must only be called from the hub goroutine.
func (c *Client) Identity() *Identity {
	return c.identity
}

// send queues a frame without blocking. A full queue drops the frame;
// the slow consumer is left to the heartbeat.
func (c *Client) send(env proto.Envelope) {
	select {
	case c.Frames <- env:
	default:
	}
}
