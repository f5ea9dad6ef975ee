package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deskhive/chat-server/internal/core"
	"github.com/deskhive/chat-server/internal/proto"
)

// State of the controller's connection to the relay.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned by send operations while the controller
// has no live connection.
var ErrNotConnected = errors.New("session: not connected")

// ErrNotAdmin is returned when a non-admin identity invokes a
// moderation operation. The relay drops such frames silently, so the
// controller rejects them before the wire.
var ErrNotAdmin = errors.New("session: operation requires admin role")

// Transport is one live connection to the relay.
type Transport interface {
	ReadEnvelope(ctx context.Context) (proto.Envelope, error)
	WriteEnvelope(ctx context.Context, env proto.Envelope) error
	Close() error
}

// DialFunc opens a Transport. Overridable in tests.
type DialFunc func(ctx context.Context, url string) (Transport, error)

type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadEnvelope(ctx context.Context) (proto.Envelope, error) {
	var env proto.Envelope
	err := wsjson.Read(ctx, t.conn, &env)
	return env, err
}

func (t *wsTransport) WriteEnvelope(ctx context.Context, env proto.Envelope) error {
	return wsjson.Write(ctx, t.conn, env)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "bye")
}

func dialWebSocket(ctx context.Context, url string) (Transport, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsTransport{conn: conn}, nil
}

// Config controls a session controller.
type Config struct {
	URL           string
	Identity      core.Identity
	RetryInterval time.Duration
	EventBuffer   int
	Dial          DialFunc
	Uploader      Uploader
	InlineLimit   int64
	Logger        *zerolog.Logger
}

// Controller owns one user's connection to the relay. It announces
// presence on connect, keeps the local cache in sync with incoming
// frames, and reconnects forever on a fixed interval after any failure.
type Controller struct {
	cfg   Config
	cache *Cache
	log   zerolog.Logger

	mu        sync.Mutex
	state     State
	transport Transport

	events chan proto.Envelope
}

// NewController creates a controller for the given identity. Zero
// config fields fall back to defaults: 3s retry, 64-frame event buffer,
// real websocket dialing.
func NewController(cfg Config) *Controller {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 3 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if cfg.Dial == nil {
		cfg.Dial = dialWebSocket
	}
	if cfg.InlineLimit <= 0 {
		cfg.InlineLimit = defaultInlineLimit
	}
	logger := zerolog.Nop()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	return &Controller{
		cfg:    cfg,
		cache:  NewCache(cfg.Identity.UserID),
		log:    logger.With().Str("component", "session").Str("user_id", cfg.Identity.UserID).Logger(),
		events: make(chan proto.Envelope, cfg.EventBuffer),
	}
}

// Cache exposes the local conversation view.
func (c *Controller) Cache() *Cache { return c.cache }

// Events delivers every frame applied to the cache, for UIs that want
// to render incrementally. Frames are dropped if the receiver lags.
func (c *Controller) Events() <-chan proto.Envelope { return c.events }

// State reports the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Run connects and serves until ctx is cancelled. Every failure, dial
// or mid-connection, leads to a retry after the fixed interval. There
// is no backoff and no give-up.
func (c *Controller) Run(ctx context.Context) error {
	for {
		if err := c.runOnce(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Dur("retry_in", c.cfg.RetryInterval).Msg("connection lost")
		}
		c.setTransport(nil, StateDisconnected)
		// Presence only means anything while connected. The message
		// history survives; the roster does not.
		c.cache.ClearPresence()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.RetryInterval):
		}
	}
}

func (c *Controller) runOnce(ctx context.Context) error {
	c.setTransport(nil, StateConnecting)

	t, err := c.cfg.Dial(ctx, c.cfg.URL)
	if err != nil {
		return err
	}
	defer t.Close()
	c.setTransport(t, StateOpen)
	c.log.Info().Str("url", c.cfg.URL).Msg("connected")

	if err := c.announce(ctx, t); err != nil {
		return fmt.Errorf("announce: %w", err)
	}

	for {
		env, err := t.ReadEnvelope(ctx)
		if err != nil {
			return err
		}
		c.apply(env)
	}
}

// announce sends the presence handshake: user_status online first,
// then a user_list request so the roster arrives after everyone has
// seen the status change.
func (c *Controller) announce(ctx context.Context, t Transport) error {
	status, err := proto.NewEnvelope(proto.TypeUserStatus, proto.UserStatus{
		UserID:   c.cfg.Identity.UserID,
		UserName: c.cfg.Identity.DisplayName,
		UserRole: string(c.cfg.Identity.Role),
		Status:   proto.StatusOnline,
		LastSeen: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := t.WriteEnvelope(ctx, status); err != nil {
		return err
	}
	return t.WriteEnvelope(ctx, proto.Envelope{Type: proto.TypeRequestUserList, Data: []byte("{}")})
}

func (c *Controller) setTransport(t Transport, s State) {
	c.mu.Lock()
	c.transport = t
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) write(ctx context.Context, env proto.Envelope) error {
	c.mu.Lock()
	t := c.transport
	c.mu.Unlock()
	if t == nil {
		return ErrNotConnected
	}
	return t.WriteEnvelope(ctx, env)
}

// apply folds an incoming frame into the cache, then forwards it on
// the events channel.
func (c *Controller) apply(env proto.Envelope) {
	switch env.Type {
	case proto.TypeChatMessage:
		msg, err := env.DecodeChatMessage()
		if err != nil {
			c.log.Debug().Err(err).Msg("bad chat_message")
			return
		}
		if !c.cache.ApplyRemote(msg) {
			return
		}
	case proto.TypeUserStatus:
		s, err := env.DecodeUserStatus()
		if err != nil {
			c.log.Debug().Err(err).Msg("bad user_status")
			return
		}
		c.cache.SetUserStatus(s)
	case proto.TypeUserList:
		var list []proto.UserStatus
		if err := env.Decode(&list); err != nil {
			c.log.Debug().Err(err).Msg("bad user_list")
			return
		}
		c.cache.SetOnline(list)
	case proto.TypeMessageRead:
		r, err := env.DecodeMessageRead()
		if err != nil {
			return
		}
		c.cache.MarkRead(r.MessageID, r.UserID)
	case proto.TypeMessagePinned:
		p, err := env.DecodeMessagePinned()
		if err != nil {
			return
		}
		c.cache.SetPinned(p.MessageID, p.IsPinned)
	case proto.TypeUserBlocked:
		if u, err := env.DecodeUserRef(); err == nil {
			c.cache.Block(u.UserID)
		}
	case proto.TypeUserUnblocked:
		if u, err := env.DecodeUserRef(); err == nil {
			c.cache.Unblock(u.UserID)
		}
	case proto.TypeUserMuted:
		if u, err := env.DecodeUserRef(); err == nil {
			c.cache.Mute(u.UserID)
		}
	case proto.TypeUserUnmuted:
		if u, err := env.DecodeUserRef(); err == nil {
			c.cache.Unmute(u.UserID)
		}
	case proto.TypeChatCleared:
		c.cache.Clear()
	case proto.TypeUserTyping:
		if t, err := env.DecodeUserTyping(); err == nil {
			c.cache.SetTyping(t.UserID, t.UserName, t.IsTyping)
		}
	default:
		c.log.Debug().Str("type", env.Type).Msg("unhandled frame")
		return
	}

	select {
	case c.events <- env:
	default:
		c.log.Debug().Str("type", env.Type).Msg("event buffer full, frame dropped")
	}
}

// newMessage builds a chat message carrying this identity, already
// marked read by its author.
func (c *Controller) newMessage(text string) proto.ChatMessage {
	return proto.ChatMessage{
		ID:        uuid.NewString(),
		UserID:    c.cfg.Identity.UserID,
		UserName:  c.cfg.Identity.DisplayName,
		UserRole:  string(c.cfg.Identity.Role),
		Message:   text,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		ReadBy:    []string{c.cfg.Identity.UserID},
	}
}

func (c *Controller) sendMessage(ctx context.Context, msg proto.ChatMessage) error {
	env, err := proto.NewEnvelope(proto.TypeChatMessage, msg)
	if err != nil {
		return err
	}
	if err := c.write(ctx, env); err != nil {
		return err
	}
	// Appended after the send succeeds: a message that never reached
	// the wire must not show up locally either.
	c.cache.AppendLocal(msg)
	return nil
}

// Send relays a plain text message.
func (c *Controller) Send(ctx context.Context, text string) error {
	return c.sendMessage(ctx, c.newMessage(text))
}

// Reply relays a text message that quotes another message.
func (c *Controller) Reply(ctx context.Context, text string, replyTo proto.ReplyRef) error {
	msg := c.newMessage(text)
	msg.ReplyTo = &replyTo
	return c.sendMessage(ctx, msg)
}

// SendTyping broadcasts the advisory typing indicator.
func (c *Controller) SendTyping(ctx context.Context, isTyping bool) error {
	env, err := proto.NewEnvelope(proto.TypeUserTyping, proto.UserTyping{
		UserID:   c.cfg.Identity.UserID,
		UserName: c.cfg.Identity.DisplayName,
		IsTyping: isTyping,
	})
	if err != nil {
		return err
	}
	return c.write(ctx, env)
}

// MarkRead tells other participants this user has read a message, and
// records it locally.
func (c *Controller) MarkRead(ctx context.Context, messageID string) error {
	env, err := proto.NewEnvelope(proto.TypeMessageRead, proto.MessageRead{
		MessageID: messageID,
		UserID:    c.cfg.Identity.UserID,
	})
	if err != nil {
		return err
	}
	if err := c.write(ctx, env); err != nil {
		return err
	}
	c.cache.MarkRead(messageID, c.cfg.Identity.UserID)
	return nil
}

func (c *Controller) requireAdmin() error {
	if c.cfg.Identity.Role != core.RoleAdmin {
		return ErrNotAdmin
	}
	return nil
}

// Pin toggles the pinned flag on a message. Admin only.
func (c *Controller) Pin(ctx context.Context, messageID string, pinned bool) error {
	if err := c.requireAdmin(); err != nil {
		return err
	}
	env, err := proto.NewEnvelope(proto.TypeMessagePinned, proto.MessagePinned{
		MessageID: messageID,
		IsPinned:  pinned,
	})
	if err != nil {
		return err
	}
	if err := c.write(ctx, env); err != nil {
		return err
	}
	c.cache.SetPinned(messageID, pinned)
	return nil
}

func (c *Controller) sendUserRef(ctx context.Context, frameType, userID string) error {
	if err := c.requireAdmin(); err != nil {
		return err
	}
	env, err := proto.NewEnvelope(frameType, proto.UserRef{UserID: userID})
	if err != nil {
		return err
	}
	return c.write(ctx, env)
}

// Block hides a user for everyone. Admin only.
func (c *Controller) Block(ctx context.Context, userID string) error {
	if err := c.sendUserRef(ctx, proto.TypeUserBlocked, userID); err != nil {
		return err
	}
	c.cache.Block(userID)
	return nil
}

// Unblock lifts a block. Admin only.
func (c *Controller) Unblock(ctx context.Context, userID string) error {
	if err := c.sendUserRef(ctx, proto.TypeUserUnblocked, userID); err != nil {
		return err
	}
	c.cache.Unblock(userID)
	return nil
}

// Mute silences a user's chat messages. Admin only.
func (c *Controller) Mute(ctx context.Context, userID string) error {
	if err := c.sendUserRef(ctx, proto.TypeUserMuted, userID); err != nil {
		return err
	}
	c.cache.Mute(userID)
	return nil
}

// Unmute lifts a mute. Admin only.
func (c *Controller) Unmute(ctx context.Context, userID string) error {
	if err := c.sendUserRef(ctx, proto.TypeUserUnmuted, userID); err != nil {
		return err
	}
	c.cache.Unmute(userID)
	return nil
}

// ClearChat wipes the conversation for everyone. Admin only.
func (c *Controller) ClearChat(ctx context.Context) error {
	if err := c.requireAdmin(); err != nil {
		return err
	}
	env, err := proto.NewEnvelope(proto.TypeChatCleared, proto.ChatCleared{
		ClearedBy: c.cfg.Identity.UserID,
	})
	if err != nil {
		return err
	}
	if err := c.write(ctx, env); err != nil {
		return err
	}
	c.cache.Clear()
	return nil
}

// RequestUserList asks the relay for a fresh roster snapshot.
func (c *Controller) RequestUserList(ctx context.Context) error {
	return c.write(ctx, proto.Envelope{Type: proto.TypeRequestUserList, Data: []byte("{}")})
}
