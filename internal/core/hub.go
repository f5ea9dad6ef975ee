package core

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/deskhive/chat-server/internal/proto"
)

// HubConfig holds relay tuning parameters.
type HubConfig struct {
	HeartbeatInterval time.Duration // probe period for dead-peer detection
	PingTimeout       time.Duration // transport budget for a single probe
	SendBuffer        int           // per-client outbound queue size
}

// DefaultHubConfig returns production defaults.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		HeartbeatInterval: 30 * time.Second,
		PingTimeout:       10 * time.Second,
		SendBuffer:        32,
	}
}

type frame struct {
	from *Client
	env  proto.Envelope
}

// Hub is the relay engine: the single dispatch point for every inbound
// frame and the only writer of presence and moderation state. All state
// mutation happens on the Run goroutine; each frame is processed to
// completion before the next is dequeued, so no locking is needed.
type Hub struct {
	cfg        HubConfig
	log        *zerolog.Logger
	sink       ModerationSink
	presence   *Presence
	moderation *Moderation

	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	inbound    chan frame
	pongs      chan *Client
	done       chan struct{}
}

// NewHub constructs a hub with isolated presence and moderation state.
// sink may be nil when no persistence collaborator is configured.
func NewHub(cfg HubConfig, sink ModerationSink, logger *zerolog.Logger) *Hub {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Hub{
		cfg:        cfg,
		log:        logger,
		sink:       sink,
		presence:   NewPresence(),
		moderation: NewModeration(),
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan frame, 64),
		pongs:      make(chan *Client, 16),
		done:       make(chan struct{}),
	}
}

// RegisterClient adds a freshly accepted connection to the hub.
func (h *Hub) RegisterClient(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// UnregisterClient removes a connection after its transport closed.
func (h *Hub) UnregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Submit queues one inbound frame for dispatch.
func (h *Hub) Submit(c *Client, env proto.Envelope) {
	select {
	case h.inbound <- frame{from: c, env: env}:
	case <-h.done:
	}
}

// Run is the relay event loop. It owns all hub state for its lifetime
// and returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	h.loadModeration(ctx)

	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				close(c.Frames)
			}
			return
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.log.Debug().Str("conn_id", c.ID).Int("total", len(h.clients)).Msg("connection registered")
		case c := <-h.unregister:
			h.drop(c)
		case f := <-h.inbound:
			// The transport read loop can race an eviction: frames
			// already queued by a dropped connection must not reach
			// dispatch, its Frames channel is closed.
			if _, ok := h.clients[f.from]; !ok {
				h.log.Debug().Str("conn_id", f.from.ID).Str("type", f.env.Type).Msg("dropping frame from evicted connection")
				continue
			}
			// Any frame proves the connection is alive.
			f.from.awaitingPong = false
			h.dispatch(ctx, f.from, f.env)
		case c := <-h.pongs:
			c.awaitingPong = false
		case <-ticker.C:
			h.sweep(ctx)
		}
	}
}

// dispatch routes one frame per its type tag. Malformed payloads and
// unauthorized mutations are dropped without closing the connection.
func (h *Hub) dispatch(ctx context.Context, c *Client, env proto.Envelope) {
	switch env.Type {
	case proto.TypeUserStatus:
		status, err := env.DecodeUserStatus()
		if err != nil {
			h.logDrop(c, env.Type, err)
			return
		}
		if status.Status != proto.StatusOnline {
			h.log.Debug().Str("conn_id", c.ID).Str("user_id", status.UserID).Msg("ignoring client-sent offline status")
			return
		}
		c.identity = &Identity{
			UserID:      status.UserID,
			DisplayName: status.UserName,
			Role:        Role(status.UserRole),
		}
		h.presence.Upsert(c, status.UserID, status.UserName, Role(status.UserRole))
		h.broadcastAll(env)
		h.sendUserList(c)

	case proto.TypeChatMessage:
		msg, err := env.DecodeChatMessage()
		if err != nil {
			h.logDrop(c, env.Type, err)
			return
		}
		if h.moderation.IsBlocked(msg.UserID) {
			h.log.Debug().Str("user_id", msg.UserID).Msg("blocked user attempted to send message")
			return
		}
		if h.moderation.IsMuted(msg.UserID) {
			h.log.Debug().Str("user_id", msg.UserID).Msg("muted user attempted to send message")
			return
		}
		h.broadcastOthers(env, c)

	case proto.TypeMessageRead:
		if _, err := env.DecodeMessageRead(); err != nil {
			h.logDrop(c, env.Type, err)
			return
		}
		h.broadcastAll(env)

	case proto.TypeUserTyping:
		if _, err := env.DecodeUserTyping(); err != nil {
			h.logDrop(c, env.Type, err)
			return
		}
		h.broadcastAll(env)

	case proto.TypeMessagePinned:
		if !h.isAdmin(c) {
			h.logDenied(c, env.Type)
			return
		}
		pin, err := env.DecodeMessagePinned()
		if err != nil {
			h.logDrop(c, env.Type, err)
			return
		}
		h.moderation.Pin(pin.MessageID, pin.IsPinned)
		h.saveModeration(ctx)
		h.broadcastAll(env)

	case proto.TypeUserBlocked, proto.TypeUserUnblocked, proto.TypeUserMuted, proto.TypeUserUnmuted:
		if !h.isAdmin(c) {
			h.logDenied(c, env.Type)
			return
		}
		ref, err := env.DecodeUserRef()
		if err != nil {
			h.logDrop(c, env.Type, err)
			return
		}
		switch env.Type {
		case proto.TypeUserBlocked:
			h.moderation.Block(ref.UserID)
		case proto.TypeUserUnblocked:
			h.moderation.Unblock(ref.UserID)
		case proto.TypeUserMuted:
			h.moderation.Mute(ref.UserID)
		case proto.TypeUserUnmuted:
			h.moderation.Unmute(ref.UserID)
		}
		h.saveModeration(ctx)
		h.broadcastAll(env)

	case proto.TypeChatCleared:
		if !h.isAdmin(c) {
			h.logDenied(c, env.Type)
			return
		}
		h.moderation.Clear()
		h.saveModeration(ctx)
		h.broadcastAll(env)

	case proto.TypeRequestUserList:
		h.sendUserList(c)

	default:
		h.log.Debug().Str("conn_id", c.ID).Str("type", env.Type).Msg("unknown frame type")
	}
}

// drop removes a connection, closes its outbound queue, and, if it still
// owns its presence binding, evicts the entry and announces the user
// offline. A connection superseded by a reconnect no longer owns its
// binding and goes away silently.
func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.Frames)

	id := c.identity
	if id == nil || h.presence.Owner(id.UserID) != c {
		h.log.Debug().Str("conn_id", c.ID).Msg("connection closed")
		return
	}
	h.presence.Remove(id.UserID)

	env, err := proto.NewEnvelope(proto.TypeUserStatus, proto.UserStatus{
		UserID:   id.UserID,
		UserName: id.DisplayName,
		UserRole: string(id.Role),
		Status:   proto.StatusOffline,
		LastSeen: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.log.Error().Err(err).Msg("build offline status")
		return
	}
	h.broadcastAll(env)
	h.log.Info().Str("conn_id", c.ID).Str("user_id", id.UserID).Msg("user went offline")
}

// sweep is the heartbeat round: connections that never answered the
// previous probe are evicted exactly like a disconnect, survivors are
// re-armed and probed again. Probes run off the loop so a stalled
// transport cannot block dispatch; results come back via the pongs
// channel.
func (h *Hub) sweep(ctx context.Context) {
	for c := range h.clients {
		if c.awaitingPong {
			h.log.Warn().Str("conn_id", c.ID).Msg("heartbeat timeout, evicting connection")
			h.drop(c)
			continue
		}
		c.awaitingPong = true
		if c.pinger == nil {
			continue
		}
		go h.probe(ctx, c)
	}
}

func (h *Hub) probe(ctx context.Context, c *Client) {
	pingCtx, cancel := context.WithTimeout(ctx, h.cfg.PingTimeout)
	defer cancel()

	if err := c.pinger.Ping(pingCtx); err != nil {
		// Leave the client armed; the next sweep evicts it.
		return
	}
	select {
	case h.pongs <- c:
	case <-h.done:
	}
}

func (h *Hub) broadcastAll(env proto.Envelope) {
	for c := range h.clients {
		c.send(env)
	}
}

func (h *Hub) broadcastOthers(env proto.Envelope, sender *Client) {
	for c := range h.clients {
		if c == sender {
			continue
		}
		c.send(env)
	}
}

func (h *Hub) sendUserList(c *Client) {
	entries := h.presence.Snapshot()
	list := make([]proto.UserStatus, 0, len(entries))
	for _, e := range entries {
		list = append(list, proto.UserStatus{
			UserID:   e.UserID,
			UserName: e.DisplayName,
			UserRole: string(e.Role),
			Status:   proto.StatusOnline,
			LastSeen: e.LastSeen.UTC().Format(time.RFC3339),
		})
	}
	env, err := proto.NewEnvelope(proto.TypeUserList, list)
	if err != nil {
		h.log.Error().Err(err).Msg("build user list")
		return
	}
	c.send(env)
}

func (h *Hub) isAdmin(c *Client) bool {
	return c.identity != nil && c.identity.Role == RoleAdmin
}

func (h *Hub) loadModeration(ctx context.Context) {
	if h.sink == nil {
		return
	}
	blocked, muted, pinned, err := h.sink.LoadModeration(ctx)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to load moderation state")
		return
	}
	h.moderation.Restore(blocked, muted, pinned)
	h.log.Info().
		Int("blocked", len(blocked)).
		Int("muted", len(muted)).
		Int("pinned", len(pinned)).
		Msg("moderation state loaded")
}

func (h *Hub) saveModeration(ctx context.Context) {
	if h.sink == nil {
		return
	}
	blocked, muted, pinned := h.moderation.Export()
	if err := h.sink.SaveModeration(ctx, blocked, muted, pinned); err != nil {
		h.log.Warn().Err(err).Msg("failed to save moderation state")
	}
}

func (h *Hub) logDrop(c *Client, frameType string, err error) {
	h.log.Warn().Err(err).Str("conn_id", c.ID).Str("type", frameType).Msg("dropping malformed frame")
}

func (h *Hub) logDenied(c *Client, frameType string) {
	userID := ""
	if c.identity != nil {
		userID = c.identity.UserID
	}
	h.log.Debug().Str("conn_id", c.ID).Str("user_id", userID).Str("type", frameType).Msg("non-admin attempted privileged action")
}
