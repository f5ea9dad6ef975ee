package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/deskhive/chat-server/internal/proto"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func alivePinger() Pinger {
	return pingFunc(func(context.Context) error { return nil })
}

func deadPinger() Pinger {
	return pingFunc(func(context.Context) error { return errors.New("peer gone") })
}

// mustFrame polls the client's outbound queue until a frame of the wanted
// type arrives, discarding others.
func mustFrame(t *testing.T, ch <-chan proto.Envelope, frameType string) proto.Envelope {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case env, ok := <-ch:
			if !ok {
				t.Fatalf("outbound queue closed while waiting for %s", frameType)
			}
			if env.Type == frameType {
				return env
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatalf("expected frame type %s not received", frameType)
	return proto.Envelope{}
}

// noFrame asserts that no frame of the given type arrives within the window.
func noFrame(t *testing.T, ch <-chan proto.Envelope, frameType string) {
	t.Helper()

	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		select {
		case env, ok := <-ch:
			if !ok {
				return
			}
			if env.Type == frameType {
				t.Fatalf("unexpected frame of type %s: %s", frameType, env.Data)
			}
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func statusEnv(t *testing.T, userID, userName, role string) proto.Envelope {
	t.Helper()
	env, err := proto.NewEnvelope(proto.TypeUserStatus, proto.UserStatus{
		UserID:   userID,
		UserName: userName,
		UserRole: role,
		Status:   proto.StatusOnline,
		LastSeen: time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		t.Fatalf("build user_status: %v", err)
	}
	return env
}

func chatEnv(t *testing.T, msgID, userID, body string) proto.Envelope {
	t.Helper()
	env, err := proto.NewEnvelope(proto.TypeChatMessage, proto.ChatMessage{
		ID:        msgID,
		UserID:    userID,
		UserName:  userID,
		UserRole:  "member",
		Message:   body,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		ReadBy:    []string{userID},
	})
	if err != nil {
		t.Fatalf("build chat_message: %v", err)
	}
	return env
}

func refEnv(t *testing.T, frameType, userID string) proto.Envelope {
	t.Helper()
	env, err := proto.NewEnvelope(frameType, proto.UserRef{UserID: userID})
	if err != nil {
		t.Fatalf("build %s: %v", frameType, err)
	}
	return env
}

func decodeUserList(t *testing.T, env proto.Envelope) []proto.UserStatus {
	t.Helper()
	var list []proto.UserStatus
	if err := env.Decode(&list); err != nil {
		t.Fatalf("decode user_list: %v", err)
	}
	return list
}

func startHub(t *testing.T, cfg HubConfig) *Hub {
	t.Helper()
	hub := NewHub(cfg, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}
