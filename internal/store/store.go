package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// User is an account known to the auth collaborator. Role is one of
// admin, moderator, member.
type User struct {
	ID           string
	Username     string
	DisplayName  string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// UserStore persists accounts for the auth service.
type UserStore interface {
	CreateUser(ctx context.Context, u *User) error
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
}

// Store is the full persistence surface. The moderation methods satisfy
// core.ModerationSink.
type Store interface {
	UserStore
	LoadModeration(ctx context.Context) (blocked, muted, pinned []string, err error)
	SaveModeration(ctx context.Context, blocked, muted, pinned []string) error
	Close() error
}
