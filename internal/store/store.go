// Package store defines the persistence boundary: the identity/key registry
// rows and the ban lists survive restarts; live realm state does not.
package store

import (
	"context"
	"time"
)

// User is the persisted identity record: a server-assigned id bound to the
// key hash that may reclaim it.
type User struct {
	ID        int32
	Name      string
	KeyHash   string
	CreatedAt time.Time
}

// Store is implemented by the sqlite backend.
type Store interface {
	// CreateUser inserts a new identity row. Ids are caller-assigned and
	// never reused.
	CreateUser(ctx context.Context, id int32, name, keyHash string) error
	// UserByID returns the identity row for id, or nil when absent.
	UserByID(ctx context.Context, id int32) (*User, error)
	// Users returns all identity rows ordered by id.
	Users(ctx context.Context) ([]User, error)
	// MaxUserID returns the highest id ever issued, 0 when none.
	MaxUserID(ctx context.Context) (int32, error)

	// Key bans and address bans are independent sets.
	AddKeyBan(ctx context.Context, keyHash string) error
	RemoveKeyBan(ctx context.Context, keyHash string) error
	KeyBans(ctx context.Context) ([]string, error)
	AddAddrBan(ctx context.Context, addr string) error
	RemoveAddrBan(ctx context.Context, addr string) error
	AddrBans(ctx context.Context) ([]string, error)

	Close() error
}
