// Package registry maps server-chosen user ids to the key hashes that may
// reclaim them. A mismatched key never overwrites another identity's
// credential; it only forks a new identity.
package registry

import (
	"context"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/realmkit/relayd/internal/realm"
	"github.com/realmkit/relayd/internal/store"
)

// HashKey normalizes a client-presented key hash before it is stored or
// compared, so raw client material never lands in the database or the ban
// lists.
func HashKey(presented string) string {
	sum := blake2b.Sum256([]byte(presented))
	return hex.EncodeToString(sum[:])
}

// Registry resolves authentication attempts to user ids. The id counter is
// realm-owned and shared with user creation, so registry ids and realm ids
// never diverge.
type Registry struct {
	store store.Store
	realm *realm.Realm
}

// New builds a registry over the given store and realm.
func New(st store.Store, r *realm.Realm) *Registry {
	return &Registry{store: st, realm: r}
}

// RegisterOrReuse resolves a user id for the presented key hash. A nil
// requested id always mints a new one. A requested id is reused only when it
// is a known id within the issued range whose stored hash matches; every
// other case (unknown id, id beyond the issued range, hash mismatch) forks a
// fresh id bound to the presented hash.
func (g *Registry) RegisterOrReuse(ctx context.Context, requested *int32, name, keyHash string) (int32, bool, error) {
	if requested != nil && *requested > 0 && *requested <= g.realm.LastID() {
		existing, err := g.store.UserByID(ctx, *requested)
		if err != nil {
			return 0, false, fmt.Errorf("registry: lookup id %d: %w", *requested, err)
		}
		if existing != nil && existing.KeyHash == keyHash {
			return *requested, true, nil
		}
	}

	id := g.realm.NextID()
	if err := g.store.CreateUser(ctx, id, name, keyHash); err != nil {
		return 0, false, fmt.Errorf("registry: bind id %d: %w", id, err)
	}
	return id, false, nil
}

// KeyHashForUser returns the stored key hash bound to id, used to resolve a
// user ban to a concrete key ban. Returns "" when the id is unknown.
func (g *Registry) KeyHashForUser(ctx context.Context, id int32) (string, error) {
	u, err := g.store.UserByID(ctx, id)
	if err != nil {
		return "", fmt.Errorf("registry: lookup id %d: %w", id, err)
	}
	if u == nil {
		return "", nil
	}
	return u.KeyHash, nil
}
