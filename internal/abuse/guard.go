// Package abuse enforces the server's anti-abuse policies: persistent key
// and address bans, the per-user transaction cooldown, and a throttle on
// repeated authentication failures.
package abuse

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/realmkit/relayd/internal/store"
)

// TransactionCooldown is the hard floor between accepted transaction-class
// operations from one user. Logins start the window too.
const TransactionCooldown = 3 * time.Second

// Auth failures from one address are counted over a sliding minute; past the
// limit the address is refused without a reply.
const (
	authFailureWindow = time.Minute
	authFailureLimit  = 5
)

// Guard holds the ban sets and the cooldown/throttle state. Ban mutations
// are written through to the store so they survive restarts; lookups hit the
// in-memory sets only.
type Guard struct {
	store store.Store

	mu       sync.RWMutex
	keyBans  map[string]struct{}
	addrBans map[string]struct{}

	authFails *gocache.Cache
}

// NewGuard builds a guard and loads the persisted ban lists.
func NewGuard(ctx context.Context, st store.Store) (*Guard, error) {
	g := &Guard{
		store:     st,
		keyBans:   make(map[string]struct{}),
		addrBans:  make(map[string]struct{}),
		authFails: gocache.New(authFailureWindow, 2*authFailureWindow),
	}

	keys, err := st.KeyBans(ctx)
	if err != nil {
		return nil, fmt.Errorf("abuse: load key bans: %w", err)
	}
	for _, k := range keys {
		g.keyBans[k] = struct{}{}
	}

	addrs, err := st.AddrBans(ctx)
	if err != nil {
		return nil, fmt.Errorf("abuse: load addr bans: %w", err)
	}
	for _, a := range addrs {
		g.addrBans[a] = struct{}{}
	}

	return g, nil
}

// KeyBanned reports whether the normalized key hash is banned.
func (g *Guard) KeyBanned(keyHash string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.keyBans[keyHash]
	return ok
}

// AddrBanned reports whether the network address is banned.
func (g *Guard) AddrBanned(addr string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.addrBans[addr]
	return ok
}

// BanKey adds the key hash to the ban set and persists it.
func (g *Guard) BanKey(ctx context.Context, keyHash string) error {
	if err := g.store.AddKeyBan(ctx, keyHash); err != nil {
		return err
	}
	g.mu.Lock()
	g.keyBans[keyHash] = struct{}{}
	g.mu.Unlock()
	return nil
}

// UnbanKey removes the key hash from the ban set and the store.
func (g *Guard) UnbanKey(ctx context.Context, keyHash string) error {
	if err := g.store.RemoveKeyBan(ctx, keyHash); err != nil {
		return err
	}
	g.mu.Lock()
	delete(g.keyBans, keyHash)
	g.mu.Unlock()
	return nil
}

// BanAddr adds the address to the ban set and persists it.
func (g *Guard) BanAddr(ctx context.Context, addr string) error {
	if err := g.store.AddAddrBan(ctx, addr); err != nil {
		return err
	}
	g.mu.Lock()
	g.addrBans[addr] = struct{}{}
	g.mu.Unlock()
	return nil
}

// UnbanAddr removes the address from the ban set and the store.
func (g *Guard) UnbanAddr(ctx context.Context, addr string) error {
	if err := g.store.RemoveAddrBan(ctx, addr); err != nil {
		return err
	}
	g.mu.Lock()
	delete(g.addrBans, addr)
	g.mu.Unlock()
	return nil
}

// KeyBans returns the banned key hashes.
func (g *Guard) KeyBans() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.keyBans))
	for k := range g.keyBans {
		out = append(out, k)
	}
	return out
}

// AddrBans returns the banned addresses.
func (g *Guard) AddrBans() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.addrBans))
	for a := range g.addrBans {
		out = append(out, a)
	}
	return out
}

// TooSoon reports whether a transaction at now falls inside the cooldown
// window after the last accepted one. The window resets only on accepted
// transactions and logins, never on rejections.
func (g *Guard) TooSoon(lastAccepted, now time.Time) bool {
	return now.Sub(lastAccepted) < TransactionCooldown
}

// RecordAuthFailure counts a failed authentication from addr. The counter
// expires after the failure window.
func (g *Guard) RecordAuthFailure(addr string) {
	if n, found := g.authFails.Get(addr); found {
		_ = g.authFails.Replace(addr, n.(int)+1, gocache.DefaultExpiration)
		return
	}
	g.authFails.Set(addr, 1, gocache.DefaultExpiration)
}

// AuthThrottled reports whether addr has burned through its allowance of
// failed authentications for the current window.
func (g *Guard) AuthThrottled(addr string) bool {
	n, found := g.authFails.Get(addr)
	return found && n.(int) >= authFailureLimit
}
