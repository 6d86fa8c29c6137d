// Package session binds transport connections to authenticated realm users
// and drives the packet dispatch state machine. All packet processing is
// serialized behind one mutex: at most one packet is being applied to the
// realm at any instant, across all connections.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/realmkit/relayd/internal/abuse"
	"github.com/realmkit/relayd/internal/proto"
	"github.com/realmkit/relayd/internal/realm"
	"github.com/realmkit/relayd/internal/registry"
)

// Conn is the transport-owned connection handle the manager routes packets
// through. Sends are fire-and-forget and ordered per connection only.
type Conn interface {
	ID() uuid.UUID
	RemoteAddr() string
	Send(data []byte) error
	Close()
}

// ClientInfo is one row of the operator-facing client listing.
type ClientInfo struct {
	UserID int32
	Name   string
	Addr   string
}

// binding ties a live connection to its resolved user. user is nil while the
// connection is unauthenticated.
type binding struct {
	conn Conn
	user *realm.User
}

// Manager is the single point through which packets reach a connection.
type Manager struct {
	// mu is the global processing critical section (decode, authenticate,
	// apply, broadcast). Connection bookkeeping lives in bindings, which
	// tolerates the connect/disconnect callbacks racing outside mu.
	mu       sync.Mutex
	bindings sync.Map // uuid.UUID -> *binding

	realm *realm.Realm
	reg   *registry.Registry
	guard *abuse.Guard
	log   zerolog.Logger

	now func() time.Time
}

// NewManager wires the manager into the realm's outbound delivery hook.
func NewManager(r *realm.Realm, reg *registry.Registry, guard *abuse.Guard, logger zerolog.Logger) *Manager {
	m := &Manager{
		realm: r,
		reg:   reg,
		guard: guard,
		log:   logger.With().Str("component", "session").Logger(),
		now:   time.Now,
	}
	r.SetDeliver(m.deliver)
	return m
}

// HandleConnect registers a new unauthenticated connection. A connection
// from a banned address is closed before any message is processed.
func (m *Manager) HandleConnect(c Conn) {
	addr := c.RemoteAddr()
	if m.guard.AddrBanned(addr) {
		m.log.Info().Str("addr", addr).Msg("refusing connection from banned address")
		c.Close()
		return
	}
	m.bindings.Store(c.ID(), &binding{conn: c})
	m.log.Debug().Stringer("conn", c.ID()).Str("addr", addr).Msg("connection accepted")
}

// HandleMessage decodes and applies one inbound packet.
func (m *Manager) HandleMessage(c Conn, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.bindings.Load(c.ID())
	if !ok {
		// Raced a disconnect or a ban; nothing to apply against.
		return
	}
	b := v.(*binding)

	pkt, err := proto.Decode(data, &proto.Context{Realm: m.realm, Actor: b.user})
	if err != nil {
		m.log.Warn().Err(err).Stringer("conn", c.ID()).Msg("dropping malformed packet")
		return
	}

	if b.user == nil {
		auth, ok := pkt.(*proto.Authentication)
		if !ok {
			m.log.Warn().
				Stringer("conn", c.ID()).
				Stringer("tag", pkt.Tag()).
				Msg("dropping packet from unauthenticated connection")
			return
		}
		m.authenticate(c, b, auth)
		return
	}

	switch p := pkt.(type) {
	case *proto.Authentication:
		m.log.Warn().Stringer("conn", c.ID()).Msg("dropping re-authentication on bound connection")
	case *proto.StartTransaction:
		m.handleTransaction(b, p)
	default:
		pkt.Apply(b.user, m.realm)
	}
}

// HandleDisconnect releases the connection's binding and, if a user was
// bound, marks it offline and tells everyone.
func (m *Manager) HandleDisconnect(c Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.bindings.LoadAndDelete(c.ID())
	if !ok {
		return
	}
	b := v.(*binding)
	if b.user == nil {
		m.log.Debug().Stringer("conn", c.ID()).Msg("unauthenticated connection closed")
		return
	}

	b.user.Connected = false
	m.log.Info().Int32("user", b.user.ID).Str("name", b.user.Name).Msg("user disconnected")
	m.realm.Broadcast(&proto.UserDisconnected{User: b.user})
}

// authenticate runs the Unauthenticated -> Authenticated transition.
// Caller holds mu.
func (m *Manager) authenticate(c Conn, b *binding, auth *proto.Authentication) {
	addr := c.RemoteAddr()

	if m.guard.AuthThrottled(addr) {
		m.log.Info().Str("addr", addr).Msg("closing connection: auth failure throttle")
		m.drop(c)
		return
	}

	if auth.Version != proto.ProtocolVersion {
		m.guard.RecordAuthFailure(addr)
		m.log.Info().
			Uint32("client_version", auth.Version).
			Uint32("server_version", proto.ProtocolVersion).
			Str("addr", addr).
			Msg("rejecting authentication: version mismatch")
		m.send(c, nil, &proto.AuthenticationError{
			Reason:        "protocol version mismatch",
			ServerVersion: proto.ProtocolVersion,
		})
		return
	}

	keyHash := registry.HashKey(auth.KeyHash)
	if m.guard.KeyBanned(keyHash) {
		m.guard.RecordAuthFailure(addr)
		m.log.Info().Str("addr", addr).Msg("closing connection: banned key")
		m.drop(c)
		return
	}

	ctx := context.Background()
	id, reused, err := m.reg.RegisterOrReuse(ctx, auth.RequestedID, auth.Name, keyHash)
	if err != nil {
		m.log.Error().Err(err).Str("addr", addr).Msg("identity resolution failed")
		m.drop(c)
		return
	}

	user := m.realm.UserByID(id)
	if user == nil {
		user, err = m.realm.AddUser(auth.Name, id)
		if err != nil {
			m.log.Error().Err(err).Int32("user", id).Msg("realm user creation failed")
			m.drop(c)
			return
		}
		user.Connected = true
		m.realm.BroadcastExcept(&proto.NewUser{ID: user.ID, Name: user.Name}, user)
	} else {
		m.supersede(user, c)
		user.Connected = true
		m.realm.BroadcastExcept(&proto.UserConnected{User: user}, user)
	}

	// A fresh login starts the transaction cooldown window.
	user.LastTransactionAt = m.now()

	b.user = user
	m.log.Info().
		Int32("user", user.ID).
		Str("name", user.Name).
		Str("addr", addr).
		Bool("reused_identity", reused).
		Msg("user authenticated")

	m.send(c, user, proto.NewSynchronization(m.realm, user))
}

// supersede enforces one live connection per user: a reconnect for an
// already-connected id evicts the earlier connection. The old binding is
// removed here so its disconnect callback finds nothing to tear down.
func (m *Manager) supersede(user *realm.User, incoming Conn) {
	m.bindings.Range(func(key, v any) bool {
		b := v.(*binding)
		if b.user == user && b.conn.ID() != incoming.ID() {
			m.log.Info().Int32("user", user.ID).Msg("superseding earlier connection for user")
			m.bindings.Delete(key)
			b.conn.Close()
			return false
		}
		return true
	})
}

// handleTransaction gates a StartTransaction through the cooldown policy.
// Caller holds mu.
func (m *Manager) handleTransaction(b *binding, p *proto.StartTransaction) {
	now := m.now()
	if m.guard.TooSoon(b.user.LastTransactionAt, now) {
		p.Transaction.State = proto.TransactionTooFast
		m.log.Debug().Int32("user", b.user.ID).Msg("transaction rejected: too fast")
		m.realm.SendTo(b.user, &proto.ConfirmTransaction{Transaction: p.Transaction})
		return
	}
	b.user.LastTransactionAt = now
	p.Apply(b.user, m.realm)
}

// deliver is the realm's outbound hook: route a packet to the live
// connection bound to target. Offline users receive nothing.
func (m *Manager) deliver(target *realm.User, pkt realm.Packet) {
	p, ok := pkt.(proto.Packet)
	if !ok {
		m.log.Error().Int32("user", target.ID).Msg("dropping non-wire packet")
		return
	}
	m.bindings.Range(func(_, v any) bool {
		b := v.(*binding)
		if b.user == target {
			m.send(b.conn, target, p)
			return false
		}
		return true
	})
}

// send encodes a packet for target and writes it to the connection.
func (m *Manager) send(c Conn, target *realm.User, pkt proto.Packet) {
	data, err := proto.Encode(pkt, &proto.Context{Realm: m.realm, Actor: target})
	if err != nil {
		m.log.Error().Err(err).Stringer("tag", pkt.Tag()).Msg("packet encode failed")
		return
	}
	if err := c.Send(data); err != nil {
		m.log.Debug().Err(err).Stringer("conn", c.ID()).Msg("send failed")
	}
}

// drop removes a connection's binding and closes it without any farewell
// traffic. Used for bans and throttles; the disconnect callback then
// no-ops.
func (m *Manager) drop(c Conn) {
	m.bindings.Delete(c.ID())
	c.Close()
}

// Clients lists the id, name, and address of every authenticated connection.
// Takes mu: binding.user is written during authentication.
func (m *Manager) Clients() []ClientInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []ClientInfo
	m.bindings.Range(func(_, v any) bool {
		b := v.(*binding)
		if b.user != nil {
			out = append(out, ClientInfo{UserID: b.user.ID, Name: b.user.Name, Addr: b.conn.RemoteAddr()})
		}
		return true
	})
	return out
}

// ConnectedCount returns the number of authenticated connections.
func (m *Manager) ConnectedCount() int {
	return len(m.Clients())
}

// BanUser resolves the user id to its bound key hash, bans the hash, and
// closes the user's live connection if any.
func (m *Manager) BanUser(ctx context.Context, id int32) error {
	hash, err := m.reg.KeyHashForUser(ctx, id)
	if err != nil {
		return err
	}
	if hash == "" {
		return fmt.Errorf("session: unknown user id %d", id)
	}
	if err := m.guard.BanKey(ctx, hash); err != nil {
		return err
	}
	m.closeWhere(func(b *binding) bool { return b.user != nil && b.user.ID == id })
	m.log.Info().Int32("user", id).Msg("user banned")
	return nil
}

// UnbanUser lifts the key ban bound to the user id.
func (m *Manager) UnbanUser(ctx context.Context, id int32) error {
	hash, err := m.reg.KeyHashForUser(ctx, id)
	if err != nil {
		return err
	}
	if hash == "" {
		return fmt.Errorf("session: unknown user id %d", id)
	}
	if err := m.guard.UnbanKey(ctx, hash); err != nil {
		return err
	}
	m.log.Info().Int32("user", id).Msg("user unbanned")
	return nil
}

// BanAddr bans a network address and closes every live connection from it,
// authenticated or not.
func (m *Manager) BanAddr(ctx context.Context, addr string) error {
	if err := m.guard.BanAddr(ctx, addr); err != nil {
		return err
	}
	m.closeWhere(func(b *binding) bool { return b.conn.RemoteAddr() == addr })
	m.log.Info().Str("addr", addr).Msg("address banned")
	return nil
}

// UnbanAddr lifts an address ban; new connection attempts succeed again.
func (m *Manager) UnbanAddr(ctx context.Context, addr string) error {
	if err := m.guard.UnbanAddr(ctx, addr); err != nil {
		return err
	}
	m.log.Info().Str("addr", addr).Msg("address unbanned")
	return nil
}

// closeWhere closes every connection matching pred through the normal
// disconnect path, so bound users are marked offline and announced.
// Takes mu for the same reason as Clients; Close on a transport connection
// never re-enters the manager synchronously, so holding mu here is safe.
func (m *Manager) closeWhere(pred func(*binding) bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var victims []Conn
	m.bindings.Range(func(_, v any) bool {
		b := v.(*binding)
		if pred(b) {
			victims = append(victims, b.conn)
		}
		return true
	})
	for _, c := range victims {
		c.Close()
	}
}

// Close releases the connection table, closing every live connection.
func (m *Manager) Close() {
	m.closeWhere(func(*binding) bool { return true })
}
