// Package realm holds the shared server-owned world state. There is exactly
// one writer: the session manager serializes all packet application, so the
// realm itself carries no locking.
package realm

import (
	"fmt"
	"sort"
)

// Packet is anything that can be applied to the realm and delivered to users.
// Concrete packet types live in the proto package; keeping the interface here
// lets the realm broadcast packets without depending on the wire format.
type Packet interface {
	// Apply performs the packet's state mutation on behalf of actor and
	// triggers zero or more broadcasts. Callers hold the processing lock,
	// so implementations may assume exclusive access to the realm.
	Apply(actor *User, r *Realm)
}

// DeliverFunc is the notification hook the session manager subscribes to.
// It receives every outbound packet together with its target user; the realm
// itself knows nothing about live connections.
type DeliverFunc func(target *User, pkt Packet)

// Realm is the canonical shared state: the user list and the id counter.
type Realm struct {
	users   map[int32]*User
	lastID  int32
	deliver DeliverFunc
}

// New creates an empty realm. lastID seeds the id counter; pass the highest
// id ever issued (from the store) so restarts never reuse an id.
func New(lastID int32) *Realm {
	return &Realm{
		users:  make(map[int32]*User),
		lastID: lastID,
	}
}

// SetDeliver installs the outbound packet hook. Must be called before any
// packet is applied.
func (r *Realm) SetDeliver(fn DeliverFunc) {
	r.deliver = fn
}

// AddUser creates and registers a new user under the given id.
func (r *Realm) AddUser(name string, id int32) (*User, error) {
	if _, exists := r.users[id]; exists {
		return nil, fmt.Errorf("realm: user id %d already present", id)
	}
	u := &User{ID: id, Name: name}
	r.users[id] = u
	return u, nil
}

// UserByID returns the user with the given id, or nil.
func (r *Realm) UserByID(id int32) *User {
	return r.users[id]
}

// Users returns all users ordered by id.
func (r *Realm) Users() []*User {
	out := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// NextID mints a fresh user id. Ids are monotonic and never reused.
func (r *Realm) NextID() int32 {
	r.lastID++
	return r.lastID
}

// LastID returns the highest id issued so far.
func (r *Realm) LastID() int32 {
	return r.lastID
}

// SendTo delivers a packet to a single user. If the user has no live
// connection the session manager drops it; offline users receive nothing.
func (r *Realm) SendTo(u *User, pkt Packet) {
	if r.deliver != nil {
		r.deliver(u, pkt)
	}
}

// Broadcast delivers a packet to every connected user.
func (r *Realm) Broadcast(pkt Packet) {
	r.BroadcastExcept(pkt, nil)
}

// BroadcastExcept delivers a packet to every connected user except one,
// so the originator of an event is not told about its own action.
func (r *Realm) BroadcastExcept(pkt Packet, except *User) {
	if r.deliver == nil {
		return
	}
	for _, u := range r.Users() {
		if !u.Connected || u == except {
			continue
		}
		r.deliver(u, pkt)
	}
}
