package proto

import (
	"fmt"

	"github.com/realmkit/relayd/internal/realm"
)

// TransactionState is the server-decided outcome of a client transaction.
type TransactionState uint8

const (
	// TransactionPending is the state a client proposes a transaction in.
	TransactionPending TransactionState = iota
	// TransactionAccepted means the transaction was applied to the realm.
	TransactionAccepted
	// TransactionTooFast means the transaction arrived inside the sender's
	// cooldown window and was not applied.
	TransactionTooFast
)

func (s TransactionState) String() string {
	switch s {
	case TransactionPending:
		return "pending"
	case TransactionAccepted:
		return "accepted"
	case TransactionTooFast:
		return "too_fast"
	}
	return "invalid"
}

// Transaction is a client-initiated state change proposal. The server
// mutates State before echoing the transaction back.
type Transaction struct {
	ID    int32
	State TransactionState
}

// Authentication is the first packet a client must send. RequestedID is nil
// when the client has no previously issued identity to reclaim.
type Authentication struct {
	Version     uint32
	Name        string
	KeyHash     string
	RequestedID *int32
}

func (p *Authentication) Tag() Tag { return TagAuthentication }

func (p *Authentication) encode(w *writer, _ *Context) {
	w.u32(p.Version)
	w.str(p.Name)
	w.str(p.KeyHash)
	w.boolean(p.RequestedID != nil)
	if p.RequestedID != nil {
		w.i32(*p.RequestedID)
	}
}

func (p *Authentication) decode(r *reader, _ *Context) {
	p.Version = r.u32()
	p.Name = r.str()
	p.KeyHash = r.str()
	if r.boolean() {
		id := r.i32()
		p.RequestedID = &id
	}
}

// Apply is a no-op: authentication is handled by the session manager before
// any user context exists.
func (p *Authentication) Apply(_ *realm.User, _ *realm.Realm) {}

// AuthenticationError rejects an authentication attempt without closing the
// connection, carrying the server's version so the client can report it.
type AuthenticationError struct {
	Reason        string
	ServerVersion uint32
}

func (p *AuthenticationError) Tag() Tag { return TagAuthenticationError }

func (p *AuthenticationError) encode(w *writer, _ *Context) {
	w.str(p.Reason)
	w.u32(p.ServerVersion)
}

func (p *AuthenticationError) decode(r *reader, _ *Context) {
	p.Reason = r.str()
	p.ServerVersion = r.u32()
}

// Apply is a no-op: the packet is client-bound.
func (p *AuthenticationError) Apply(_ *realm.User, _ *realm.Realm) {}

// UserInfo is the snapshot form of a user inside a Synchronization packet.
type UserInfo struct {
	ID        int32
	Name      string
	Connected bool
}

// Synchronization is the full-state reply sent once, immediately after a
// successful authentication, to the connecting client alone.
type Synchronization struct {
	Version    uint32
	LastUserID int32
	Users      []UserInfo
	You        int32
}

// NewSynchronization builds the snapshot packet for a freshly resolved user.
func NewSynchronization(r *realm.Realm, you *realm.User) *Synchronization {
	users := r.Users()
	infos := make([]UserInfo, 0, len(users))
	for _, u := range users {
		infos = append(infos, UserInfo{ID: u.ID, Name: u.Name, Connected: u.Connected})
	}
	return &Synchronization{
		Version:    ProtocolVersion,
		LastUserID: r.LastID(),
		Users:      infos,
		You:        you.ID,
	}
}

func (p *Synchronization) Tag() Tag { return TagSynchronization }

func (p *Synchronization) encode(w *writer, _ *Context) {
	w.u32(p.Version)
	w.i32(p.LastUserID)
	w.u32(uint32(len(p.Users)))
	for _, u := range p.Users {
		w.i32(u.ID)
		w.str(u.Name)
		w.boolean(u.Connected)
	}
	w.i32(p.You)
}

func (p *Synchronization) decode(r *reader, _ *Context) {
	p.Version = r.u32()
	p.LastUserID = r.i32()
	n := r.u32()
	if r.err != nil {
		return
	}
	if n > MaxPacketSize/7 {
		r.fail(fmt.Errorf("implausible user count %d", n))
		return
	}
	p.Users = make([]UserInfo, 0, n)
	for i := uint32(0); i < n && r.err == nil; i++ {
		p.Users = append(p.Users, UserInfo{
			ID:        r.i32(),
			Name:      r.str(),
			Connected: r.boolean(),
		})
	}
	p.You = r.i32()
}

// Apply is a no-op on the server: clients apply the snapshot locally.
func (p *Synchronization) Apply(_ *realm.User, _ *realm.Realm) {}

// NewUser announces a freshly created user to everyone else. It carries the
// user by value since the receiver's realm does not know the id yet.
type NewUser struct {
	ID   int32
	Name string
}

func (p *NewUser) Tag() Tag { return TagNewUser }

func (p *NewUser) encode(w *writer, _ *Context) {
	w.i32(p.ID)
	w.str(p.Name)
}

func (p *NewUser) decode(r *reader, _ *Context) {
	p.ID = r.i32()
	p.Name = r.str()
}

// Apply registers the announced user. On the server this packet is only
// ever outbound, so Apply runs on clients.
func (p *NewUser) Apply(_ *realm.User, r *realm.Realm) {
	if u, err := r.AddUser(p.Name, p.ID); err == nil {
		u.Connected = true
	}
}

// UserConnected announces that a known user came back online.
type UserConnected struct {
	User *realm.User
}

func (p *UserConnected) Tag() Tag { return TagUserConnected }

func (p *UserConnected) encode(w *writer, _ *Context) {
	w.userRef(p.User)
}

func (p *UserConnected) decode(r *reader, ctx *Context) {
	p.User = r.userRef(ctx)
}

func (p *UserConnected) Apply(_ *realm.User, _ *realm.Realm) {
	p.User.Connected = true
}

// UserDisconnected announces that a user's connection went away.
type UserDisconnected struct {
	User *realm.User
}

func (p *UserDisconnected) Tag() Tag { return TagUserDisconnected }

func (p *UserDisconnected) encode(w *writer, _ *Context) {
	w.userRef(p.User)
}

func (p *UserDisconnected) decode(r *reader, ctx *Context) {
	p.User = r.userRef(ctx)
}

func (p *UserDisconnected) Apply(_ *realm.User, _ *realm.Realm) {
	p.User.Connected = false
}

// StartTransaction proposes a state change. The session manager gates it
// through the cooldown policy before Apply runs.
type StartTransaction struct {
	Transaction Transaction
}

func (p *StartTransaction) Tag() Tag { return TagStartTransaction }

func (p *StartTransaction) encode(w *writer, _ *Context) {
	w.i32(p.Transaction.ID)
	w.u8(uint8(p.Transaction.State))
}

func (p *StartTransaction) decode(r *reader, _ *Context) {
	p.Transaction.ID = r.i32()
	p.Transaction.State = TransactionState(r.u8())
}

// Apply accepts the transaction and echoes the outcome to the sender.
func (p *StartTransaction) Apply(actor *realm.User, r *realm.Realm) {
	p.Transaction.State = TransactionAccepted
	r.SendTo(actor, &ConfirmTransaction{Transaction: p.Transaction})
}

// ConfirmTransaction carries the server-decided outcome back to the sender.
type ConfirmTransaction struct {
	Transaction Transaction
}

func (p *ConfirmTransaction) Tag() Tag { return TagConfirmTransaction }

func (p *ConfirmTransaction) encode(w *writer, _ *Context) {
	w.i32(p.Transaction.ID)
	w.u8(uint8(p.Transaction.State))
}

func (p *ConfirmTransaction) decode(r *reader, _ *Context) {
	p.Transaction.ID = r.i32()
	p.Transaction.State = TransactionState(r.u8())
}

// Apply is a no-op on the server: clients reconcile the echoed outcome.
func (p *ConfirmTransaction) Apply(_ *realm.User, _ *realm.Realm) {}

// ChatMessage is the representative realm-data packet: a line of chat
// relayed to everyone else.
type ChatMessage struct {
	From *realm.User
	Text string
}

func (p *ChatMessage) Tag() Tag { return TagChatMessage }

func (p *ChatMessage) encode(w *writer, _ *Context) {
	w.userRef(p.From)
	w.str(p.Text)
}

func (p *ChatMessage) decode(r *reader, ctx *Context) {
	p.From = r.userRef(ctx)
	p.Text = r.str()
}

// Apply relays the message to every other connected user. The sender is
// taken from the session, not from the wire.
func (p *ChatMessage) Apply(actor *realm.User, r *realm.Realm) {
	r.BroadcastExcept(&ChatMessage{From: actor, Text: p.Text}, actor)
}
