// Package proto defines the wire protocol: a closed set of tagged packet
// variants and a binary codec. Encoding and decoding are context-sensitive:
// user references travel as compact ids on the wire and are resolved against
// the realm snapshot of the encoding or decoding side.
package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/realmkit/relayd/internal/realm"
)

// ProtocolVersion is the realm protocol version. A client whose version
// differs is rejected at authentication before any other field is trusted.
const ProtocolVersion uint32 = 3

// MaxPacketSize bounds a single serialized packet.
const MaxPacketSize = 1 << 16

// ErrMalformedPacket is returned for any decode failure: unknown tag,
// truncated buffer, oversized field, or a reference to an unknown user.
// The caller must discard the packet and must not apply it.
var ErrMalformedPacket = errors.New("proto: malformed packet")

// Tag identifies a packet variant on the wire.
type Tag uint8

const (
	TagAuthentication Tag = iota + 1
	TagAuthenticationError
	TagSynchronization
	TagNewUser
	TagUserConnected
	TagUserDisconnected
	TagStartTransaction
	TagConfirmTransaction
	TagChatMessage
)

func (t Tag) String() string {
	switch t {
	case TagAuthentication:
		return "authentication"
	case TagAuthenticationError:
		return "authentication_error"
	case TagSynchronization:
		return "synchronization"
	case TagNewUser:
		return "new_user"
	case TagUserConnected:
		return "user_connected"
	case TagUserDisconnected:
		return "user_disconnected"
	case TagStartTransaction:
		return "start_transaction"
	case TagConfirmTransaction:
		return "confirm_transaction"
	case TagChatMessage:
		return "chat_message"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Context carries the serialization context: the realm snapshot used to
// resolve user references and the acting (or target) user.
type Context struct {
	Realm *realm.Realm
	Actor *realm.User
}

// Packet is one protocol message variant. The set is closed: only types in
// this package implement the unexported codec methods.
type Packet interface {
	realm.Packet
	Tag() Tag
	encode(w *writer, ctx *Context)
	decode(r *reader, ctx *Context)
}

// Encode serializes a packet: one tag byte followed by the variant payload.
// The codec performs no I/O and has no side effects.
func Encode(p Packet, ctx *Context) ([]byte, error) {
	w := &writer{}
	w.u8(uint8(p.Tag()))
	p.encode(w, ctx)
	if w.err != nil {
		return nil, w.err
	}
	if w.buf.Len() > MaxPacketSize {
		return nil, fmt.Errorf("proto: packet %s too large: %d bytes", p.Tag(), w.buf.Len())
	}
	return w.buf.Bytes(), nil
}

// Decode parses a packet. Any failure yields an error wrapping
// ErrMalformedPacket; a partially decoded packet is never returned.
func Decode(data []byte, ctx *Context) (Packet, error) {
	if len(data) > MaxPacketSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedPacket, len(data))
	}
	r := &reader{r: bytes.NewReader(data)}
	tag := Tag(r.u8())
	if r.err != nil {
		return nil, fmt.Errorf("%w: empty buffer", ErrMalformedPacket)
	}

	var p Packet
	switch tag {
	case TagAuthentication:
		p = &Authentication{}
	case TagAuthenticationError:
		p = &AuthenticationError{}
	case TagSynchronization:
		p = &Synchronization{}
	case TagNewUser:
		p = &NewUser{}
	case TagUserConnected:
		p = &UserConnected{}
	case TagUserDisconnected:
		p = &UserDisconnected{}
	case TagStartTransaction:
		p = &StartTransaction{}
	case TagConfirmTransaction:
		p = &ConfirmTransaction{}
	case TagChatMessage:
		p = &ChatMessage{}
	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrMalformedPacket, uint8(tag))
	}

	p.decode(r, ctx)
	if r.err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPacket, tag, r.err)
	}
	if r.r.Len() != 0 {
		return nil, fmt.Errorf("%w: %s: %d trailing bytes", ErrMalformedPacket, tag, r.r.Len())
	}
	return p, nil
}

// writer builds a packet payload. Errors are sticky; writes after a failure
// are no-ops.
type writer struct {
	buf bytes.Buffer
	err error
}

func (w *writer) u8(v uint8) {
	if w.err == nil {
		w.buf.WriteByte(v)
	}
}

func (w *writer) u32(v uint32) {
	if w.err == nil {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		w.buf.Write(b[:])
	}
}

func (w *writer) i32(v int32) {
	w.u32(uint32(v))
}

func (w *writer) boolean(v bool) {
	if v {
		w.u8(1)
	} else {
		w.u8(0)
	}
}

func (w *writer) str(s string) {
	if w.err != nil {
		return
	}
	if len(s) > math.MaxUint16 {
		w.err = fmt.Errorf("proto: string too long: %d bytes", len(s))
		return
	}
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(len(s)))
	w.buf.Write(b[:])
	w.buf.WriteString(s)
}

// userRef encodes a user reference as its compact id.
func (w *writer) userRef(u *realm.User) {
	if w.err != nil {
		return
	}
	if u == nil {
		w.err = errors.New("proto: nil user reference")
		return
	}
	w.i32(u.ID)
}

// reader parses a packet payload. Errors are sticky.
type reader struct {
	r   *bytes.Reader
	err error
}

func (rd *reader) fail(err error) {
	if rd.err == nil {
		rd.err = err
	}
}

func (rd *reader) u8() uint8 {
	if rd.err != nil {
		return 0
	}
	b, err := rd.r.ReadByte()
	if err != nil {
		rd.fail(io.ErrUnexpectedEOF)
		return 0
	}
	return b
}

func (rd *reader) u32() uint32 {
	if rd.err != nil {
		return 0
	}
	var b [4]byte
	if _, err := io.ReadFull(rd.r, b[:]); err != nil {
		rd.fail(io.ErrUnexpectedEOF)
		return 0
	}
	return binary.BigEndian.Uint32(b[:])
}

func (rd *reader) i32() int32 {
	return int32(rd.u32())
}

func (rd *reader) boolean() bool {
	return rd.u8() == 1
}

func (rd *reader) str() string {
	if rd.err != nil {
		return ""
	}
	var b [2]byte
	if _, err := io.ReadFull(rd.r, b[:]); err != nil {
		rd.fail(io.ErrUnexpectedEOF)
		return ""
	}
	n := int(binary.BigEndian.Uint16(b[:]))
	s := make([]byte, n)
	if _, err := io.ReadFull(rd.r, s); err != nil {
		rd.fail(io.ErrUnexpectedEOF)
		return ""
	}
	return string(s)
}

// userRef resolves a wire id against the realm snapshot. An unknown id is a
// malformed packet, not a silent nil.
func (rd *reader) userRef(ctx *Context) *realm.User {
	id := rd.i32()
	if rd.err != nil {
		return nil
	}
	if ctx == nil || ctx.Realm == nil {
		rd.fail(errors.New("no realm context"))
		return nil
	}
	u := ctx.Realm.UserByID(id)
	if u == nil {
		rd.fail(fmt.Errorf("unknown user id %d", id))
		return nil
	}
	return u
}
