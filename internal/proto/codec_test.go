package proto

import (
	"reflect"
	"testing"

	"github.com/realmkit/relayd/internal/realm"
)

// testContext builds a realm with two known users for reference resolution.
func testContext(t *testing.T) (*Context, *realm.User, *realm.User) {
	t.Helper()
	r := realm.New(0)
	alice, err := r.AddUser("alice", r.NextID())
	if err != nil {
		t.Fatalf("add alice: %v", err)
	}
	alice.Connected = true
	bob, err := r.AddUser("bob", r.NextID())
	if err != nil {
		t.Fatalf("add bob: %v", err)
	}
	return &Context{Realm: r, Actor: alice}, alice, bob
}

func roundTrip(t *testing.T, p Packet, ctx *Context) Packet {
	t.Helper()
	data, err := Encode(p, ctx)
	if err != nil {
		t.Fatalf("encode %s: %v", p.Tag(), err)
	}
	got, err := Decode(data, ctx)
	if err != nil {
		t.Fatalf("decode %s: %v", p.Tag(), err)
	}
	return got
}

func TestRoundTripAllVariants(t *testing.T) {
	ctx, alice, bob := testContext(t)
	reqID := int32(7)

	packets := []Packet{
		&Authentication{Version: ProtocolVersion, Name: "alice", KeyHash: "cafe", RequestedID: &reqID},
		&Authentication{Version: ProtocolVersion, Name: "bob", KeyHash: "beef"},
		&AuthenticationError{Reason: "protocol version mismatch", ServerVersion: ProtocolVersion},
		NewSynchronization(ctx.Realm, alice),
		&NewUser{ID: 3, Name: "carol"},
		&UserConnected{User: bob},
		&UserDisconnected{User: alice},
		&StartTransaction{Transaction: Transaction{ID: 1, State: TransactionPending}},
		&ConfirmTransaction{Transaction: Transaction{ID: 1, State: TransactionTooFast}},
		&ChatMessage{From: alice, Text: "hello realm"},
	}

	for _, p := range packets {
		got := roundTrip(t, p, ctx)
		if !reflect.DeepEqual(p, got) {
			t.Errorf("%s: round trip mismatch\n want %+v\n got  %+v", p.Tag(), p, got)
		}
	}
}

func TestDecodeUnknownTag(t *testing.T) {
	ctx, _, _ := testContext(t)
	if _, err := Decode([]byte{0xFF, 0x00}, ctx); err == nil {
		t.Fatal("expected malformed packet error for unknown tag")
	}
}

func TestDecodeEmptyBuffer(t *testing.T) {
	ctx, _, _ := testContext(t)
	if _, err := Decode(nil, ctx); err == nil {
		t.Fatal("expected malformed packet error for empty buffer")
	}
}

func TestDecodeTruncated(t *testing.T) {
	ctx, alice, _ := testContext(t)
	data, err := Encode(&ChatMessage{From: alice, Text: "hi"}, ctx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for i := 1; i < len(data); i++ {
		if _, err := Decode(data[:i], ctx); err == nil {
			t.Fatalf("expected error decoding %d of %d bytes", i, len(data))
		}
	}
}

func TestDecodeTrailingBytes(t *testing.T) {
	ctx, alice, _ := testContext(t)
	data, err := Encode(&ChatMessage{From: alice, Text: "hi"}, ctx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := Decode(append(data, 0x00), ctx); err == nil {
		t.Fatal("expected error for trailing bytes")
	}
}

func TestDecodeUnknownUserReference(t *testing.T) {
	ctx, alice, _ := testContext(t)
	data, err := Encode(&ChatMessage{From: alice, Text: "hi"}, ctx)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	// Decode against a realm that never issued alice's id.
	empty := &Context{Realm: realm.New(0)}
	if _, err := Decode(data, empty); err == nil {
		t.Fatal("expected malformed packet error for unknown user id")
	}
}

func TestEncodeNilUserReference(t *testing.T) {
	ctx, _, _ := testContext(t)
	if _, err := Encode(&ChatMessage{Text: "no sender"}, ctx); err == nil {
		t.Fatal("expected encode error for nil user reference")
	}
}

func TestChatMessageApplyRelaysToOthers(t *testing.T) {
	ctx, alice, bob := testContext(t)
	bob.Connected = true

	var delivered []*realm.User
	ctx.Realm.SetDeliver(func(target *realm.User, pkt realm.Packet) {
		delivered = append(delivered, target)
		msg, ok := pkt.(*ChatMessage)
		if !ok {
			t.Fatalf("unexpected packet type %T", pkt)
		}
		if msg.From != alice || msg.Text != "hello" {
			t.Fatalf("unexpected relayed message %+v", msg)
		}
	})

	(&ChatMessage{From: alice, Text: "hello"}).Apply(alice, ctx.Realm)

	if len(delivered) != 1 || delivered[0] != bob {
		t.Fatalf("expected delivery to bob only, got %v", delivered)
	}
}

func TestStartTransactionApplyAcceptsAndEchoes(t *testing.T) {
	ctx, alice, _ := testContext(t)

	var echoed *ConfirmTransaction
	ctx.Realm.SetDeliver(func(target *realm.User, pkt realm.Packet) {
		if target != alice {
			t.Fatalf("echo routed to %v, want alice", target)
		}
		echoed = pkt.(*ConfirmTransaction)
	})

	p := &StartTransaction{Transaction: Transaction{ID: 9}}
	p.Apply(alice, ctx.Realm)

	if echoed == nil {
		t.Fatal("no confirmation echoed")
	}
	if echoed.Transaction.State != TransactionAccepted {
		t.Fatalf("state = %s, want accepted", echoed.Transaction.State)
	}
	if echoed.Transaction.ID != 9 {
		t.Fatalf("id = %d, want 9", echoed.Transaction.ID)
	}
}
