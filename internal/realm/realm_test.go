package realm

import "testing"

type notePacket struct{ note string }

func (p *notePacket) Apply(_ *User, _ *Realm) {}

func TestAddUserRejectsDuplicateID(t *testing.T) {
	r := New(0)
	if _, err := r.AddUser("alice", 1); err != nil {
		t.Fatalf("first add: %v", err)
	}
	if _, err := r.AddUser("impostor", 1); err == nil {
		t.Fatal("expected error adding duplicate id")
	}
}

func TestNextIDIsMonotonic(t *testing.T) {
	r := New(41)
	if got := r.NextID(); got != 42 {
		t.Fatalf("NextID = %d, want 42", got)
	}
	if got := r.NextID(); got != 43 {
		t.Fatalf("NextID = %d, want 43", got)
	}
	if got := r.LastID(); got != 43 {
		t.Fatalf("LastID = %d, want 43", got)
	}
}

func TestUsersOrderedByID(t *testing.T) {
	r := New(0)
	for _, name := range []string{"c", "a", "b"} {
		if _, err := r.AddUser(name, r.NextID()); err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}
	users := r.Users()
	if len(users) != 3 {
		t.Fatalf("len = %d, want 3", len(users))
	}
	for i, u := range users {
		if u.ID != int32(i+1) {
			t.Fatalf("users[%d].ID = %d, want %d", i, u.ID, i+1)
		}
	}
}

func TestBroadcastSkipsOfflineAndExcluded(t *testing.T) {
	r := New(0)
	alice, _ := r.AddUser("alice", r.NextID())
	bob, _ := r.AddUser("bob", r.NextID())
	carol, _ := r.AddUser("carol", r.NextID())
	alice.Connected = true
	bob.Connected = true
	// carol stays offline

	var got []*User
	r.SetDeliver(func(target *User, _ Packet) {
		got = append(got, target)
	})

	pkt := &notePacket{note: "hello"}

	r.Broadcast(pkt)
	if len(got) != 2 {
		t.Fatalf("broadcast reached %d users, want 2", len(got))
	}

	got = nil
	r.BroadcastExcept(pkt, alice)
	if len(got) != 1 || got[0] != bob {
		t.Fatalf("broadcast-except reached %v, want bob only", got)
	}

	got = nil
	r.SendTo(carol, pkt)
	if len(got) != 1 || got[0] != carol {
		t.Fatalf("SendTo reached %v, want carol", got)
	}
}
