package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestUserLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	max, err := st.MaxUserID(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 0, max)

	require.NoError(t, st.CreateUser(ctx, 1, "alice", "hash-a"))
	require.NoError(t, st.CreateUser(ctx, 2, "bob", "hash-b"))

	u, err := st.UserByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, u)
	require.Equal(t, "alice", u.Name)
	require.Equal(t, "hash-a", u.KeyHash)

	missing, err := st.UserByID(ctx, 99)
	require.NoError(t, err)
	require.Nil(t, missing)

	users, err := st.Users(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	require.EqualValues(t, 1, users[0].ID)
	require.EqualValues(t, 2, users[1].ID)

	max, err = st.MaxUserID(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 2, max)
}

func TestCreateUserRejectsDuplicateID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateUser(ctx, 1, "alice", "hash-a"))
	require.Error(t, st.CreateUser(ctx, 1, "impostor", "hash-x"))
}

func TestBanSetsPersist(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "bans.db")
	ctx := context.Background()

	st, err := New(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.AddKeyBan(ctx, "bad-key"))
	require.NoError(t, st.AddKeyBan(ctx, "bad-key")) // idempotent
	require.NoError(t, st.AddAddrBan(ctx, "10.0.0.1"))
	require.NoError(t, st.Close())

	st, err = New(dbPath)
	require.NoError(t, err)
	defer st.Close()

	keys, err := st.KeyBans(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"bad-key"}, keys)

	addrs, err := st.AddrBans(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"10.0.0.1"}, addrs)

	require.NoError(t, st.RemoveKeyBan(ctx, "bad-key"))
	require.NoError(t, st.RemoveAddrBan(ctx, "10.0.0.1"))

	keys, err = st.KeyBans(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)

	addrs, err = st.AddrBans(ctx)
	require.NoError(t, err)
	require.Empty(t, addrs)
}
