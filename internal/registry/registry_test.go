package registry

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/realmkit/relayd/internal/realm"
	"github.com/realmkit/relayd/internal/store/sqlite"
)

func newTestRegistry(t *testing.T) (*Registry, *realm.Realm) {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "reg.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	r := realm.New(0)
	return New(st, r), r
}

func TestFreshKeysGetStrictlyIncreasingIDs(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	var last int32
	for i, hash := range []string{"h1", "h2", "h3"} {
		id, reused, err := reg.RegisterOrReuse(ctx, nil, "user", hash)
		require.NoError(t, err)
		require.False(t, reused)
		require.Greater(t, id, last, "iteration %d", i)
		last = id
	}
}

func TestMatchingKeyReusesID(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	id, _, err := reg.RegisterOrReuse(ctx, nil, "alice", "alice-hash")
	require.NoError(t, err)

	got, reused, err := reg.RegisterOrReuse(ctx, &id, "alice", "alice-hash")
	require.NoError(t, err)
	require.True(t, reused)
	require.Equal(t, id, got)
}

func TestMismatchedKeyForksNewID(t *testing.T) {
	reg, r := newTestRegistry(t)
	ctx := context.Background()

	id, _, err := reg.RegisterOrReuse(ctx, nil, "alice", "alice-hash")
	require.NoError(t, err)

	forked, reused, err := reg.RegisterOrReuse(ctx, &id, "impostor", "wrong-hash")
	require.NoError(t, err)
	require.False(t, reused)
	require.NotEqual(t, id, forked)

	// The earlier binding is untouched.
	hash, err := reg.KeyHashForUser(ctx, id)
	require.NoError(t, err)
	require.Equal(t, "alice-hash", hash)

	// The fork is bound to the presented key.
	hash, err = reg.KeyHashForUser(ctx, forked)
	require.NoError(t, err)
	require.Equal(t, "wrong-hash", hash)

	require.Equal(t, forked, r.LastID())
}

func TestIDBeyondIssuedRangeForks(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	bogus := int32(40)
	id, reused, err := reg.RegisterOrReuse(ctx, &bogus, "claimant", "some-hash")
	require.NoError(t, err)
	require.False(t, reused)
	require.NotEqual(t, bogus, id)
}

func TestKeyHashForUnknownUser(t *testing.T) {
	reg, _ := newTestRegistry(t)

	hash, err := reg.KeyHashForUser(context.Background(), 12)
	require.NoError(t, err)
	require.Empty(t, hash)
}

func TestHashKeyIsStableAndHex(t *testing.T) {
	a := HashKey("secret")
	b := HashKey("secret")
	require.Equal(t, a, b)
	require.Len(t, a, 64)
	require.NotEqual(t, a, HashKey("other"))
}
