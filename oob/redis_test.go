package oob

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := NewRedisStore(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStoreCreateGetDelete(t *testing.T) {
	s := newTestRedisStore(t)
	ctx := context.Background()

	id, err := s.CreateInvite(ctx, Invite{FromDID: "did:web:mediator.example", Label: "front desk"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	inv, ok, err := s.GetInvite(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "did:web:mediator.example", inv.FromDID)
	require.Equal(t, "front desk", inv.Label)

	require.NoError(t, s.DeleteInvite(ctx, id))
	_, ok, err = s.GetInvite(ctx, id)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreGetInviteMissing(t *testing.T) {
	s := newTestRedisStore(t)
	_, ok, err := s.GetInvite(context.Background(), "never-minted")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStoreRejectsAlreadyExpiredInvite(t *testing.T) {
	s := newTestRedisStore(t)
	_, err := s.CreateInvite(context.Background(), Invite{
		FromDID:   "did:web:mediator.example",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	require.Error(t, err)
}

func TestRedisStoreTTLExpiresInvite(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	s, err := NewRedisStore(context.Background(), mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	ctx := context.Background()

	id, err := s.CreateInvite(ctx, Invite{
		FromDID:   "did:web:mediator.example",
		ExpiresAt: time.Now().Add(50 * time.Millisecond),
	})
	require.NoError(t, err)

	// miniredis does not age TTLs on the wall clock; FastForward does.
	mr.FastForward(200 * time.Millisecond)

	_, ok, err := s.GetInvite(ctx, id)
	require.NoError(t, err)
	require.False(t, ok, "miniredis should have expired the key by its TTL")
}
