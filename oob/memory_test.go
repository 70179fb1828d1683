package oob

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCreateGetDelete(t *testing.T) {
	s := NewMemoryStore()
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

func TestMemoryStoreGetInviteMissing(t *testing.T) {
	s := NewMemoryStore()
	_, ok, err := s.GetInvite(context.Background(), "never-minted")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreExpiredInviteNotReturned(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	id, err := s.CreateInvite(ctx, Invite{FromDID: "did:web:mediator.example", ExpiresAt: time.Now().Add(-time.Minute)})
	require.NoError(t, err)

	_, ok, err := s.GetInvite(ctx, id)
	require.NoError(t, err)
	require.False(t, ok, "an invite past its expiry must not be returned")
}

func TestMemoryStoreInviteIDsAreUnique(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.CreateInvite(ctx, Invite{FromDID: "did:web:mediator.example"})
	require.NoError(t, err)
	second, err := s.CreateInvite(ctx, Invite{FromDID: "did:web:mediator.example"})
	require.NoError(t, err)

	require.NotEqual(t, first, second)
}
