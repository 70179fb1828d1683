package auth

import (
	"context"
	"testing"

	"github.com/didcomm-mediator/mediator/acl"
	"github.com/didcomm-mediator/mediator/apperr"
	"github.com/didcomm-mediator/mediator/did"
	"github.com/didcomm-mediator/mediator/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAccountIndexRemoveAccountProtectsRootAndMediator(t *testing.T) {
	accounts := NewMemoryAccountIndex("did:web:root.example", "did:web:mediator.example")
	ctx := context.Background()

	err := accounts.RemoveAccount(ctx, did.DID("did:web:root.example").Hash())
	assert.True(t, apperr.Is(err, apperr.KindPermissionError))

	err = accounts.RemoveAccount(ctx, did.DID("did:web:mediator.example").Hash())
	assert.True(t, apperr.Is(err, apperr.KindPermissionError))

	bobHash := did.DID(aliceDID).Hash()
	require.NoError(t, accounts.RemoveAccount(ctx, bobHash))
}

func TestMemoryAccountIndexSetACLBitDefaultsToEmptySet(t *testing.T) {
	accounts := NewMemoryAccountIndex("did:web:root.example", "did:web:mediator.example")
	ctx := context.Background()
	hash := did.DID(aliceDID).Hash()

	require.NoError(t, accounts.SetACLBit(ctx, hash, acl.BitSendMessages, true))
	set, err := accounts.Get(ctx, hash)
	require.NoError(t, err)
	assert.True(t, set.Has(acl.BitSendMessages))

	require.NoError(t, accounts.SetACLBit(ctx, hash, acl.BitSendMessages, false))
	set, err = accounts.Get(ctx, hash)
	require.NoError(t, err)
	assert.False(t, set.Has(acl.BitSendMessages))
}

func TestMemoryAccountIndexGlobalACLAppliesUnderneathPerAccount(t *testing.T) {
	accounts := NewMemoryAccountIndex("did:web:root.example", "did:web:mediator.example")
	ctx := context.Background()
	hash := did.DID(aliceDID).Hash()

	accounts.SetGlobalACL(acl.NewSet().Set(acl.BitAnonReceive))
	require.NoError(t, accounts.SetACLBit(ctx, hash, acl.BitSendMessages, true))

	set, err := accounts.Get(ctx, hash)
	require.NoError(t, err)
	assert.True(t, set.Has(acl.BitAnonReceive), "global default must carry through")
	assert.True(t, set.Has(acl.BitSendMessages), "per-account bit must carry through")
}

func TestMemoryAccountIndexPromoteAndDemoteByHash(t *testing.T) {
	accounts := NewMemoryAccountIndex("did:web:root.example", "did:web:mediator.example")
	ctx := context.Background()

	_, err := accounts.AccountType(ctx, aliceDID) // observes alice, recording her in KNOWN_DIDS
	require.NoError(t, err)
	hash := did.DID(aliceDID).Hash()

	require.NoError(t, accounts.PromoteAdminByHash(ctx, hash))
	typ, err := accounts.AccountType(ctx, aliceDID)
	require.NoError(t, err)
	assert.Equal(t, session.Admin, typ)

	require.NoError(t, accounts.DemoteAdminByHash(ctx, hash))
	typ, err = accounts.AccountType(ctx, aliceDID)
	require.NoError(t, err)
	assert.Equal(t, session.Standard, typ)
}

func TestMemoryAccountIndexPromoteByHashRejectsUnknownHash(t *testing.T) {
	accounts := NewMemoryAccountIndex("did:web:root.example", "did:web:mediator.example")
	err := accounts.PromoteAdminByHash(context.Background(), "never-seen-hash")
	assert.True(t, apperr.Is(err, apperr.KindMalformed))
}
