package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChallenge(t *testing.T) {
	m := NewManager()
	defer m.Close()

	sid, challenge, err := m.NewChallenge("did:example:alice")
	require.NoError(t, err)
	assert.Len(t, sid, 12)
	assert.Len(t, challenge, 32)

	rec, ok := m.Get(sid)
	require.True(t, ok)
	assert.Equal(t, ChallengeSent, rec.State)
	assert.Equal(t, "did:example:alice", rec.DID)
	assert.Equal(t, challenge, rec.Challenge)
}

func TestAuthenticateRotatesSessionID(t *testing.T) {
	m := NewManager()
	defer m.Close()

	sid, _, err := m.NewChallenge("did:example:bob")
	require.NoError(t, err)

	rec, err := m.Authenticate(sid, 0b1010)
	require.NoError(t, err)
	assert.NotEqual(t, sid, rec.ID)
	assert.Equal(t, Authenticated, rec.State)
	assert.Equal(t, uint64(0b1010), rec.ACL)

	_, ok := m.Get(sid)
	assert.False(t, ok, "old session id must be invalidated")

	got, ok := m.Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, Authenticated, got.State)
}

func TestAuthenticateRejectsRotatedSessionID(t *testing.T) {
	m := NewManager()
	defer m.Close()

	sid, _, err := m.NewChallenge("did:example:carol")
	require.NoError(t, err)

	_, err = m.Authenticate(sid, 0)
	require.NoError(t, err)

	// sid has been consumed/rotated away; re-authenticating must fail.
	_, err = m.Authenticate(sid, 0)
	assert.Error(t, err)
}

func TestAuthenticateRejectsDoubleConsumption(t *testing.T) {
	m := NewManager()
	defer m.Close()

	sid, _, err := m.NewChallenge("did:example:dan")
	require.NoError(t, err)

	// Simulate a race: mark the challenge already seen before authenticating.
	rec, _ := m.Get(sid)
	m.nonceCache.Seen(sid, rec.Challenge)

	_, err = m.Authenticate(sid, 0)
	assert.Error(t, err)
}

func TestBlockTransitionsState(t *testing.T) {
	m := NewManager()
	defer m.Close()

	sid, _, _ := m.NewChallenge("did:example:eve")
	rec, err := m.Authenticate(sid, 0)
	require.NoError(t, err)

	ok := m.Block(rec.ID)
	assert.True(t, ok)

	got, found := m.Get(rec.ID)
	require.True(t, found)
	assert.Equal(t, Blocked, got.State)
}

func TestStats(t *testing.T) {
	m := NewManager()
	defer m.Close()

	sid1, _, _ := m.NewChallenge("did:example:a")
	_, _, _ = m.NewChallenge("did:example:b")
	_, err := m.Authenticate(sid1, 0)
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Authenticated)
	assert.Equal(t, 1, stats.ChallengeSent)
}
