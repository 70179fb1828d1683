package msgstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreListGetDeleteRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Limits{}, 0)

	toHash := "bob-hash"
	fromHash := "alice-hash"
	msgID, err := s.Store(ctx, []byte("ciphertext"), toHash, fromHash, time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NotEmpty(t, msgID)

	entries, err := s.List(ctx, toHash, FolderReceive, Range{}, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, msgID, entries[0].MsgID)
	assert.Equal(t, fromHash, entries[0].From)

	bodies, errs, err := s.Get(ctx, []string{msgID}, false)
	require.NoError(t, err)
	assert.Empty(t, errs)
	assert.Equal(t, []byte("ciphertext"), bodies[msgID])

	successes, delErrs, err := s.Delete(ctx, toHash, []string{msgID})
	require.NoError(t, err)
	assert.Empty(t, delErrs)
	assert.Equal(t, []string{msgID}, successes)

	entries, err = s.List(ctx, toHash, FolderReceive, Range{}, 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Limits{}, 0)
	toHash := "bob-hash"
	msgID, err := s.Store(ctx, []byte("x"), toHash, "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	successes, errs, err := s.Delete(ctx, toHash, []string{msgID})
	require.NoError(t, err)
	assert.Equal(t, []string{msgID}, successes)
	assert.Empty(t, errs)

	successes, errs, err = s.Delete(ctx, toHash, []string{msgID})
	require.NoError(t, err)
	assert.Empty(t, successes)
	assert.Len(t, errs, 1)
}

func TestAnonymousMessageOnlyRecipientCanDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Limits{}, 0)
	toHash := "carol-hash"
	msgID, err := s.Store(ctx, []byte("x"), toHash, "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	successes, errs, err := s.Delete(ctx, "someone-else", []string{msgID})
	require.NoError(t, err)
	assert.Empty(t, successes)
	assert.Len(t, errs, 1)

	successes, errs, err = s.Delete(ctx, toHash, []string{msgID})
	require.NoError(t, err)
	assert.Equal(t, []string{msgID}, successes)
	assert.Empty(t, errs)
}

func TestListLimitZeroReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Limits{}, 0)
	_, err := s.Store(ctx, []byte("x"), "bob-hash", "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	entries, err := s.List(ctx, "bob-hash", FolderReceive, Range{}, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestListLimitClampedToMax(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Limits{}, 2)
	for i := 0; i < 5; i++ {
		_, err := s.Store(ctx, []byte("x"), "bob-hash", "", time.Now().Add(time.Hour))
		require.NoError(t, err)
	}

	entries, err := s.List(ctx, "bob-hash", FolderReceive, Range{}, 100)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStoreEnforcesCountLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Limits{MaxCountPerDID: 1}, 0)
	_, err := s.Store(ctx, []byte("x"), "bob-hash", "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = s.Store(ctx, []byte("y"), "bob-hash", "", time.Now().Add(time.Hour))
	assertAppErrKind(t, err, "ServiceLimitError")
}

func TestExpireSweepRemovesExpiredOnly(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Limits{}, 0)
	expiredID, err := s.Store(ctx, []byte("x"), "bob-hash", "", time.Now().Add(-time.Second))
	require.NoError(t, err)
	liveID, err := s.Store(ctx, []byte("y"), "bob-hash", "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	n, err := s.ExpireSweep(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, errs, err := s.Get(ctx, []string{expiredID, liveID}, false)
	require.NoError(t, err)
	assert.Contains(t, errs, expiredID)
	assert.NotContains(t, errs, liveID)
}

func TestStatsReportsQueueShape(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(Limits{}, 0)
	_, err := s.Store(ctx, []byte("abc"), "bob-hash", "", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = s.Store(ctx, []byte("de"), "bob-hash", "", time.Now().Add(time.Hour))
	require.NoError(t, err)

	stats, err := s.Stats(ctx, "bob-hash", true)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.Equal(t, int64(5), stats.Bytes)
	assert.True(t, stats.LiveDelivery)
}

func assertAppErrKind(t *testing.T, err error, kind string) {
	t.Helper()
	require.Error(t, err)
	assert.Contains(t, err.Error(), kind)
}
