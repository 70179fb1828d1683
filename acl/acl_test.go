package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetAndHas(t *testing.T) {
	s := NewSet()
	assert.False(t, s.Has(BitBlocked))
	s = s.Set(BitBlocked)
	assert.True(t, s.Has(BitBlocked))
	s = s.Clear(BitBlocked)
	assert.False(t, s.Has(BitBlocked))
}

func TestUint64RoundTrip(t *testing.T) {
	s := NewSet().Set(BitSendMessages).Set(BitReceiveForwarded).Set(BitAnonReceive)
	v := s.Uint64()

	restored := FromUint64(v)
	assert.True(t, restored.Has(BitSendMessages))
	assert.True(t, restored.Has(BitReceiveForwarded))
	assert.True(t, restored.Has(BitAnonReceive))
	assert.False(t, restored.Has(BitBlocked))
}

func TestAccountBlocked(t *testing.T) {
	blockedSet := NewSet().Set(BitBlocked)
	clearSet := NewSet()

	assert.True(t, AccountBlocked(blockedSet, ExplicitDeny))
	assert.False(t, AccountBlocked(clearSet, ExplicitDeny))

	// Explicit-allow mode inverts the polarity: blocked bit clear means blocked.
	assert.False(t, AccountBlocked(blockedSet, ExplicitAllow))
	assert.True(t, AccountBlocked(clearSet, ExplicitAllow))
}

func TestSelfChangeAllowed(t *testing.T) {
	s := NewSet().Set(BitSendMessagesSelf)
	assert.True(t, SelfChangeAllowed(s, BitSendMessages))
	assert.False(t, SelfChangeAllowed(s, BitReceiveMessages))

	// Bits without a self-change pair (e.g. Blocked) are never self-changeable.
	assert.False(t, SelfChangeAllowed(s, BitBlocked))
}

func TestAccessListAllowedExplicitAllow(t *testing.T) {
	list := NewList(ExplicitAllow)
	list.Add("hash-a")

	assert.True(t, Allowed(list, NewSet(), "hash-a"))
	assert.False(t, Allowed(list, NewSet(), "hash-b"))
}

func TestAccessListAllowedExplicitDeny(t *testing.T) {
	list := NewList(ExplicitDeny)
	list.Add("hash-a")

	assert.False(t, Allowed(list, NewSet(), "hash-a"))
	assert.True(t, Allowed(list, NewSet(), "hash-b"))
}

func TestAccessListAllowedAnonymous(t *testing.T) {
	list := NewList(ExplicitDeny)

	withAnon := NewSet().Set(BitAnonReceive)
	withoutAnon := NewSet()

	assert.True(t, Allowed(list, withAnon, ""))
	assert.False(t, Allowed(list, withoutAnon, ""))
}

func TestAccessListAllowedNilList(t *testing.T) {
	assert.True(t, Allowed(nil, NewSet(), "hash-a"))
}
