// Package acl implements the mediator's ACL bitfield engine: a 64-bit
// per-account bitfield with symbolic accessors, plus the access-list
// (explicit-allow / explicit-deny) membership check. Operations are total
// and allocation-free, backed by a fixed-width bitset.
package acl

import "github.com/bits-and-blooms/bitset"

// Bit names the bitfield positions recognized by the engine. Each
// user-facing action has an effective bit and (unless noted) a paired
// self-change bit that gates whether the account may flip its own
// effective bit via MediatorACLManagement.
type Bit uint

const (
	BitAccessListMode Bit = iota // 0: 0=explicit-deny, 1=explicit-allow
	BitAccessListModeSelf

	BitBlocked // no self-change pair: only an admin may block/unblock

	BitLocal // no self-change pair: set by the mediator on successful websocket registration

	BitSendMessages
	BitSendMessagesSelf

	BitReceiveMessages
	BitReceiveMessagesSelf

	BitSendForwarded
	BitSendForwardedSelf

	BitReceiveForwarded
	BitReceiveForwardedSelf

	BitCreateInvites
	BitCreateInvitesSelf

	BitAnonReceive
	BitAnonReceiveSelf

	BitAccessListSelfManage
)

// Mode is the access-list interpretation for inbound message checks.
type Mode int

const (
	ExplicitDeny Mode = iota
	ExplicitAllow
)

// Set is a 64-bit ACL bitfield.
type Set struct {
	bits *bitset.BitSet
}

// NewSet returns an all-clear ACL set.
func NewSet() Set {
	return Set{bits: bitset.New(64)}
}

// FromUint64 reconstructs a Set from its persisted integer form.
func FromUint64(v uint64) Set {
	bs := bitset.New(64)
	for i := Bit(0); i < 64; i++ {
		if v&(1<<i) != 0 {
			bs.Set(uint(i))
		}
	}
	return Set{bits: bs}
}

// Uint64 returns the persisted integer form of the set.
func (s Set) Uint64() uint64 {
	var v uint64
	for i := uint(0); i < 64; i++ {
		if s.bits.Test(i) {
			v |= 1 << i
		}
	}
	return v
}

// Has reports whether bit b is set.
func (s Set) Has(b Bit) bool {
	return s.bits.Test(uint(b))
}

// Set flips bit b on and returns the receiver for chaining.
func (s Set) Set(b Bit) Set {
	s.bits.Set(uint(b))
	return s
}

// Clear flips bit b off and returns the receiver for chaining.
func (s Set) Clear(b Bit) Set {
	s.bits.Clear(uint(b))
	return s
}

// Union combines two ACL sets bit-by-bit OR, used to apply a mediator-wide
// global default underneath a per-account set (spec §4, "global vs
// per-account ACL"). The bitfield has no tristate "inherit" bit, so a
// conservative union is the only total policy available: a bit granted by
// either layer is granted, and a bit neither layer grants stays clear.
func (s Set) Union(other Set) Set {
	return FromUint64(s.Uint64() | other.Uint64())
}

// bitNames pairs every Bit with its symbolic wire name, used to (de)serialize
// MediatorACLManagement message bodies without exposing the raw bit index.
var bitNames = map[Bit]string{
	BitAccessListMode:       "access_list_mode",
	BitAccessListModeSelf:   "access_list_mode_self",
	BitBlocked:              "blocked",
	BitLocal:                "local",
	BitSendMessages:         "send_messages",
	BitSendMessagesSelf:     "send_messages_self",
	BitReceiveMessages:      "receive_messages",
	BitReceiveMessagesSelf:  "receive_messages_self",
	BitSendForwarded:        "send_forwarded",
	BitSendForwardedSelf:    "send_forwarded_self",
	BitReceiveForwarded:     "receive_forwarded",
	BitReceiveForwardedSelf: "receive_forwarded_self",
	BitCreateInvites:        "create_invites",
	BitCreateInvitesSelf:    "create_invites_self",
	BitAnonReceive:          "anon_receive",
	BitAnonReceiveSelf:      "anon_receive_self",
	BitAccessListSelfManage: "access_list_self_manage",
}

// Name returns a bit's symbolic wire name.
func Name(b Bit) (string, bool) {
	name, ok := bitNames[b]
	return name, ok
}

// BitByName resolves a symbolic wire name back to its Bit.
func BitByName(name string) (Bit, bool) {
	for b, n := range bitNames {
		if n == name {
			return b, true
		}
	}
	return 0, false
}

// AccessListMode returns the account's access-list interpretation.
func (s Set) AccessListMode() Mode {
	if s.Has(BitAccessListMode) {
		return ExplicitAllow
	}
	return ExplicitDeny
}

// AccountBlocked implements account_blocked(acls, mode): in explicit-deny
// mode, true iff the blocked bit is set; in explicit-allow mode, true iff
// the blocked bit is clear.
func AccountBlocked(acls Set, mode Mode) bool {
	blocked := acls.Has(BitBlocked)
	if mode == ExplicitDeny {
		return blocked
	}
	return !blocked
}

// SelfChangeAllowed reports whether an account may flip an effective bit
// itself via MediatorACLManagement. Admin accounts bypass this check
// entirely at the caller.
func SelfChangeAllowed(acls Set, effective Bit) bool {
	self, ok := selfBitFor(effective)
	if !ok {
		return false
	}
	return acls.Has(self)
}

func selfBitFor(effective Bit) (Bit, bool) {
	switch effective {
	case BitAccessListMode:
		return BitAccessListModeSelf, true
	case BitSendMessages:
		return BitSendMessagesSelf, true
	case BitReceiveMessages:
		return BitReceiveMessagesSelf, true
	case BitSendForwarded:
		return BitSendForwardedSelf, true
	case BitReceiveForwarded:
		return BitReceiveForwardedSelf, true
	case BitCreateInvites:
		return BitCreateInvitesSelf, true
	case BitAnonReceive:
		return BitAnonReceiveSelf, true
	default:
		return 0, false
	}
}
