package auth

import (
	"context"
	"sync"

	"github.com/didcomm-mediator/mediator/acl"
	"github.com/didcomm-mediator/mediator/apperr"
	"github.com/didcomm-mediator/mediator/did"
	"github.com/didcomm-mediator/mediator/session"
)

var _ AccountIndex = (*MemoryAccountIndex)(nil)

// MemoryAccountIndex is an in-process AccountIndex keyed by DID, with a
// root admin DID that is always privileged, and a root admin DID and
// mediator DID that are both never demotable or removable, matching the ACL engine's "root-admin ...
// never removable" invariant. It also satisfies dispatcher.ACLProvider,
// dispatcher.AccountIndex, forward.ACLProvider, and wsworker.ACLProvider,
// so one instance is the single account/ACL authority the mediator wires
// into every component that needs one.
type MemoryAccountIndex struct {
	mu sync.RWMutex

	rootAdmin   string
	mediatorDID string

	admins    map[string]struct{}    // raw DID -> admin
	acls      map[string]acl.Set     // DID hash -> per-account ACL
	lists     map[string]*acl.List   // DID hash -> access list
	knownDIDs map[string]string      // DID hash -> raw DID (spec §6 KNOWN_DIDS)
	globalACL acl.Set
}

// NewMemoryAccountIndex seeds the index with the root admin DID and the
// mediator's own DID (spec §4.8/§6's first-run ADMINS/KNOWN_DIDS
// bootstrapping): both are recorded in KNOWN_DIDS immediately and neither
// is ever removable.
func NewMemoryAccountIndex(rootAdminDID, mediatorDID string) *MemoryAccountIndex {
	m := &MemoryAccountIndex{
		rootAdmin:   rootAdminDID,
		mediatorDID: mediatorDID,
		admins:      make(map[string]struct{}),
		acls:        make(map[string]acl.Set),
		lists:       make(map[string]*acl.List),
		knownDIDs:   make(map[string]string),
		globalACL:   acl.NewSet(),
	}
	m.remember(rootAdminDID)
	m.remember(mediatorDID)
	return m
}

// remember records a raw DID against its hash in KNOWN_DIDS. Called
// whenever a DID passes through the index so that hash-keyed operations
// (driven by request-path code, which only ever carries hashes) can be
// resolved back to the raw DID admins/ is keyed by.
func (m *MemoryAccountIndex) remember(d string) {
	if d == "" {
		return
	}
	m.knownDIDs[did.DID(d).Hash()] = d
}

func (m *MemoryAccountIndex) isProtected(d string) bool {
	return d == m.rootAdmin || d == m.mediatorDID
}

func (m *MemoryAccountIndex) isProtectedHash(hash string) bool {
	return hash == did.DID(m.rootAdmin).Hash() || hash == did.DID(m.mediatorDID).Hash()
}

func (m *MemoryAccountIndex) AccountType(ctx context.Context, d string) (session.AccountType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remember(d)
	if d == m.rootAdmin {
		return session.RootAdmin, nil
	}
	if _, ok := m.admins[d]; ok {
		return session.Admin, nil
	}
	return session.Standard, nil
}

// ACL implements auth.AccountIndex: d is the full DID, as carried by a
// session.Record at authentication time.
func (m *MemoryAccountIndex) ACL(ctx context.Context, d string) (acl.Set, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remember(d)
	hash := did.DID(d).Hash()
	if set, ok := m.acls[hash]; ok {
		return m.globalACL.Union(set), nil
	}
	return m.globalACL, nil
}

// Get implements dispatcher.ACLProvider/forward.ACLProvider/
// wsworker.ACLProvider: unlike ACL, didHash here is already the resolved
// hash request-path code carries, never the bare DID. The mediator-wide
// global ACL is unioned in underneath the per-account set (spec §4,
// "global vs per-account ACL").
func (m *MemoryAccountIndex) Get(ctx context.Context, didHash string) (acl.Set, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	set, ok := m.acls[didHash]
	if !ok {
		return m.globalACL, nil
	}
	return m.globalACL.Union(set), nil
}

// AccessList implements dispatcher.ACLProvider/forward.ACLProvider: a
// didHash with no configured list returns nil, which acl.Allowed treats as
// explicit-deny-with-an-empty-list (allow everyone).
func (m *MemoryAccountIndex) AccessList(ctx context.Context, didHash string) (*acl.List, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lists[didHash], nil
}

// SetAccessList replaces the access list a DID hash owns.
func (m *MemoryAccountIndex) SetAccessList(didHash string, list *acl.List) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lists[didHash] = list
}

// GlobalACL returns the mediator-wide default ACL applied underneath every
// account's own set.
func (m *MemoryAccountIndex) GlobalACL() acl.Set {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.globalACL
}

// SetGlobalACL replaces the mediator-wide default ACL.
func (m *MemoryAccountIndex) SetGlobalACL(set acl.Set) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globalACL = set
}

// SetACL stores the ACL bitfield for a DID, keyed by its hash.
func (m *MemoryAccountIndex) SetACL(d string, set acl.Set) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remember(d)
	m.acls[did.DID(d).Hash()] = set
}

// SetACLBit implements dispatcher.AccountIndex: flip a single bit in the
// per-account ACL named by didHash, defaulting to an all-clear set when the
// account has never had a bit set before.
func (m *MemoryAccountIndex) SetACLBit(ctx context.Context, didHash string, bit acl.Bit, value bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.acls[didHash]
	if !ok {
		set = acl.NewSet()
	}
	if value {
		set = set.Set(bit)
	} else {
		set = set.Clear(bit)
	}
	m.acls[didHash] = set
	return nil
}

// RemoveAccount implements dispatcher.AccountIndex: AccountRemove from
// spec §4.8, refusing to ever target the root admin or the mediator's own
// account hash.
func (m *MemoryAccountIndex) RemoveAccount(ctx context.Context, didHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isProtectedHash(didHash) {
		return apperr.New(apperr.KindPermissionError, "root-admin and the mediator's own account may not be removed")
	}
	if rawDID, ok := m.knownDIDs[didHash]; ok {
		delete(m.admins, rawDID)
	}
	delete(m.acls, didHash)
	delete(m.lists, didHash)
	delete(m.knownDIDs, didHash)
	return nil
}

// PromoteAdmin grants admin privilege to a DID. Has no effect on the root
// admin, which is always privileged.
func (m *MemoryAccountIndex) PromoteAdmin(d string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remember(d)
	m.admins[d] = struct{}{}
}

// RemoveAdmin revokes admin privilege, refusing to demote the root admin
// or the mediator's own account.
func (m *MemoryAccountIndex) RemoveAdmin(d string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isProtected(d) {
		return false
	}
	delete(m.admins, d)
	return true
}

// PromoteAdminByHash implements dispatcher.AccountIndex: the hash-keyed
// counterpart of PromoteAdmin, resolving didHash back to a raw DID via
// KNOWN_DIDS. A hash the index has never seen cannot be promoted — it must
// first authenticate (or be named as an access-list/forward target) so its
// raw DID is on record.
func (m *MemoryAccountIndex) PromoteAdminByHash(ctx context.Context, didHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rawDID, ok := m.knownDIDs[didHash]
	if !ok {
		return apperr.New(apperr.KindMalformed, "unknown did hash: account has never been seen")
	}
	m.admins[rawDID] = struct{}{}
	return nil
}

// DemoteAdminByHash implements dispatcher.AccountIndex: the hash-keyed
// counterpart of RemoveAdmin.
func (m *MemoryAccountIndex) DemoteAdminByHash(ctx context.Context, didHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isProtectedHash(didHash) {
		return apperr.New(apperr.KindPermissionError, "root-admin and the mediator's own account may not be demoted")
	}
	if rawDID, ok := m.knownDIDs[didHash]; ok {
		delete(m.admins, rawDID)
	}
	return nil
}
