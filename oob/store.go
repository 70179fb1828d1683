// Package oob implements out-of-band invitation discovery: a mediator
// operator (or an already-authenticated account, gated by the
// create-invites ACL bit) mints a short-lived invitation record that a new
// contact redeems to learn the mediator's own DID and routing endpoint,
// without first needing any DIDComm channel to ask over. Grounded on the
// original mediator's database/oob_discovery.rs: a single OOB_INVITES
// key-space (spec §6), not a DIDComm protocol message, since nothing in
// that source ever round-trips an invite through the dispatcher's
// classify/handle pipeline.
package oob

import (
	"context"
	"time"
)

// Invite is one out-of-band invitation record.
type Invite struct {
	ID        string
	FromDID   string    // the inviter's DID, included so a redeemer can address a reply
	Label     string    // human-readable, optional
	ExpiresAt time.Time // zero means no expiry
}

// Store is the OOB_INVITES capability: create, look up, and revoke
// invitations. Implementations expire entries on their own schedule (native
// TTL for RedisStore, a lazy check-on-read for MemoryStore); callers never
// need to sweep this store themselves the way they do msgstore.Store.
type Store interface {
	// CreateInvite mints a new invite and returns its id.
	CreateInvite(ctx context.Context, inv Invite) (string, error)

	// GetInvite returns the invite named by id, or ok=false if it does not
	// exist or has expired.
	GetInvite(ctx context.Context, id string) (inv Invite, ok bool, err error)

	// DeleteInvite revokes an invite before its natural expiry.
	DeleteInvite(ctx context.Context, id string) error
}
