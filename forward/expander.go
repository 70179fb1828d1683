// Package forward implements the forward-message expander: given a
// `next` DID and an already-encrypted ciphertext, it resolves the
// recipient's key-agreement keys, applies the ACL, and fans the ciphertext
// out into one queue entry per surviving kid. It implements
// dispatcher.Forwarder so the dispatcher never needs to import it directly.
package forward

import (
	"context"
	"time"

	"github.com/didcomm-mediator/mediator/acl"
	"github.com/didcomm-mediator/mediator/apperr"
	sagecrypto "github.com/didcomm-mediator/mediator/crypto"
	"github.com/didcomm-mediator/mediator/did"
	"github.com/didcomm-mediator/mediator/dispatcher"
	"github.com/didcomm-mediator/mediator/msgstore"
)

// ACLProvider resolves the ACL bitfield and access list a DID hash owns.
// Identical shape to dispatcher.ACLProvider; declared separately so this
// package does not need to import dispatcher for anything but its request
// types.
type ACLProvider interface {
	Get(ctx context.Context, didHash string) (acl.Set, error)
	AccessList(ctx context.Context, didHash string) (*acl.List, error)
}

// Expander implements dispatcher.Forwarder.
type Expander struct {
	Resolver         did.Resolver
	Store            msgstore.Store
	ACLs             ACLProvider
	MaxRecipientKeys int           // 0 means unlimited
	MessageExpiry    time.Duration // upper bound on a forwarded entry's lifetime
}

var _ dispatcher.Forwarder = (*Expander)(nil)

// keyAgreementSupported reports whether a key type can serve as a DIDComm
// key-agreement key. This mirrors envelope/ecdh.go's actual curve dispatch
// (X25519, P-256, secp256k1 all support ECDH) rather than
// crypto.GetAlgorithmInfo's SupportsEncryption flag, which the teacher pack
// only ever set for X25519 — a pre-existing gap in the registry that this
// package does not propagate into its own notion of "supported."
func keyAgreementSupported(kt sagecrypto.KeyType) bool {
	switch kt {
	case sagecrypto.KeyTypeX25519, sagecrypto.KeyTypeP256, sagecrypto.KeyTypeSecp256k1:
		return true
	default:
		return false
	}
}

// Forward implements spec §4.5's steps.
func (e *Expander) Forward(ctx context.Context, in dispatcher.ForwardInput) error {
	nextDID := did.DID(in.Next)
	doc, err := e.Resolver.Resolve(ctx, nextDID)
	if err != nil {
		return apperr.Wrap(apperr.KindDIDNotResolved, "resolve forward recipient", err)
	}

	methods := doc.KeyAgreementMethods()
	if in.NextKid != "" {
		methods = filterByID(methods, in.NextKid)
	}
	if len(methods) == 0 {
		return apperr.New(apperr.KindDIDUrlNotFound, "forward recipient has no key-agreement keys")
	}
	if e.MaxRecipientKeys > 0 && len(methods) > e.MaxRecipientKeys {
		return apperr.New(apperr.KindTooManyCryptoOperations, "forward recipient key-agreement set exceeds the configured limit")
	}

	var chosenType sagecrypto.KeyType
	var chosen []did.VerificationMethod
	for _, vm := range methods {
		kp, err := did.KeyAgreementKeyPair(doc, vm.ID)
		if err != nil {
			continue // external/unresolvable key: skip, not a hard failure for the set as a whole
		}
		if !keyAgreementSupported(kp.Type()) {
			continue
		}
		if chosenType == "" {
			chosenType = kp.Type()
		}
		if kp.Type() == chosenType {
			chosen = append(chosen, vm)
		}
	}
	if len(chosen) == 0 {
		return apperr.New(apperr.KindUnsupported, "forward recipient has no supported key-agreement algorithm")
	}

	toHash := nextDID.Hash()
	list, err := e.ACLs.AccessList(ctx, toHash)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "load recipient access list", err)
	}
	recipientACL, err := e.ACLs.Get(ctx, toHash)
	if err != nil {
		return apperr.Wrap(apperr.KindDatabaseError, "load recipient acl", err)
	}
	if !acl.Allowed(list, recipientACL, in.FromHash) {
		return apperr.New(apperr.KindACLDenied, "forward recipient's access list rejects this sender")
	}

	expiresAt := forwardExpiry(in.ExpiresTime, e.MessageExpiry)
	for range chosen {
		if _, err := e.Store.Store(ctx, in.Ciphertext, toHash, in.FromHash, expiresAt); err != nil {
			return err
		}
	}
	return nil
}

func forwardExpiry(envelopeExpiresUnix int64, messageExpiry time.Duration) time.Time {
	envelopeExp := time.Unix(envelopeExpiresUnix, 0)
	if messageExpiry <= 0 {
		return envelopeExp
	}
	capped := time.Now().Add(messageExpiry)
	if capped.Before(envelopeExp) {
		return capped
	}
	return envelopeExp
}

func filterByID(methods []did.VerificationMethod, id string) []did.VerificationMethod {
	_, frag := did.SplitKid(id)
	out := make([]did.VerificationMethod, 0, 1)
	for _, vm := range methods {
		if vm.ID == id {
			out = append(out, vm)
			continue
		}
		if frag != "" {
			if _, vmFrag := did.SplitKid(vm.ID); vmFrag == frag {
				out = append(out, vm)
			}
		}
	}
	return out
}
