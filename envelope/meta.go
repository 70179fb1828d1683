// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package envelope

import (
	"context"
	"strings"

	sagecrypto "github.com/didcomm-mediator/mediator/crypto"
	"github.com/didcomm-mediator/mediator/did"
)

// BuildMetaEnvelope hydrates a Parsed envelope against resolver, producing a
// MetaEnvelope that owns everything it needs from here on — it never keeps
// a reference to resolver itself (design note: "cyclic references between
// envelope and DID document"; the arena-style lifetime is resolver-owns-doc,
// meta-envelope-owns-copy).
func BuildMetaEnvelope(ctx context.Context, p *Parsed, resolver did.Resolver) (*MetaEnvelope, sagecrypto.KeyPair, error) {
	me, err := recipientSide(p)
	if err != nil {
		return nil, nil, err
	}

	if p.Protected.APU == "" {
		me.Metadata.AnonymousSender = true
		return me, nil, nil
	}

	senderKeyPair, err := senderSide(ctx, p, me, resolver)
	if err != nil {
		return nil, nil, err
	}
	return me, senderKeyPair, nil
}

// recipientSide implements spec §4.2 step 1.
func recipientSide(p *Parsed) (*MetaEnvelope, error) {
	toKid := p.RecipientKids[0]
	toDID, frag := did.SplitKid(toKid)
	if frag == "" {
		return nil, newErr(KindMalformed, "recipient kid has no fragment", nil)
	}

	for _, kid := range p.RecipientKids[1:] {
		otherDID, otherFrag := did.SplitKid(kid)
		if otherDID != toDID || otherFrag == "" {
			return nil, newErr(KindMalformed, "all recipients must share the to-DID and carry a key-id fragment", nil)
		}
	}

	return &MetaEnvelope{Parsed: p, ToDID: toDID, ToKid: toKid}, nil
}

// senderSide implements spec §4.2 steps 2-3, resolving the sender DID and
// converting its key-agreement method to a usable KeyPair.
func senderSide(ctx context.Context, p *Parsed, me *MetaEnvelope, resolver did.Resolver) (sagecrypto.KeyPair, error) {
	apuDID, apuFrag := did.SplitKid(strings.TrimSpace(p.Protected.APU))
	if apuFrag == "" {
		return nil, newErr(KindMalformed, "apu has no key-id fragment", nil)
	}

	doc, err := resolver.Resolve(ctx, did.DID(apuDID))
	if err != nil {
		return nil, newErr(KindDIDNotResolved, "failed to resolve sender did "+apuDID, err)
	}

	senderKid := p.Protected.APU
	keyPair, err := did.KeyAgreementKeyPair(doc, senderKid)
	if err != nil {
		if err == did.ErrDIDUrlNotFound {
			return nil, newErr(KindDIDUrlNotFound, "sender kid "+senderKid+" is not a key-agreement method", err)
		}
		return nil, newErr(KindMalformed, "failed to convert sender verification method to a key pair", err)
	}

	me.FromKid = senderKid
	me.Metadata.Authenticated = true
	me.Metadata.Encrypted = true
	me.Metadata.EncryptedFromKid = senderKid
	return keyPair, nil
}
