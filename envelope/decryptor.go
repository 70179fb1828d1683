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
	"encoding/json"
	"fmt"
	"unicode/utf8"

	sagecrypto "github.com/didcomm-mediator/mediator/crypto"
	"github.com/didcomm-mediator/mediator/crypto/formats"
	"github.com/didcomm-mediator/mediator/did"
)

// Secrets looks up the mediator's own private key-agreement material by
// kid (spec §4.3, "the secrets capability"). Recipient kids not owned by
// this mediator simply aren't found.
type Secrets interface {
	Lookup(ctx context.Context, kid string) (sagecrypto.KeyPair, bool)
}

// Policy bounds decryption: crypto_operations_per_message caps how many
// recipient secrets a single unpack attempt may try (spec §5 resource
// caps); ExpectDecryptByAllKeys selects between first-secret-wins (default)
// and require-every-secret-to-succeed (spec §4.3 policy).
type Policy struct {
	CryptoOperationsPerMessage int
	ExpectDecryptByAllKeys     bool
}

// Decryptor implements spec §4.3: try_unpack_authcrypt, try_unpack_anoncrypt,
// and the unpack dispatcher that tries both in order.
type Decryptor struct {
	Resolver did.Resolver
	Secrets  Secrets
	Policy   Policy
}

// Result is what a successful unpack produces.
type Result struct {
	Plaintext []byte
	Metadata  Metadata
}

// notApplicable signals "this alg isn't mine to handle" rather than a real
// failure, distinguishing it from genuine decryption errors.
type notApplicable struct{ reason string }

func (e notApplicable) Error() string { return e.reason }

// Unpack implements spec §4.3's unpack(parsed): try authcrypt, then
// anoncrypt, else Unsupported.
func (d *Decryptor) Unpack(ctx context.Context, me *MetaEnvelope) (*Result, error) {
	res, err := d.TryUnpackAuthcrypt(ctx, me)
	if err == nil {
		return res, nil
	}
	if _, ok := err.(notApplicable); !ok {
		return nil, err
	}

	res, err = d.TryUnpackAnoncrypt(ctx, me)
	if err == nil {
		return res, nil
	}
	if _, ok := err.(notApplicable); ok {
		return nil, newErr(KindUnsupported, "no applicable decryption profile for alg "+me.Parsed.Protected.Alg, nil)
	}
	return nil, err
}

// TryUnpackAuthcrypt implements spec §4.3's try_unpack_authcrypt.
func (d *Decryptor) TryUnpackAuthcrypt(ctx context.Context, me *MetaEnvelope) (*Result, error) {
	p := me.Parsed
	if p.Protected.Alg != "ECDH-1PU+A256KW" {
		return nil, notApplicable{"alg is not ECDH-1PU+A256KW"}
	}

	if p.Protected.APU != "" && me.FromKid == "" {
		if _, err := senderSide(ctx, p, me, d.Resolver); err != nil {
			return nil, err
		}
	}
	if me.FromKid == "" {
		return nil, newErr(KindMalformed, "authcrypt envelope has no sender kid", nil)
	}

	senderDID, _ := did.SplitKid(me.FromKid)
	senderDoc, err := d.Resolver.Resolve(ctx, did.DID(senderDID))
	if err != nil {
		return nil, newErr(KindDIDNotResolved, "failed to resolve sender did for authcrypt", err)
	}
	senderStaticPub, err := keyAgreementPublicKey(senderDoc, me.FromKid)
	if err != nil {
		return nil, err
	}

	epkPub, err := decodeEPK(p.Protected.Epk)
	if err != nil {
		return nil, newErr(KindMalformed, "invalid epk", err)
	}

	plaintext, metadata, err := d.unwrapAndDecrypt(ctx, me, func(recipientPriv sagecrypto.KeyPair) ([]byte, error) {
		kek, err := deriveKeyWrapKeyAuthcrypt(recipientPriv, epkPub, senderStaticPub, p.Protected.APU, p.Protected.APV)
		if err != nil {
			return nil, err
		}
		return kek, nil
	})
	if err != nil {
		return nil, err
	}

	metadata.EncAlgAuth = p.Protected.Enc
	metadata.Authenticated = true
	metadata.Encrypted = true
	metadata.EncryptedFromKid = me.FromKid
	return &Result{Plaintext: plaintext, Metadata: metadata}, nil
}

// TryUnpackAnoncrypt implements spec §4.3's try_unpack_anoncrypt.
func (d *Decryptor) TryUnpackAnoncrypt(ctx context.Context, me *MetaEnvelope) (*Result, error) {
	p := me.Parsed
	if p.Protected.Alg != "ECDH-ES+A256KW" {
		return nil, notApplicable{"alg is not ECDH-ES+A256KW"}
	}

	epkPub, err := decodeEPK(p.Protected.Epk)
	if err != nil {
		return nil, newErr(KindMalformed, "invalid epk", err)
	}

	plaintext, metadata, err := d.unwrapAndDecrypt(ctx, me, func(recipientPriv sagecrypto.KeyPair) ([]byte, error) {
		return deriveKeyWrapKeyAnoncrypt(recipientPriv, epkPub, p.Protected.APU, p.Protected.APV)
	})
	if err != nil {
		return nil, err
	}

	metadata.EncAlgAnon = p.Protected.Enc
	metadata.AnonymousSender = true
	return &Result{Plaintext: plaintext, Metadata: metadata}, nil
}

// unwrapAndDecrypt implements the shared tail of both profiles: iterate the
// envelope's recipient entries, derive a key-wrap key per entry via derive,
// unwrap the CEK, and decrypt the payload — honoring the crypto-operations
// budget and the expect-decrypt-by-all-keys policy (spec §4.3).
func (d *Decryptor) unwrapAndDecrypt(ctx context.Context, me *MetaEnvelope, derive func(sagecrypto.KeyPair) ([]byte, error)) ([]byte, Metadata, error) {
	p := me.Parsed
	limit := d.Policy.CryptoOperationsPerMessage
	ops := 0

	var plaintext []byte
	found := false

	for _, recipient := range p.Recipients {
		recipientPriv, ok := d.Secrets.Lookup(ctx, recipient.Kid)
		if !ok {
			continue
		}

		if limit > 0 && ops >= limit {
			return nil, Metadata{}, newErr(KindTooManyCryptoOperations, "crypto_operations_per_message exceeded", nil)
		}
		ops++

		kek, err := derive(recipientPriv)
		if err != nil {
			if d.Policy.ExpectDecryptByAllKeys {
				return nil, Metadata{}, newErr(KindMessageUnpackError, "key agreement failed for kid "+recipient.Kid, err)
			}
			continue
		}

		cek, err := aesKeyUnwrap(kek, recipient.EncryptedKey)
		if err != nil {
			if d.Policy.ExpectDecryptByAllKeys {
				return nil, Metadata{}, newErr(KindMessageUnpackError, "key unwrap failed for kid "+recipient.Kid, err)
			}
			continue
		}

		decryptFn, ok := contentDecryptors[p.Protected.Enc]
		if !ok {
			return nil, Metadata{}, newErr(KindUnsupported, "unsupported content encryption "+p.Protected.Enc, nil)
		}
		pt, err := decryptFn(cek, p.IV, p.Ciphertext, p.Tag, []byte(p.ProtectedB64))
		if err != nil {
			if d.Policy.ExpectDecryptByAllKeys {
				return nil, Metadata{}, newErr(KindMessageUnpackError, "decryption failed for kid "+recipient.Kid, err)
			}
			continue
		}

		if !d.Policy.ExpectDecryptByAllKeys {
			plaintext = pt
			found = true
			break
		}
		if plaintext == nil {
			plaintext = pt
		} else if string(plaintext) != string(pt) {
			return nil, Metadata{}, newErr(KindMessageUnpackError, "recipients disagree on plaintext", nil)
		}
		found = true
	}

	if !found {
		return nil, Metadata{}, newErr(KindSecretNotFound, "no recipient secret could decrypt this envelope", nil)
	}
	if !utf8.Valid(plaintext) {
		return nil, Metadata{}, newErr(KindMalformed, "decrypted plaintext is not valid utf-8", nil)
	}
	return plaintext, me.Metadata, nil
}

// keyAgreementPublicKey resolves a kid to a bare public key suitable for
// rawECDH — the public-key counterpart of did.KeyAgreementKeyPair.
func keyAgreementPublicKey(doc *did.Document, kid string) (interface{}, error) {
	kp, err := did.KeyAgreementKeyPair(doc, kid)
	if err != nil {
		if err == did.ErrDIDUrlNotFound {
			return nil, newErr(KindDIDUrlNotFound, "kid "+kid+" is not a key-agreement method", err)
		}
		return nil, newErr(KindMalformed, "failed to resolve key-agreement public key", err)
	}
	return kp.PublicKey(), nil
}

// decodeEPK converts the protected header's embedded JWK ephemeral public
// key into the concrete public key type rawECDH expects.
func decodeEPK(epk map[string]interface{}) (interface{}, error) {
	if epk == nil {
		return nil, fmt.Errorf("missing epk")
	}
	jwkBytes, err := json.Marshal(epk)
	if err != nil {
		return nil, err
	}
	return formats.NewJWKImporter().ImportPublic(jwkBytes, sagecrypto.KeyFormatJWK)
}
