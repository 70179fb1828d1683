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
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"

	sagecrypto "github.com/didcomm-mediator/mediator/crypto"
	"github.com/didcomm-mediator/mediator/crypto/formats"
	"github.com/didcomm-mediator/mediator/crypto/keys"
	"github.com/didcomm-mediator/mediator/did"
)

// ephemeralGenerators dispatches ephemeral key-pair generation by the
// recipient's key-agreement curve. Coverage mirrors forward's
// keyAgreementSupported (X25519, P-256, secp256k1): the three curve
// families the rest of this package already knows how to ECDH against.
var ephemeralGenerators = map[sagecrypto.KeyType]func() (sagecrypto.KeyPair, error){
	sagecrypto.KeyTypeX25519:    keys.GenerateX25519KeyPair,
	sagecrypto.KeyTypeP256:      keys.GenerateP256KeyPair,
	sagecrypto.KeyTypeSecp256k1: keys.GenerateSecp256k1KeyPair,
}

// Sealer packs a plaintext DIDComm message into a wire-ready anoncrypt (
// ECDH-ES+A256KW / A256GCM) envelope addressed to one recipient kid. It is
// the outbound counterpart of Decryptor.TryUnpackAnoncrypt: control-plane
// replies (trust-ping pongs, pickup deliveries) go out through Pack rather
// than as bare plaintext JSON, so the sender's identity is never implied by
// an unsealed body (spec §4.4, "MessagePackError").
//
// Pack only ever produces anoncrypt envelopes. Authcrypt (ECDH-1PU) would
// require the mediator's own static key-agreement secret, which this
// capability is never handed — a scoped limitation, not an oversight.
type Sealer struct {
	Resolver did.Resolver
}

// NewSealer constructs a Sealer bound to a DID resolver.
func NewSealer(resolver did.Resolver) *Sealer {
	return &Sealer{Resolver: resolver}
}

// Pack resolves toDID's key-agreement method (toKid narrows the choice when
// non-empty; otherwise the first method with a supported curve wins),
// generates a fresh ephemeral key pair on the matching curve, derives an
// ECDH-ES key-wrap key, and seals plaintext under A256GCM. The return value
// is the wire-ready JSON envelope body.
func (s *Sealer) Pack(ctx context.Context, plaintext []byte, toDID, toKid string) ([]byte, error) {
	doc, err := s.Resolver.Resolve(ctx, did.DID(toDID))
	if err != nil {
		return nil, newErr(KindDIDNotResolved, "resolve pack recipient "+toDID, err)
	}

	methods := doc.KeyAgreementMethods()
	if toKid != "" {
		filtered := methods[:0:0]
		for _, vm := range methods {
			if vm.ID == toKid {
				filtered = append(filtered, vm)
			}
		}
		methods = filtered
	}
	if len(methods) == 0 {
		return nil, newErr(KindDIDUrlNotFound, "pack recipient has no matching key-agreement method", nil)
	}

	var recipientKP sagecrypto.KeyPair
	var generate func() (sagecrypto.KeyPair, error)
	for _, vm := range methods {
		kp, err := did.KeyAgreementKeyPair(doc, vm.ID)
		if err != nil {
			continue
		}
		if gen, ok := ephemeralGenerators[kp.Type()]; ok {
			recipientKP, generate = kp, gen
			break
		}
	}
	if recipientKP == nil {
		return nil, newErr(KindNoCompatibleCrypto, "pack recipient has no supported key-agreement algorithm", nil)
	}

	ephemeral, err := generate()
	if err != nil {
		return nil, newErr(KindMessagePackError, "generate ephemeral key", err)
	}

	// rawECDH is symmetric: ECDH(ephemeral_priv, recipient_pub) equals
	// ECDH(recipient_priv, ephemeral_pub), so the unpack side's
	// deriveKeyWrapKeyAnoncrypt serves both directions unchanged.
	kek, err := deriveKeyWrapKeyAnoncrypt(ephemeral, recipientKP.PublicKey(), "", expectedAPV([]string{recipientKP.ID()}))
	if err != nil {
		return nil, newErr(KindMessagePackError, "derive key-wrap key", err)
	}

	cek := make([]byte, 32)
	if _, err := rand.Read(cek); err != nil {
		return nil, newErr(KindMessagePackError, "generate content encryption key", err)
	}
	encryptedKey, err := aesKeyWrap(kek, cek)
	if err != nil {
		return nil, newErr(KindMessagePackError, "wrap content encryption key", err)
	}

	epkJWKBytes, err := formats.NewJWKExporter().ExportPublic(ephemeral, sagecrypto.KeyFormatJWK)
	if err != nil {
		return nil, newErr(KindMessagePackError, "export ephemeral public key", err)
	}
	var epk map[string]interface{}
	if err := json.Unmarshal(epkJWKBytes, &epk); err != nil {
		return nil, newErr(KindMessagePackError, "decode ephemeral public key", err)
	}

	header := ProtectedHeader{
		Alg: "ECDH-ES+A256KW",
		Enc: "A256GCM",
		APV: expectedAPV([]string{recipientKP.ID()}),
		Epk: epk,
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return nil, newErr(KindMessagePackError, "marshal protected header", err)
	}
	protectedB64 := b64Encode(headerBytes)

	iv := make([]byte, 12)
	if _, err := rand.Read(iv); err != nil {
		return nil, newErr(KindMessagePackError, "generate iv", err)
	}
	sealed, err := encryptA256GCM(cek, iv, plaintext, []byte(protectedB64))
	if err != nil {
		return nil, newErr(KindMessagePackError, "encrypt content", err)
	}
	if len(sealed) < 16 {
		return nil, newErr(KindMessagePackError, "encrypt content: ciphertext too short", nil)
	}
	ciphertext, tag := sealed[:len(sealed)-16], sealed[len(sealed)-16:]

	wire := wireEnvelope{
		Protected: protectedB64,
		Recipients: []recipientWire{{
			Header:       recipientHeader{Kid: recipientKP.ID()},
			EncryptedKey: b64Encode(encryptedKey),
		}},
		IV:         b64Encode(iv),
		Ciphertext: b64Encode(ciphertext),
		Tag:        b64Encode(tag),
	}
	out, err := json.Marshal(wire)
	if err != nil {
		return nil, newErr(KindMessagePackError, "marshal envelope", err)
	}
	return out, nil
}

// encryptA256GCM is the encrypt-side counterpart of decryptA256GCM: it
// returns ciphertext with the 16-byte GCM tag appended, matching the layout
// aesgcm.Seal produces and decryptA256GCM expects to split back apart.
func encryptA256GCM(cek, iv, plaintext, aad []byte) ([]byte, error) {
	block, err := aes.NewCipher(cek)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(iv) != aead.NonceSize() {
		return nil, fmt.Errorf("a256gcm: iv must be %d bytes, got %d", aead.NonceSize(), len(iv))
	}
	return aead.Seal(nil, iv, plaintext, aad), nil
}
