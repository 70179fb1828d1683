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

package did

import (
	"crypto"
	"encoding/json"
	"fmt"

	sagecrypto "github.com/didcomm-mediator/mediator/crypto"
	"github.com/didcomm-mediator/mediator/crypto/formats"
)

// KeyAgreementKeyPair resolves the verification method named by kid in doc,
// requiring it to be listed in the document's keyAgreement set, and converts
// its JWK to a public-key-only crypto.KeyPair (spec §4.2 step 2: "must
// contain the kid as a key-agreement entry ... convert the method to a JWK
// and then to a key pair").
func KeyAgreementKeyPair(doc *Document, kid string) (sagecrypto.KeyPair, error) {
	if !doc.IsKeyAgreement(kid) {
		return nil, ErrDIDUrlNotFound
	}

	vm, ok := doc.VerificationMethodByID(kid)
	if !ok {
		return nil, ErrDIDUrlNotFound
	}

	if vm.PublicKeyJWK == nil {
		return nil, fmt.Errorf("%w: verification method %s has no publicKeyJwk", ErrMalformed, kid)
	}

	jwkBytes, err := json.Marshal(vm.PublicKeyJWK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	pub, err := formats.NewJWKImporter().ImportPublic(jwkBytes, sagecrypto.KeyFormatJWK)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	return publicKeyOnly{public: pub, id: kid, jwk: vm.PublicKeyJWK}, nil
}

// publicKeyOnly adapts a bare crypto.PublicKey (as returned by
// KeyImporter.ImportPublic) into a crypto.KeyPair with no signing or
// decryption capability — exactly what the pipeline needs for a resolved
// peer's key-agreement key, which the mediator never holds the private half
// of.
type publicKeyOnly struct {
	public crypto.PublicKey
	id     string
	jwk    map[string]interface{}
}

func (p publicKeyOnly) PublicKey() crypto.PublicKey   { return p.public }
func (p publicKeyOnly) PrivateKey() crypto.PrivateKey { return nil }
func (p publicKeyOnly) ID() string                    { return p.id }

func (p publicKeyOnly) Type() sagecrypto.KeyType {
	crv, _ := p.jwk["crv"].(string)
	switch crv {
	case "X25519":
		return sagecrypto.KeyTypeX25519
	case "P-256":
		return sagecrypto.KeyTypeP256
	case "secp256k1":
		return sagecrypto.KeyTypeSecp256k1
	case "Ed25519":
		return sagecrypto.KeyTypeEd25519
	default:
		return ""
	}
}

func (p publicKeyOnly) Sign(message []byte) ([]byte, error) {
	return nil, sagecrypto.ErrSignNotSupported
}

func (p publicKeyOnly) Verify(message, signature []byte) error {
	return sagecrypto.ErrVerifyNotSupported
}
