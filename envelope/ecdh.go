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
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	sagecrypto "github.com/didcomm-mediator/mediator/crypto"
)

// rawECDH computes the raw (unhashed) Diffie-Hellman shared secret between
// priv and pub. Three curve families are in play (spec §4.3): X25519 keys
// surface as *ecdh.PrivateKey/*ecdh.PublicKey; P-256 and secp256k1 both
// surface as *ecdsa.PrivateKey/*ecdsa.PublicKey (secp256k1KeyPair converts
// via ToECDSA(), and crypto/ecdsa's elliptic.Curve is enough to do the
// scalar multiplication for either curve without a second code path).
func rawECDH(priv sagecrypto.KeyPair, pubKey interface{}) ([]byte, error) {
	switch p := priv.PrivateKey().(type) {
	case *ecdh.PrivateKey:
		pub, ok := pubKey.(*ecdh.PublicKey)
		if !ok {
			return nil, fmt.Errorf("curve mismatch: expected *ecdh.PublicKey, got %T", pubKey)
		}
		return p.ECDH(pub)
	case *ecdsa.PrivateKey:
		pub, ok := pubKey.(*ecdsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("curve mismatch: expected *ecdsa.PublicKey, got %T", pubKey)
		}
		if p.Curve != pub.Curve {
			return nil, fmt.Errorf("curve mismatch: %s vs %s", p.Curve.Params().Name, pub.Curve.Params().Name)
		}
		x, _ := p.Curve.ScalarMult(pub.X, pub.Y, p.D.Bytes())
		size := (p.Curve.Params().BitSize + 7) / 8
		return x.FillBytes(make([]byte, size)), nil
	default:
		return nil, fmt.Errorf("unsupported private key type %T", p)
	}
}

// concatKDF implements NIST SP 800-56A's Concatenation KDF as profiled by
// RFC 7518 §4.6 for ECDH-ES/ECDH-1PU: SHA-256(counter || z || otherInfo),
// iterating the counter until keyLenBits worth of output key material is
// produced.
func concatKDF(z []byte, keyLenBits int, alg, apu, apv string) []byte {
	algID := lengthPrefixed([]byte(alg))
	partyU := lengthPrefixed([]byte(apu))
	partyV := lengthPrefixed([]byte(apv))
	suppPub := make([]byte, 4)
	binary.BigEndian.PutUint32(suppPub, uint32(keyLenBits))

	otherInfo := concatAll(algID, partyU, partyV, suppPub)

	keyLenBytes := keyLenBits / 8
	out := make([]byte, 0, keyLenBytes)
	for counter := uint32(1); len(out) < keyLenBytes; counter++ {
		h := sha256.New()
		var counterBytes [4]byte
		binary.BigEndian.PutUint32(counterBytes[:], counter)
		h.Write(counterBytes[:])
		h.Write(z)
		h.Write(otherInfo)
		out = append(out, h.Sum(nil)...)
	}
	return out[:keyLenBytes]
}

func lengthPrefixed(b []byte) []byte {
	out := make([]byte, 4+len(b))
	binary.BigEndian.PutUint32(out, uint32(len(b)))
	copy(out[4:], b)
	return out
}

func concatAll(parts ...[]byte) []byte {
	var total int
	for _, p := range parts {
		total += len(p)
	}
	out := make([]byte, 0, total)
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

// deriveKeyWrapKeyAnoncrypt implements the receive side of ECDH-ES key
// agreement (spec §4.3): the recipient's static private key against the
// sender's ephemeral public key (epk), concatKDF-derived with AlgorithmID
// "ECDH-ES+A256KW".
func deriveKeyWrapKeyAnoncrypt(recipientPriv sagecrypto.KeyPair, epkPub interface{}, apu, apv string) ([]byte, error) {
	z, err := rawECDH(recipientPriv, epkPub)
	if err != nil {
		return nil, err
	}
	return concatKDF(z, 256, "ECDH-ES+A256KW", apu, apv), nil
}

// deriveKeyWrapKeyAuthcrypt implements the receive side of ECDH-1PU key
// agreement (spec §4.3, "receive=true"): Z is the concatenation of the
// recipient-ephemeral and recipient-sender shared secrets (Ze || Zs, per
// draft-madden-jose-ecdh-1pu §3), fed through the same concatKDF. The
// "cc_tag" parameter the spec's capability signature mentions only applies
// to ECDH-1PU's direct-encryption mode; this mediator only ever uses
// ECDH-1PU+A256KW (key-wrapping mode), where cc_tag is not part of
// OtherInfo, so callers need not supply it.
func deriveKeyWrapKeyAuthcrypt(recipientPriv sagecrypto.KeyPair, epkPub, senderStaticPub interface{}, apu, apv string) ([]byte, error) {
	ze, err := rawECDH(recipientPriv, epkPub)
	if err != nil {
		return nil, err
	}
	zs, err := rawECDH(recipientPriv, senderStaticPub)
	if err != nil {
		return nil, err
	}
	z := append(append([]byte(nil), ze...), zs...)
	return concatKDF(z, 256, "ECDH-1PU+A256KW", apu, apv), nil
}
