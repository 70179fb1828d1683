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
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// b64 decodes unpadded or padded base64url, as the wire format tolerates
// both on input (spec §4.1 edge cases) but only ever emits unpadded.
func b64Decode(s string) ([]byte, error) {
	if m := len(s) % 4; m != 0 {
		s += strings.Repeat("=", 4-m)
	}
	return base64.URLEncoding.DecodeString(s)
}

func b64Encode(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

// Parse base64url-decodes and deserializes a packed envelope into a Parsed
// value (spec §4.1). It performs no cryptographic or DID work.
func Parse(raw []byte) (*Parsed, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, newErr(KindMalformed, "invalid envelope JSON", err)
	}
	if wire.Protected == "" {
		return nil, newErr(KindMalformed, "missing protected header", nil)
	}

	protectedBytes, err := b64Decode(wire.Protected)
	if err != nil {
		return nil, newErr(KindMalformed, "protected header is not valid base64url", err)
	}

	var hdr ProtectedHeader
	if err := json.Unmarshal(protectedBytes, &hdr); err != nil {
		return nil, newErr(KindMalformed, "protected header is not valid JSON", err)
	}
	if hdr.APV == "" {
		return nil, newErr(KindMalformed, "protected header missing apv", nil)
	}

	if len(wire.Recipients) == 0 {
		return nil, newErr(KindMalformed, "envelope has no recipients", nil)
	}

	recipients := make([]Recipient, 0, len(wire.Recipients))
	kids := make([]string, 0, len(wire.Recipients))
	for i, r := range wire.Recipients {
		if r.Header.Kid == "" {
			return nil, newErr(KindMalformed, fmt.Sprintf("recipient %d missing kid", i), nil)
		}
		encKey, err := b64Decode(r.EncryptedKey)
		if err != nil {
			return nil, newErr(KindMalformed, fmt.Sprintf("recipient %d encrypted_key is not valid base64url", i), err)
		}
		recipients = append(recipients, Recipient{Kid: r.Header.Kid, EncryptedKey: encKey})
		kids = append(kids, r.Header.Kid)
	}

	iv, err := b64Decode(wire.IV)
	if err != nil {
		return nil, newErr(KindMalformed, "iv is not valid base64url", err)
	}
	ciphertext, err := b64Decode(wire.Ciphertext)
	if err != nil {
		return nil, newErr(KindMalformed, "ciphertext is not valid base64url", err)
	}
	tag, err := b64Decode(wire.Tag)
	if err != nil {
		return nil, newErr(KindMalformed, "tag is not valid base64url", err)
	}

	return &Parsed{
		Protected:      hdr,
		ProtectedBytes: protectedBytes,
		ProtectedB64:   wire.Protected,
		Recipients:     recipients,
		IV:             iv,
		Ciphertext:     ciphertext,
		Tag:            tag,
		RecipientKids:  kids,
	}, nil
}

// expectedAPV computes SHA-256(sort(kids).join(".")) base64url-unpadded, the
// DIDComm profile's binding of apv to the recipient set (glossary, invariant 1).
func expectedAPV(kids []string) string {
	sorted := append([]string(nil), kids...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, ".")))
	return b64Encode(sum[:])
}

// VerifyDIDComm checks invariant 1: apv must equal SHA-256(sort(kids).join("."))
// and, when skid is present, apu must equal skid (spec §4.1, §8 invariant 1).
func VerifyDIDComm(p *Parsed) error {
	if p.Protected.APV != expectedAPV(p.RecipientKids) {
		return newErr(KindMalformed, "apv does not match sha256 of sorted recipient kids", nil)
	}
	if p.Protected.Skid != "" && p.Protected.APU != p.Protected.Skid {
		return newErr(KindMalformed, "apu does not match skid", nil)
	}
	return nil
}
