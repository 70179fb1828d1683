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

// Package envelope implements the wire-level JWE envelope pipeline: parsing
// a packed DIDComm message, hydrating it against a DID resolver into a
// meta-envelope, and decrypting it under either the authcrypt (ECDH-1PU) or
// anoncrypt (ECDH-ES) profile.
package envelope

import "errors"

// Kind classifies a pipeline failure into one of the wire-level error
// categories. The HTTP layer maps Kind to a status code; the dispatcher maps
// it to a DIDComm report-problem/2.0 code.
type Kind string

const (
	KindMalformed               Kind = "Malformed"
	KindUnsupported             Kind = "Unsupported"
	KindDIDNotResolved          Kind = "DIDNotResolved"
	KindDIDUrlNotFound          Kind = "DIDUrlNotFound"
	KindSecretNotFound          Kind = "SecretNotFound"
	KindNoCompatibleCrypto      Kind = "NoCompatibleCrypto"
	KindTooManyCryptoOperations Kind = "TooManyCryptoOperations"
	KindMessageUnpackError      Kind = "MessageUnpackError"
	KindMessagePackError        Kind = "MessagePackError"
)

// Error is the pipeline's uniform error type: every stage returns one of
// these rather than an ad-hoc error, so the dispatcher can switch on Kind
// without string matching.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Reason + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

func newErr(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

// Is allows errors.Is(err, envelope.KindOf(envelope.KindMalformed)) style checks by comparing
// the Kind field rather than identity.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf reports the Kind sentinel so callers can construct comparison
// targets without building a full Error value.
func KindOf(kind Kind) error { return &Error{Kind: kind} }

// ProtectedHeader is the JWE protected header as the DIDComm profile shapes
// it (spec §6, "wire-level envelopes").
type ProtectedHeader struct {
	Alg  string                 `json:"alg"`
	Enc  string                 `json:"enc"`
	APV  string                 `json:"apv"`
	APU  string                 `json:"apu,omitempty"`
	Skid string                 `json:"skid,omitempty"`
	Epk  map[string]interface{} `json:"epk,omitempty"`
}

// Recipient is one entry of the JWE "recipients" array.
type Recipient struct {
	Header       map[string]interface{} `json:"header,omitempty"`
	Kid          string                  `json:"-"`
	EncryptedKey []byte                  `json:"-"`
}

// recipientWire is the JSON-on-the-wire shape of a Recipient (encrypted_key
// travels as unpadded base64url, not raw bytes).
type recipientWire struct {
	Header       recipientHeader `json:"header"`
	EncryptedKey string          `json:"encrypted_key"`
}

type recipientHeader struct {
	Kid string `json:"kid"`
}

// wireEnvelope is the JSON-on-the-wire shape of a packed JWE.
type wireEnvelope struct {
	Protected  string          `json:"protected"`
	Recipients []recipientWire `json:"recipients"`
	IV         string          `json:"iv"`
	Ciphertext string          `json:"ciphertext"`
	Tag        string          `json:"tag"`
	AAD        string          `json:"aad,omitempty"`
}

// Parsed is the structurally-validated, not-yet-decrypted envelope: raw
// bytes have been base64url-decoded and deserialized, but no cryptographic
// or DID-resolution work has happened yet.
type Parsed struct {
	Protected      ProtectedHeader
	ProtectedBytes []byte // the raw JSON bytes the protected header was decoded from (not used as AAD)
	ProtectedB64   string // the base64url string as it traveled on the wire, needed to recompute AAD
	Recipients     []Recipient
	IV             []byte
	Ciphertext     []byte
	Tag            []byte
	RecipientKids  []string // source order, as required by apv verification
}

// Metadata records what the pipeline learned while hydrating and decrypting
// an envelope (spec §4.2/§4.3).
type Metadata struct {
	Authenticated    bool
	Encrypted        bool
	AnonymousSender  bool
	EncryptedFromKid string
	EncAlgAuth       string
	EncAlgAnon       string
}

// MetaEnvelope is a Parsed envelope hydrated against a DID resolver: the
// recipient DID portion, and — for authcrypt — the resolved sender
// key-agreement key pair. It owns everything it references; it never holds
// onto the Resolver itself (design note: "cyclic references between
// envelope and DID document").
type MetaEnvelope struct {
	Parsed   *Parsed
	ToDID    string
	ToKid    string
	FromKid  string
	Metadata Metadata
}
