// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package apperr defines the error taxonomy shared by every component that
// sits on the request path: each Kind doubles as an HTTP status and as a
// DIDComm report-problem code, so a single value travels from deep storage
// or crypto code all the way out to the wire.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is one of the closed set of error categories a request can fail with.
type Kind string

const (
	KindMalformed               Kind = "Malformed"
	KindUnsupported             Kind = "Unsupported"
	KindDIDNotResolved          Kind = "DIDNotResolved"
	KindDIDUrlNotFound          Kind = "DIDUrlNotFound"
	KindSecretNotFound          Kind = "SecretNotFound"
	KindNoCompatibleCrypto      Kind = "NoCompatibleCrypto"
	KindTooManyCryptoOperations Kind = "TooManyCryptoOperations"
	KindMessageExpired          Kind = "MessageExpired"
	KindMessagePackError        Kind = "MessagePackError"
	KindMessageUnpackError      Kind = "MessageUnpackError"
	KindSessionError            Kind = "SessionError"
	KindACLDenied               Kind = "ACLDenied"
	KindPermissionError         Kind = "PermissionError"
	KindServiceLimitError       Kind = "ServiceLimitError"
	KindDatabaseError           Kind = "DatabaseError"
	KindInternalError           Kind = "InternalError"
)

// httpStatus mirrors the Kind -> HTTP status mapping.
var httpStatus = map[Kind]int{
	KindMalformed:               http.StatusBadRequest,
	KindUnsupported:             http.StatusBadRequest,
	KindDIDNotResolved:          http.StatusBadRequest,
	KindDIDUrlNotFound:          http.StatusBadRequest,
	KindSecretNotFound:          http.StatusBadRequest,
	KindNoCompatibleCrypto:      http.StatusBadRequest,
	KindTooManyCryptoOperations: http.StatusBadRequest,
	KindMessageExpired:          http.StatusUnprocessableEntity,
	KindMessagePackError:        http.StatusInternalServerError,
	KindMessageUnpackError:      http.StatusBadRequest,
	KindSessionError:            http.StatusUnauthorized,
	KindACLDenied:               http.StatusForbidden,
	KindPermissionError:         http.StatusForbidden,
	KindServiceLimitError:       http.StatusTooManyRequests,
	KindDatabaseError:           http.StatusServiceUnavailable,
	KindInternalError:           http.StatusInternalServerError,
}

// problemCode mirrors the Kind -> DIDComm report-problem/2.0 code mapping.
var problemCode = map[Kind]string{
	KindMalformed:               "invalid_request",
	KindUnsupported:             "invalid_request",
	KindDIDNotResolved:          "invalid_request",
	KindDIDUrlNotFound:          "invalid_request",
	KindSecretNotFound:          "invalid_request",
	KindNoCompatibleCrypto:      "invalid_request",
	KindTooManyCryptoOperations: "invalid_request",
	KindMessageExpired:          "message_expired",
	KindMessagePackError:        "internal_error",
	KindMessageUnpackError:      "invalid_request",
	KindSessionError:            "unauthorized",
	KindACLDenied:               "unauthorized",
	KindPermissionError:         "unauthorized",
	KindServiceLimitError:       "database_error",
	KindDatabaseError:           "database_error",
	KindInternalError:           "internal_error",
}

// Error is the uniform error value carried from capability calls up to the
// HTTP and DIDComm surfaces, with an optional session id for correlation.
type Error struct {
	Kind      Kind
	Reason    string
	SessionID string
	Err       error
}

func New(kind Kind, reason string) *Error {
	return &Error{Kind: kind, Reason: reason}
}

func Wrap(kind Kind, reason string, err error) *Error {
	return &Error{Kind: kind, Reason: reason, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// WithSession returns a copy of e carrying the given session id, for
// correlating the eventual HTTP/problem-report surface with server logs.
func (e *Error) WithSession(sessionID string) *Error {
	cp := *e
	cp.SessionID = sessionID
	return &cp
}

// HTTPStatus returns the wire-level status code for kind.
func HTTPStatus(kind Kind) int {
	if s, ok := httpStatus[kind]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// ProblemCode returns the DIDComm report-problem/2.0 code for kind.
func ProblemCode(kind Kind) string {
	if c, ok := problemCode[kind]; ok {
		return c
	}
	return "internal_error"
}

// Of reports the Kind of err when it is (or wraps) an *Error, and ok=false
// otherwise.
func Of(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	k, ok := Of(err)
	return ok && k == kind
}
