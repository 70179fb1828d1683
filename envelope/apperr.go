package envelope

import (
	"errors"

	"github.com/didcomm-mediator/mediator/apperr"
)

// kindMap mirrors envelope.Kind onto the wire-level taxonomy so callers
// outside this package never need to know envelope.Kind exists.
var kindMap = map[Kind]apperr.Kind{
	KindMalformed:               apperr.KindMalformed,
	KindUnsupported:             apperr.KindUnsupported,
	KindDIDNotResolved:          apperr.KindDIDNotResolved,
	KindDIDUrlNotFound:          apperr.KindDIDUrlNotFound,
	KindSecretNotFound:          apperr.KindSecretNotFound,
	KindNoCompatibleCrypto:      apperr.KindNoCompatibleCrypto,
	KindTooManyCryptoOperations: apperr.KindTooManyCryptoOperations,
	KindMessageUnpackError:      apperr.KindMessageUnpackError,
	KindMessagePackError:        apperr.KindMessagePackError,
}

// ToAppErr converts an *envelope.Error (or any error wrapping one) into the
// shared *apperr.Error taxonomy. Errors that are not envelope errors come
// back as apperr.KindInternalError so callers always get a typed result.
func ToAppErr(err error) *apperr.Error {
	if err == nil {
		return nil
	}
	var e *Error
	if !errors.As(err, &e) {
		return apperr.Wrap(apperr.KindInternalError, "unexpected error", err)
	}
	kind, ok := kindMap[e.Kind]
	if !ok {
		kind = apperr.KindInternalError
	}
	return apperr.Wrap(kind, e.Reason, e.Err)
}
