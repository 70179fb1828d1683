// Package auth implements the mediator's session/challenge authenticator:
// /challenge, /authenticate, and /authenticate/refresh. Unlike dispatcher,
// which only ever sees already-authenticated traffic, this package owns the
// one entry point that turns a resolved DID into a session.
package auth

import (
	"context"

	"github.com/didcomm-mediator/mediator/acl"
	"github.com/didcomm-mediator/mediator/session"
)

// AccountIndex resolves the privilege tier and cached ACL a DID carries,
// independent of any single session.
type AccountIndex interface {
	AccountType(ctx context.Context, did string) (session.AccountType, error)
	ACL(ctx context.Context, did string) (acl.Set, error)
}

// authenticateBody is the body of an AffinidiAuthenticate message: the
// session id and challenge nonce the client received from /challenge,
// proven by virtue of being authcrypt-sealed under the challenged DID.
type authenticateBody struct {
	SessionID string `json:"session_id"`
	Challenge string `json:"challenge"`
}

// ChallengeResponse is the reply shape for /challenge.
type ChallengeResponse struct {
	SessionID string `json:"session_id"`
	Challenge string `json:"challenge"`
}

// AuthenticateResult is the reply shape for a successful /authenticate or
// /authenticate/refresh.
type AuthenticateResult struct {
	SessionID string
	Tokens    session.TokenPair
}
