package auth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/didcomm-mediator/mediator/apperr"
	"github.com/didcomm-mediator/mediator/did"
	"github.com/didcomm-mediator/mediator/dispatcher"
	"github.com/didcomm-mediator/mediator/envelope"
	"github.com/didcomm-mediator/mediator/session"
)

// Authenticator owns /challenge, /authenticate, and /authenticate/refresh.
type Authenticator struct {
	Sessions  *session.Manager
	Issuer    *session.TokenIssuer
	Decryptor *envelope.Decryptor
	Accounts  AccountIndex
}

// NewAuthenticator wires the pieces /authenticate needs: a session manager,
// a token issuer, the shared envelope decryptor, and the account index.
func NewAuthenticator(sessions *session.Manager, issuer *session.TokenIssuer, decryptor *envelope.Decryptor, accounts AccountIndex) *Authenticator {
	return &Authenticator{Sessions: sessions, Issuer: issuer, Decryptor: decryptor, Accounts: accounts}
}

// Challenge implements /challenge: create a random session id and
// challenge nonce for did, with a 15-minute TTL.
func (a *Authenticator) Challenge(did string) (*ChallengeResponse, error) {
	sessionID, challenge, err := a.Sessions.NewChallenge(did)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternalError, "create challenge", err)
	}
	return &ChallengeResponse{SessionID: sessionID, Challenge: challenge}, nil
}

// Authenticate implements /authenticate: unpack the envelope, validate the
// inner AffinidiAuthenticate message against the challenged session, and
// on success rotate the session and issue a token pair. Once the referenced
// session has been found, a failed state, sender, challenge, ACL or
// account-type check discards it, and a token-issuance failure discards the
// rotated session. Failures before the session is looked up (envelope,
// message type, expiry, body decoding) and a failure of the session
// manager's own Authenticate step leave the session in place.
func (a *Authenticator) Authenticate(ctx context.Context, raw []byte, resolver did.Resolver) (*AuthenticateResult, error) {
	parsed, err := envelope.Parse(raw)
	if err != nil {
		return nil, envelope.ToAppErr(err)
	}
	if err := envelope.VerifyDIDComm(parsed); err != nil {
		return nil, envelope.ToAppErr(err)
	}
	me, _, err := envelope.BuildMetaEnvelope(ctx, parsed, resolver)
	if err != nil {
		return nil, envelope.ToAppErr(err)
	}
	result, err := a.Decryptor.Unpack(ctx, me)
	if err != nil {
		return nil, envelope.ToAppErr(err)
	}
	return a.authenticatePlaintext(ctx, result.Metadata.Authenticated, result.Plaintext)
}

// authenticatePlaintext is the authenticate business logic once the
// envelope has been unpacked: it never touches raw wire bytes, which keeps
// it exercisable without a real JWE round trip.
func (a *Authenticator) authenticatePlaintext(ctx context.Context, authenticated bool, plaintext []byte) (*AuthenticateResult, error) {
	if !authenticated {
		return nil, apperr.New(apperr.KindSessionError, "authenticate requires an authcrypt envelope")
	}

	inner, err := dispatcher.ParseInner(plaintext)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindMalformed, "decode authenticate body", err)
	}
	if dispatcher.Classify(inner.Type) != dispatcher.TypeAffinidiAuthenticate {
		return nil, apperr.New(apperr.KindMalformed, "expected an AffinidiAuthenticate message")
	}
	now := time.Now()
	if inner.ExpiresTime == nil || *inner.ExpiresTime <= now.Unix() {
		return nil, apperr.New(apperr.KindMessageExpired, "authenticate message expired")
	}

	var body authenticateBody
	if err := json.Unmarshal(inner.Body, &body); err != nil {
		return nil, apperr.Wrap(apperr.KindMalformed, "decode authenticate body", err)
	}

	rec, ok := a.Sessions.Get(body.SessionID)
	if !ok {
		return nil, apperr.New(apperr.KindSessionError, "session not found or expired")
	}
	if rec.State != session.ChallengeSent {
		a.Sessions.Remove(body.SessionID)
		return nil, apperr.New(apperr.KindSessionError, "session is not awaiting a challenge response")
	}
	if inner.From != rec.DID {
		a.Sessions.Remove(body.SessionID)
		return nil, apperr.New(apperr.KindSessionError, "authenticated sender does not match the challenged DID")
	}
	if body.Challenge != rec.Challenge {
		a.Sessions.Remove(body.SessionID)
		return nil, apperr.New(apperr.KindSessionError, "challenge mismatch")
	}

	aclSet, err := a.Accounts.ACL(ctx, rec.DID)
	if err != nil {
		a.Sessions.Remove(body.SessionID)
		return nil, apperr.Wrap(apperr.KindDatabaseError, "resolve account ACL", err)
	}
	accountType, err := a.Accounts.AccountType(ctx, rec.DID)
	if err != nil {
		a.Sessions.Remove(body.SessionID)
		return nil, apperr.Wrap(apperr.KindDatabaseError, "resolve account type", err)
	}

	newRec, err := a.Sessions.Authenticate(body.SessionID, aclSet.Uint64())
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSessionError, "authenticate session", err)
	}
	a.Sessions.SetAccountType(newRec.ID, accountType)

	tokens, err := a.Issuer.IssuePair(newRec.ID)
	if err != nil {
		a.Sessions.Remove(newRec.ID)
		return nil, apperr.Wrap(apperr.KindInternalError, "issue token pair", err)
	}
	return &AuthenticateResult{SessionID: newRec.ID, Tokens: tokens}, nil
}

// Refresh implements /authenticate/refresh: a valid refresh token yields a
// fresh access token without extending the session's absolute lifetime.
func (a *Authenticator) Refresh(refreshToken string) (*AuthenticateResult, error) {
	tokens, sessionID, err := a.Issuer.RefreshAccess(refreshToken)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindSessionError, "invalid refresh token", err)
	}
	rec, ok := a.Sessions.Get(sessionID)
	if !ok || rec.State != session.Authenticated {
		return nil, apperr.New(apperr.KindSessionError, "session not found or not authenticated")
	}
	return &AuthenticateResult{SessionID: sessionID, Tokens: tokens}, nil
}
