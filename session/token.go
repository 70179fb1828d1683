package session

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenPair is the response shape for /authenticate and /authenticate/refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// claims carries the session id so an authenticated request can resolve it
// back to a Record without a second lookup table.
type claims struct {
	jwt.RegisteredClaims
	SessionID string `json:"sid"`
	Kind      string `json:"kind"` // "access" or "refresh"
}

// TokenIssuer signs and verifies access/refresh tokens with an EdDSA key,
// grounded on the same jwt.NewWithClaims/SignedString flow used elsewhere
// in the stack for service-to-service tokens.
type TokenIssuer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	kid  string
}

// NewTokenIssuer constructs an issuer from an Ed25519 signing key.
func NewTokenIssuer(priv ed25519.PrivateKey, kid string) *TokenIssuer {
	pub := priv.Public().(ed25519.PublicKey)
	return &TokenIssuer{priv: priv, pub: pub, kid: kid}
}

// IssuePair mints a fresh access+refresh token pair bound to a session id.
func (t *TokenIssuer) IssuePair(sessionID string) (TokenPair, error) {
	now := time.Now()
	access, accessExp, err := t.sign(sessionID, "access", now, AccessTokenTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access token: %w", err)
	}
	refresh, refreshExp, err := t.sign(sessionID, "refresh", now, SessionTTL)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// RefreshAccess validates a refresh token and mints a new access token. It
// does not extend the underlying session's absolute 24-hour lifetime.
func (t *TokenIssuer) RefreshAccess(refreshToken string) (TokenPair, string, error) {
	sessionID, kind, err := t.Parse(refreshToken)
	if err != nil {
		return TokenPair{}, "", fmt.Errorf("parse refresh token: %w", err)
	}
	if kind != "refresh" {
		return TokenPair{}, "", fmt.Errorf("token is not a refresh token")
	}
	now := time.Now()
	access, accessExp, err := t.sign(sessionID, "access", now, AccessTokenTTL)
	if err != nil {
		return TokenPair{}, "", fmt.Errorf("sign access token: %w", err)
	}
	return TokenPair{AccessToken: access, AccessExpiresAt: accessExp}, sessionID, nil
}

// Parse verifies a token's signature and expiry and returns the session id
// it is bound to plus its kind ("access" or "refresh").
func (t *TokenIssuer) Parse(token string) (sessionID, kind string, err error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(tok *jwt.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.pub, nil
	})
	if err != nil {
		return "", "", err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", "", fmt.Errorf("invalid token")
	}
	return c.SessionID, c.Kind, nil
}

func (t *TokenIssuer) sign(sessionID, kind string, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		SessionID: sessionID,
		Kind:      kind,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodEdDSA, c)
	tok.Header["kid"] = t.kid
	signed, err := tok.SignedString(t.priv)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}
