// Package token implements the bearer tokens the gateway accepts during
// identification: a compact base64url(JSON claims) + HMAC-SHA256
// signature pair minted by the REST layer at login. The format is small
// enough that no JWT library is needed for this constrained use case.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/parleyhq/parley/errors"
	"github.com/parleyhq/parley/types"
)

// claims is the signed wire payload. ExpiresAt is a Unix timestamp.
type claims struct {
	UserID    string `json:"uid"`
	SessionID string `json:"sid"`
	ExpiresAt int64  `json:"exp"`
}

// Signer mints tokens. It exists for the dev binary and tests; in
// production the REST layer holds the signing key.
type Signer struct {
	secret []byte
}

// NewSigner creates a signer from a shared secret
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign mints a token for the given user and session ids with the given
// time-to-live.
func (s *Signer) Sign(userID, sessionID string, ttl time.Duration) (string, error) {
	c := claims{
		UserID:    userID,
		SessionID: sessionID,
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return "", errors.WrapInvalid(err, "Signer", "Sign", "marshal claims")
	}

	encoded := base64.RawURLEncoding.EncodeToString(payload)
	return encoded + "." + sign(s.secret, encoded), nil
}

// Verifier validates tokens against the shared secret.
// It implements types.TokenVerifier.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a verifier from a shared secret
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Verify checks the token signature and expiry and recovers its claims.
// All failures are auth-classified: missing, malformed, forged, and
// expired tokens are indistinguishable to the connection being closed.
func (v *Verifier) Verify(tok string) (types.Claims, error) {
	if tok == "" {
		return types.Claims{}, errors.WrapAuth(errors.ErrTokenMissing, "Verifier", "Verify", "token presence check")
	}

	encoded, signature, ok := strings.Cut(tok, ".")
	if !ok {
		return types.Claims{}, errors.WrapAuth(errors.ErrTokenInvalid, "Verifier", "Verify", "token format check")
	}

	expected := sign(v.secret, encoded)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return types.Claims{}, errors.WrapAuth(errors.ErrTokenInvalid, "Verifier", "Verify", "signature check")
	}

	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return types.Claims{}, errors.WrapAuth(errors.ErrTokenInvalid, "Verifier", "Verify", "payload decode")
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil {
		return types.Claims{}, errors.WrapAuth(errors.ErrTokenInvalid, "Verifier", "Verify", "claims decode")
	}

	if c.UserID == "" || c.SessionID == "" {
		return types.Claims{}, errors.WrapAuth(errors.ErrTokenInvalid, "Verifier", "Verify", "claims completeness check")
	}

	if time.Now().Unix() >= c.ExpiresAt {
		return types.Claims{}, errors.WrapAuth(errors.ErrTokenExpired, "Verifier", "Verify", "expiry check")
	}

	return types.Claims{UserID: c.UserID, SessionID: c.SessionID}, nil
}

// sign computes the base64url HMAC-SHA256 of the encoded payload
func sign(secret []byte, encoded string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encoded))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
