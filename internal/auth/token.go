// Package auth provides HMAC-signed bearer tokens and the role policy used
// to authorize admin operations.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opwisdom/wisdomd/internal/domain"
)

// TokenIssuer mints and verifies bearer tokens of the form
//
//	base64url(userID) "." expiryUnix "." base64url(HMAC-SHA256(secret, userID+"."+expiryUnix))
//
// The token carries no roles; role resolution happens against the policy at
// request time so revoking admin takes effect immediately.
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer returns a TokenIssuer signing with secret. Tokens expire
// after ttl.
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue returns a signed token for userID.
func (t *TokenIssuer) Issue(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("auth: user id must not be empty")
	}
	exp := t.now().Add(t.ttl).Unix()
	return t.issueAt(userID, exp), nil
}

func (t *TokenIssuer) issueAt(userID string, expUnix int64) string {
	uid := base64.RawURLEncoding.EncodeToString([]byte(userID))
	exp := strconv.FormatInt(expUnix, 10)
	sig := t.sign(uid + "." + exp)
	return uid + "." + exp + "." + sig
}

// Verify checks the token signature and expiry and returns the embedded
// user id. Invalid or expired tokens return domain.ErrInvalidSignature.
func (t *TokenIssuer) Verify(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", domain.ErrInvalidSignature
	}
	uid, exp, sig := parts[0], parts[1], parts[2]

	want := t.sign(uid + "." + exp)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", domain.ErrInvalidSignature
	}

	expUnix, err := strconv.ParseInt(exp, 10, 64)
	if err != nil || t.now().Unix() > expUnix {
		return "", domain.ErrInvalidSignature
	}

	raw, err := base64.RawURLEncoding.DecodeString(uid)
	if err != nil || len(raw) == 0 {
		return "", domain.ErrInvalidSignature
	}
	return string(raw), nil
}

// sign computes HMAC-SHA256 over message and returns it base64url-encoded.
func (t *TokenIssuer) sign(message string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(message))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (t *TokenIssuer) String() string {
	return fmt.Sprintf("TokenIssuer{secret=****, ttl=%s}", t.ttl)
}
