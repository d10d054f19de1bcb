// Package session issues and resolves the opaque tokens carried in the portal's
// auth cookie. Three backends share one interface: in-process memory, Redis and
// HMAC-signed JWTs.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

// TTL is the lifetime of every session token, matching the cookie max age.
const TTL = 7 * 24 * time.Hour

// ErrUnknownToken is returned by Validate for missing, expired or revoked tokens.
var ErrUnknownToken = errors.New("unknown session token")

// Tokens maps session tokens to account IDs.
type Tokens interface {
	Issue(ctx context.Context, accountID string) (string, error)
	Validate(ctx context.Context, token string) (string, error)
	// Revoke reports whether the token was live before the call.
	Revoke(ctx context.Context, token string) (bool, error)
}

// randomToken returns 32 random bytes, hex encoded.
func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
