package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const jwtIssuer = "app-portal"

// JWTTokens issues HS256-signed tokens. Validation is stateless apart from a
// denylist of revoked token IDs, kept until each token would have expired.
type JWTTokens struct {
	secret []byte
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

var _ Tokens = (*JWTTokens)(nil)

// NewJWTTokens creates a signer. The secret must not be empty.
func NewJWTTokens(secret []byte) (*JWTTokens, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt session secret is empty")
	}
	return &JWTTokens{secret: secret, now: time.Now, revoked: make(map[string]time.Time)}, nil
}

func (j *JWTTokens) Issue(_ context.Context, accountID string) (string, error) {
	now := j.now()
	claims := jwt.RegisteredClaims{
		Issuer:    jwtIssuer,
		Subject:   accountID,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(TTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func (j *JWTTokens) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(jwtIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (j *JWTTokens) Validate(_ context.Context, token string) (string, error) {
	claims, err := j.parse(token)
	if err != nil || claims.Subject == "" {
		return "", ErrUnknownToken
	}

	j.mu.Lock()
	_, revoked := j.revoked[claims.ID]
	j.mu.Unlock()
	if revoked {
		return "", ErrUnknownToken
	}
	return claims.Subject, nil
}

func (j *JWTTokens) Revoke(_ context.Context, token string) (bool, error) {
	claims, err := j.parse(token)
	if err != nil {
		return false, nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.pruneLocked()
	if _, ok := j.revoked[claims.ID]; ok {
		return false, nil
	}
	j.revoked[claims.ID] = claims.ExpiresAt.Time
	return true, nil
}

func (j *JWTTokens) pruneLocked() {
	now := j.now()
	for id, exp := range j.revoked {
		if now.After(exp) {
			delete(j.revoked, id)
		}
	}
}
