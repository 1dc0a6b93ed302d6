// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package account

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Token defaults.
const (
	DefaultTokenTTL    = 2 * time.Hour
	DefaultTokenIssuer = "blackfortress"
	// MinTokenSecretLength is the minimum HS256 key size in bytes.
	MinTokenSecretLength = 32
)

// Token is a signed session token and its expiry.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// TokenIssuer mints session tokens for authenticated accounts.
type TokenIssuer interface {
	Issue(account *Account, now time.Time) (Token, error)
}

// Claims is the token payload: subject is the account id, role is the
// account role, expiry is issue time plus the TTL.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTIssuer issues HS256-signed JWTs.
type JWTIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewJWTIssuer creates a JWTIssuer. Empty issuer and zero ttl select defaults.
func NewJWTIssuer(secret []byte, issuer string, ttl time.Duration) (*JWTIssuer, error) {
	if len(secret) < MinTokenSecretLength {
		return nil, oops.Code("TOKEN_SECRET_INVALID").
			With("min_length", MinTokenSecretLength).
			Errorf("token secret must be at least %d bytes", MinTokenSecretLength)
	}
	if issuer == "" {
		issuer = DefaultTokenIssuer
	}
	if ttl == 0 {
		ttl = DefaultTokenTTL
	}
	if ttl < 0 {
		return nil, oops.Code("TOKEN_TTL_INVALID").Errorf("token ttl must be positive")
	}
	return &JWTIssuer{secret: secret, issuer: issuer, ttl: ttl}, nil
}

// Issue signs a token for account valid from now until now plus the TTL.
func (i *JWTIssuer) Issue(account *Account, now time.Time) (Token, error) {
	expiresAt := now.Add(i.ttl)
	claims := &Claims{
		Role: account.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   account.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        ulid.Make().String(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, oops.Code(CodeTokenFailed).
			With("account_id", account.ID.String()).
			Wrap(err)
	}
	// NumericDate has second precision; report what the token carries.
	return Token{Value: signed, ExpiresAt: claims.ExpiresAt.Time}, nil
}

// Parse verifies a token issued by i and returns its claims.
func (i *JWTIssuer) Parse(token string, now time.Time) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return i.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		return nil, oops.Code("TOKEN_INVALID").Wrap(err)
	}
	return claims, nil
}
