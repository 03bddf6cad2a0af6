// Package auth issues and verifies session tokens and guards routes that
// need an authenticated, active or administrator caller.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"github.com/ovaphlow/pitchfork/service-membership/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-membership/internal/user/entity"
)

// Claims is the payload of a session token. Subject carries the user ID.
// Role and Status are a snapshot taken at issuance; authorization decisions
// reload the user instead of trusting them.
type Claims struct {
	Identifier string        `json:"identifier"`
	Role       entity.Role   `json:"role"`
	Status     entity.Status `json:"status"`
	jwt.RegisteredClaims
}

// Codec signs and verifies HS256 session tokens.
type Codec struct {
	secret []byte
	ttl    time.Duration
	clock  clockwork.Clock
}

func NewCodec(secret string, ttl time.Duration, clock clockwork.Clock) *Codec {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Codec{secret: []byte(secret), ttl: ttl, clock: clock}
}

// Issue returns a signed token for u and its expiry.
func (c *Codec) Issue(u *entity.User) (string, time.Time, error) {
	now := c.clock.Now()
	exp := now.Add(c.ttl)
	claims := Claims{
		Identifier: u.Identifier,
		Role:       u.Role,
		Status:     u.Status,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse verifies the signature and expiry of token. Any failure is an
// Unauthenticated error.
func (c *Codec) Parse(token string) (*Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &apperr.Error{Kind: apperr.KindUnauthenticated, Msg: "Token has expired", Err: err}
		}
		return nil, &apperr.Error{Kind: apperr.KindUnauthenticated, Msg: "Could not validate credentials", Err: err}
	}
	if claims.Subject == "" {
		return nil, apperr.Unauthenticated("Could not validate credentials")
	}
	return &claims, nil
}
