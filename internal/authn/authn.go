// Package authn implements the server's side of the authenticated-
// identity contract: a JWT carrying the caller's user id, issued by
// POST /auth/login and verified on every subsequent HTTP request and
// websocket handshake.
package authn

import (
	"errors"
	"time"

	"github.com/codeduel/backend/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("authn: invalid token")

type claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	ttl    time.Duration
}

func New(secret string, ttl time.Duration) *Verifier {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Verifier{secret: []byte(secret), ttl: ttl}
}

// Issue mints a signed token asserting userID's identity, used by the
// login handler.
func (v *Verifier) Issue(userID string) (string, error) {
	now := time.Now()
	c := claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return tok.SignedString(v.secret)
}

// Verify returns the user id embedded in a valid, unexpired token.
func (v *Verifier) Verify(tokenString string) (string, error) {
	var c claims
	tok, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	})
	if err != nil || !tok.Valid || c.UserID == "" {
		return "", domain.ErrNotAuthenticated
	}
	return c.UserID, nil
}
