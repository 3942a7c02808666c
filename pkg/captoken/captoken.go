// Package captoken issues and verifies download capability tokens.
// A token grants access to exactly one submission's archive for a
// limited time; it replaces session-bound download links so operators
// can follow them straight from a notification email.
package captoken

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	dErrors "sportello/pkg/domain-errors"
)

// Issuer signs and verifies capability tokens with a shared HMAC key.
type Issuer struct {
	key []byte
	ttl time.Duration
}

// New returns an Issuer. The key must be non-empty; ttl bounds token
// lifetime.
func New(key []byte, ttl time.Duration) (*Issuer, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("capability token key is required")
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{key: key, ttl: ttl}, nil
}

type claims struct {
	SubmissionID int64 `json:"sid"`
	jwt.RegisteredClaims
}

// Issue returns a signed token granting download access to submissionID.
func (i *Issuer) Issue(submissionID int64, now time.Time) (string, error) {
	c := claims{
		SubmissionID: submissionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign capability token: %w", err)
	}
	return signed, nil
}

// Verify checks the token signature and expiry and confirms it was
// issued for submissionID. All failures map to Forbidden.
func (i *Issuer) Verify(tokenString string, submissionID int64) error {
	var c claims
	_, err := jwt.ParseWithClaims(tokenString, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.key, nil
	})
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeForbidden, "invalid or expired download token")
	}
	if c.SubmissionID != submissionID {
		return dErrors.New(dErrors.CodeForbidden, "download token does not match this submission")
	}
	return nil
}
