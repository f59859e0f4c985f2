// Package auth issues and verifies bearer tokens and checks credentials.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"sales-dashboard/internal/models"
)

// Claims is the token payload.
type Claims struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"`
	jwt.RegisteredClaims
}

// User rebuilds the token's user through the same profile mapping used for
// identity providers, so a token missing username falls back to email.
func (c *Claims) User() models.User {
	return ProfileUser(map[string]any{
		"sub":      c.Subject,
		"username": c.Username,
		"email":    c.Email,
		"name":     c.Name,
	}, c.Provider)
}

type Status int

const (
	StatusInvalid Status = iota
	StatusValid
	StatusExpired
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusExpired:
		return "expired"
	default:
		return "invalid"
	}
}

// Verification is the outcome of checking a token. Claims is set only when
// Status is StatusValid; Err carries the reason otherwise.
type Verification struct {
	Status Status
	Claims *Claims
	Err    error
}

func (v Verification) Valid() bool { return v.Status == StatusValid }

type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

func (i *Issuer) TTL() time.Duration { return i.ttl }

// Issue signs an HS256 token for user.
func (i *Issuer) Issue(user models.User) (string, error) {
	now := i.now()
	claims := &Claims{
		Username: user.Username,
		Email:    user.Email,
		Name:     user.Name,
		Provider: user.Provider,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			Issuer:    i.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (i *Issuer) Verify(tokenString string) Verification {
	if tokenString == "" {
		return Verification{Status: StatusInvalid, Err: errors.New("empty token")}
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.now),
	)

	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return Verification{Status: StatusExpired, Err: err}
	case err != nil:
		return Verification{Status: StatusInvalid, Err: err}
	case !token.Valid:
		return Verification{Status: StatusInvalid, Err: errors.New("token not valid")}
	case claims.Subject == "":
		return Verification{Status: StatusInvalid, Err: errors.New("token has no subject")}
	}

	return Verification{Status: StatusValid, Claims: claims}
}
