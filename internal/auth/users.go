package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"sales-dashboard/internal/models"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

const localProvider = "local"

// Credentials is the fixed set of users allowed to log in.
type Credentials struct {
	hashes map[string][]byte
	// dummy keeps the cost of rejecting an unknown user close to that of a
	// wrong password.
	dummy []byte
}

// NewCredentials parses name:bcrypt-hash entries. When devPassword is set,
// devUser is added with that password hashed at cost.
func NewCredentials(entries []string, devUser, devPassword string, cost int) (*Credentials, error) {
	c := &Credentials{hashes: make(map[string][]byte, len(entries)+1)}

	for _, entry := range entries {
		name, hash, ok := strings.Cut(entry, ":")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("invalid user entry %q", entry)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("user %q: %w", name, err)
		}
		c.hashes[name] = []byte(hash)
	}

	if devPassword != "" && devUser != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(devPassword), cost)
		if err != nil {
			return nil, fmt.Errorf("hash dev password: %w", err)
		}
		c.hashes[devUser] = hash
	}

	if len(c.hashes) == 0 {
		return nil, errors.New("no users configured")
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("not-a-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("hash placeholder: %w", err)
	}
	c.dummy = dummy

	return c, nil
}

func (c *Credentials) Authenticate(username, password string) (models.User, error) {
	hash, ok := c.hashes[username]
	if !ok {
		bcrypt.CompareHashAndPassword(c.dummy, []byte(password))
		return models.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return models.User{}, ErrInvalidCredentials
	}

	return models.User{
		ID:       username,
		Username: username,
		Name:     username,
		Provider: localProvider,
	}, nil
}

func (c *Credentials) Len() int { return len(c.hashes) }

// ProfileUser maps an identity-provider profile onto a User. Missing fields
// fall back to their common alternates (sub for id, displayName for name,
// avatar_url for picture).
func ProfileUser(profile map[string]any, provider string) models.User {
	str := func(keys ...string) string {
		for _, k := range keys {
			if v, ok := profile[k].(string); ok && v != "" {
				return v
			}
		}
		return ""
	}

	user := models.User{
		ID:       str("id", "sub"),
		Email:    str("email"),
		Name:     str("name", "displayName"),
		Provider: provider,
		Avatar:   str("picture", "avatar_url"),
	}
	user.Username = str("username", "preferred_username", "login")
	if user.Username == "" {
		user.Username = user.Email
	}
	return user
}
