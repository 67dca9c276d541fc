// Package auth validates bearer tokens against configured sessions.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/kiwicrm/kiwi/internal/config"
)

// ErrNoSession is returned when no configured session matches the request.
var ErrNoSession = errors.New("no matching session")

// Identity describes the authenticated caller.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

type session struct {
	token     string
	tokenHash string
	identity  Identity
}

// Authenticator checks bearer tokens against the sessions from config.
type Authenticator struct {
	sessions []session
}

// New builds an Authenticator from configured sessions.
func New(sessions []config.SessionConfig) *Authenticator {
	a := &Authenticator{}
	for _, s := range sessions {
		a.sessions = append(a.sessions, session{
			token:     s.Token,
			tokenHash: s.TokenHash,
			identity: Identity{
				Subject: s.Subject,
				Email:   s.Email,
				Name:    s.Name,
			},
		})
	}
	return a
}

// Authenticate resolves the request's bearer token to an identity.
func (a *Authenticator) Authenticate(r *http.Request) (*Identity, error) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return nil, ErrNoSession
	}
	return a.Lookup(token)
}

// Lookup checks a raw token against every configured session. Plaintext
// tokens are compared in constant time; hashed tokens use bcrypt.
func (a *Authenticator) Lookup(token string) (*Identity, error) {
	for i := range a.sessions {
		s := &a.sessions[i]
		if s.token != "" {
			if subtle.ConstantTimeCompare([]byte(s.token), []byte(token)) == 1 {
				id := s.identity
				return &id, nil
			}
			continue
		}
		if s.tokenHash != "" {
			if bcrypt.CompareHashAndPassword([]byte(s.tokenHash), []byte(token)) == nil {
				id := s.identity
				return &id, nil
			}
		}
	}
	return nil, ErrNoSession
}

// HashToken produces a bcrypt hash suitable for the token_hash config field.
func HashToken(token string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
