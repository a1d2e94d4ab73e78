// Package auth verifies session tokens issued by the exam platform.
//
// Verification fails closed: any parse, signature, or claim problem
// denies the request. The engine never mints tokens itself.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// Roles recognized in platform tokens.
const (
	RoleStudent = "student"
	RoleAdmin   = "admin"
)

var (
	ErrNoToken       = errors.New("auth: no token presented")
	ErrInvalidToken  = errors.New("auth: invalid token")
	ErrMissingClaims = errors.New("auth: token missing required claims")
)

// Identity is the verified subject of a request.
type Identity struct {
	ID   string
	Role string
}

// Verifier validates HS256 session tokens against a shared secret.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier. The secret must match the one the
// exam platform signs tokens with.
func NewVerifier(secret []byte) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, errors.New("auth: empty signing secret")
	}
	return &Verifier{secret: secret}, nil
}

// Verify parses and validates a raw token string.
func (v *Verifier) Verify(raw string) (Identity, error) {
	if raw == "" {
		return Identity{}, ErrNoToken
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	id, _ := claims["id"].(string)
	if id == "" {
		// Some issuers use the registered subject claim instead.
		id, _ = claims["sub"].(string)
	}
	role, _ := claims["role"].(string)
	if id == "" || role == "" {
		return Identity{}, ErrMissingClaims
	}

	return Identity{ID: id, Role: role}, nil
}

// FromRequest extracts and verifies the bearer token on an HTTP
// request.
func (v *Verifier) FromRequest(r *http.Request) (Identity, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return Identity{}, ErrNoToken
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return Identity{}, fmt.Errorf("%w: not a bearer credential", ErrInvalidToken)
	}
	return v.Verify(strings.TrimSpace(header[len(prefix):]))
}
