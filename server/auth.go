package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"

	"github.com/input-output-hk/catalyst-forge-libs/upload/errors"
)

// Authenticator resolves the owner of a request. Sessions are scoped to the
// returned owner id.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(r *http.Request) (string, error)

// Authenticate implements Authenticator.
func (f AuthenticatorFunc) Authenticate(r *http.Request) (string, error) {
	return f(r)
}

// JWTAuthenticator accepts HS256 bearer tokens and uses the subject claim as
// the owner id.
type JWTAuthenticator struct {
	key []byte
	now func() time.Time
}

// NewJWTAuthenticator returns an authenticator for tokens signed with key.
func NewJWTAuthenticator(key []byte) (*JWTAuthenticator, error) {
	if len(key) == 0 {
		return nil, errors.NewError("newJWTAuthenticator", errors.ErrConfiguration).
			WithMessage("signing key is required")
	}
	return &JWTAuthenticator{key: key, now: time.Now}, nil
}

// Authenticate implements Authenticator.
func (a *JWTAuthenticator) Authenticate(r *http.Request) (string, error) {
	raw, ok := bearerToken(r)
	if !ok {
		return "", errors.NewError("authenticate", errors.ErrUnauthorized).WithMessage("missing bearer token")
	}

	claims := &jwt.StandardClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %s", t.Header["alg"])
		}
		return a.key, nil
	})
	if err != nil || !tok.Valid {
		return "", errors.NewError("authenticate", errors.ErrUnauthorized).WithMessage("invalid token")
	}
	if claims.Subject == "" {
		return "", errors.NewError("authenticate", errors.ErrUnauthorized).WithMessage("token has no subject")
	}
	return claims.Subject, nil
}

// Issue signs a token for subject valid for ttl.
func (a *JWTAuthenticator) Issue(subject string, ttl time.Duration) (string, error) {
	now := a.now()
	claims := jwt.StandardClaims{
		Subject:   subject,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
