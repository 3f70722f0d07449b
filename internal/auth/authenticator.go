package auth

import (
	"errors"
	"strings"
)

var (
	ErrMissingHeader = errors.New("missing authorization header")
	ErrBadHeader     = errors.New("invalid authorization header format")
	ErrInvalidToken  = errors.New("invalid or expired token")
	ErrNotConfigured = errors.New("authentication not configured")
)

// Identity is the caller a request is attributed to.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// Authenticator checks bearer tokens against the OIDC verifier first and the
// shared HMAC secret second. Either may be absent.
type Authenticator struct {
	verifier TokenVerifier
	secret   string
}

func NewAuthenticator(verifier TokenVerifier, secret string) *Authenticator {
	return &Authenticator{verifier: verifier, secret: secret}
}

// Configured reports whether any token source is available.
func (a *Authenticator) Configured() bool {
	return a.verifier != nil || a.secret != ""
}

// Authenticate resolves an Authorization header value to an Identity.
func (a *Authenticator) Authenticate(header string) (*Identity, error) {
	if header == "" {
		return nil, ErrMissingHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") || token == "" {
		return nil, ErrBadHeader
	}
	if !a.Configured() {
		return nil, ErrNotConfigured
	}

	if a.verifier != nil {
		if claims, err := a.verifier.Validate(token); err == nil {
			return claims.Identity(), nil
		}
	}

	if a.secret != "" {
		if claims, err := ValidateLegacyToken(token, a.secret); err == nil {
			return &Identity{UserID: claims.UserID, Email: claims.Email}, nil
		}
	}

	return nil, ErrInvalidToken
}
