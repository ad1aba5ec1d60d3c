// Package auth implements the short-lived bearer-token authentication
// shared with the supervisor process (spec §4.2).
package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/bobmcallan/robotmw/internal/apperr"
)

// exemptPaths lists the endpoints that never require a bearer token.
var exemptPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Exempt reports whether path is excluded from authentication.
func Exempt(path string) bool {
	return exemptPaths[path]
}

// Authenticator holds the process-lifetime bearer token read once at
// startup from APP_TOKEN. It exposes no refresh endpoint — rotation is
// the supervisor restarting the core (spec §4.2).
type Authenticator struct {
	token []byte
}

// New constructs an Authenticator from the token value resolved at
// startup (typically common.Config.Auth.Token).
func New(token string) *Authenticator {
	return &Authenticator{token: []byte(token)}
}

// Authenticate validates the Authorization header value (the full header,
// e.g. "Bearer abc123"). Comparison against the configured token is
// constant-time.
func (a *Authenticator) Authenticate(header string) error {
	if header == "" {
		return apperr.New(apperr.CodeUnauthorized, "Missing Authorization header")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return apperr.New(apperr.CodeUnauthorized, "Missing Authorization header")
	}
	presented := []byte(strings.TrimPrefix(header, prefix))
	if len(presented) != len(a.token) || subtle.ConstantTimeCompare(presented, a.token) != 1 {
		return apperr.New(apperr.CodeUnauthorized, "Invalid token")
	}
	return nil
}
