// ABOUTME: Identity resolution: durable JWT subject when logged in, generated guest ID otherwise.
// ABOUTME: Guest identities persist locally so the same anonymous user keeps their sessions.

package session

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken indicates the access token could not be parsed or carries
// no usable subject claim.
var ErrInvalidToken = errors.New("invalid access token")

// Identity names the owner of a set of sessions.
type Identity struct {
	ID    string
	Guest bool
}

// IdentityFromToken extracts a durable identity from an access token's
// subject claim. The token is not verified here: verification is the
// backend's job, the client only needs to know who the sessions belong to.
func IdentityFromToken(token string) (Identity, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{ID: sub}, nil
}

// GuestIdentity returns the persisted guest identity, generating and
// persisting a fresh one on first use. If local persistence fails the
// identity is still usable for the current run; it just won't survive a
// reload.
func GuestIdentity(local *Local, logger *slog.Logger) Identity {
	if logger == nil {
		logger = slog.Default()
	}

	if local != nil {
		if id, err := local.GuestID(); err == nil && id != "" {
			return Identity{ID: id, Guest: true}
		}
	}

	id := "guest-" + uuid.New().String()
	if local != nil {
		if err := local.SetGuestID(id); err != nil {
			logger.Warn("could not persist guest identity", "error", err)
		}
	}
	return Identity{ID: id, Guest: true}
}

// ResolveIdentity prefers the token's subject and falls back to a guest
// identity when no token is present or it is unusable.
func ResolveIdentity(token string, local *Local, logger *slog.Logger) Identity {
	if token != "" {
		ident, err := IdentityFromToken(token)
		if err == nil {
			return ident
		}
		if logger != nil {
			logger.Warn("falling back to guest identity", "error", err)
		}
	}
	return GuestIdentity(local, logger)
}
