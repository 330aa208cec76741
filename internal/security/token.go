package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"rtclient/internal/domain"
)

// Identity is what the client learns about itself from its bearer token.
type Identity struct {
	UserID    string
	Name      string
	ExpiresAt time.Time
}

// Expired reports whether the token had expired at now. A token without
// an exp claim never expires.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// ParseIdentity reads the subject and display name from a JWT without
// verifying its signature. The server is the only party that validates
// tokens; the client only needs to know who it is.
func ParseIdentity(tokenStr string) (Identity, error) {
	if tokenStr == "" {
		return Identity{}, domain.ErrUnauthorized
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenStr, claims); err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return Identity{}, fmt.Errorf("subject claim: %w", err)
	}
	if sub == "" {
		// some issuers put the id in user_id instead of sub
		if v, ok := claims["user_id"]; ok {
			sub = fmt.Sprint(v)
		}
	}
	if sub == "" {
		return Identity{}, errors.New("token carries no subject")
	}

	id := Identity{UserID: sub}
	for _, key := range []string{"name", "username", "preferred_username"} {
		if v, ok := claims[key].(string); ok && v != "" {
			id.Name = v
			break
		}
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}
