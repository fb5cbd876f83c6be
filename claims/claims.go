// Package claims reads display claims from Entra ID tokens. Tokens arrive
// from the identity library, which has already validated them, so nothing
// here checks signatures.
package claims

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrMissingClaim is returned when a required claim is missing
	ErrMissingClaim = errors.New("missing required claim")
)

// IDTokenClaims are the Entra ID token claims the shell reads.
type IDTokenClaims struct {
	jwt.RegisteredClaims
	ObjectID          string   `json:"oid"`
	TenantID          string   `json:"tid"`
	Name              string   `json:"name"`
	PreferredUsername string   `json:"preferred_username"`
	Email             string   `json:"email"`
	Roles             []string `json:"roles,omitempty"`
}

// Profile is what the profile view shows about the signed-in user.
type Profile struct {
	ObjectID  uuid.UUID
	TenantID  uuid.UUID
	Name      string
	Username  string
	Email     string
	Issuer    string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ExtractIDTokenClaims parses an ID token without validating it.
func ExtractIDTokenClaims(raw string) (*Profile, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())

	c := &IDTokenClaims{}
	if _, _, err := parser.ParseUnverified(raw, c); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	return parseClaims(c)
}

func parseClaims(c *IDTokenClaims) (*Profile, error) {
	if c.ObjectID == "" {
		return nil, fmt.Errorf("%w: oid", ErrMissingClaim)
	}
	oid, err := uuid.Parse(c.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("invalid oid UUID: %w", err)
	}

	if c.TenantID == "" {
		return nil, fmt.Errorf("%w: tid", ErrMissingClaim)
	}
	tid, err := uuid.Parse(c.TenantID)
	if err != nil {
		return nil, fmt.Errorf("invalid tid UUID: %w", err)
	}

	p := &Profile{
		ObjectID: oid,
		TenantID: tid,
		Name:     c.Name,
		Username: c.PreferredUsername,
		Email:    c.Email,
		Issuer:   c.Issuer,
		Roles:    c.Roles,
	}
	if p.Email == "" {
		p.Email = c.PreferredUsername
	}
	if c.IssuedAt != nil {
		p.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		p.ExpiresAt = c.ExpiresAt.Time
	}
	return p, nil
}

// HasRole checks if the user holds an app role
func (p *Profile) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}
