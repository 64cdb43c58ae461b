package membership

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents validated session claims. Everything here was signed at
// issuance time; SubscriptionSnapshot in particular is the status as of login
// and must not be used to gate subscription protected routes.
type Claims interface {
	Subject() string
	UserID() string
	Role() string
	Email() string
	SubscriptionSnapshot() SubscriptionStatus
	HasRole(role string) bool
	IsAdmin() bool
	Expires() time.Time
	IssuedAt() time.Time
}

// SessionClaims is the concrete implementation of Claims
type SessionClaims struct {
	jwt.RegisteredClaims
	UID          string             `json:"uid,omitempty"`
	UserRole     string             `json:"role,omitempty"`
	UserEmail    string             `json:"email,omitempty"`
	Subscription SubscriptionStatus `json:"subscription_status,omitempty"`
	Metadata     map[string]any     `json:"metadata,omitempty"`
}

var _ Claims = (*SessionClaims)(nil)

// Subject returns the subject claim
func (c *SessionClaims) Subject() string {
	return c.RegisteredClaims.Subject
}

// UserID returns the user ID
func (c *SessionClaims) UserID() string {
	if c.UID != "" {
		return c.UID
	}
	return c.Subject()
}

// Role returns the user role
func (c *SessionClaims) Role() string {
	return c.UserRole
}

// Email returns the email embedded at issuance time
func (c *SessionClaims) Email() string {
	return c.UserEmail
}

// SubscriptionSnapshot returns the subscription status as of token issuance.
func (c *SessionClaims) SubscriptionSnapshot() SubscriptionStatus {
	if c.Subscription == "" {
		return SubscriptionNone
	}
	return c.Subscription
}

// HasRole checks if the user has a specific role
func (c *SessionClaims) HasRole(role string) bool {
	return c.UserRole == role
}

// IsAdmin is a convenience check for the admin role
func (c *SessionClaims) IsAdmin() bool {
	return c.UserRole == RoleAdmin
}

// Expires returns the expiration time
func (c *SessionClaims) Expires() time.Time {
	if c.RegisteredClaims.ExpiresAt != nil {
		return c.RegisteredClaims.ExpiresAt.Time
	}
	return time.Time{}
}

// IssuedAt returns the issued at time
func (c *SessionClaims) IssuedAt() time.Time {
	if c.RegisteredClaims.IssuedAt != nil {
		return c.RegisteredClaims.IssuedAt.Time
	}
	return time.Time{}
}
