package membership

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole = string

const (
	// RoleUser is a regular platform user
	RoleUser UserRole = "user"
	// RoleAdmin manages content and cannot hold a subscription
	RoleAdmin UserRole = "admin"
)

// SubscriptionStatus tracks where a user sits in the subscription lifecycle
type SubscriptionStatus = string

const (
	// SubscriptionNone means no purchase has been started
	SubscriptionNone SubscriptionStatus = "none"
	// SubscriptionPending means checkout started, payment not verified yet
	SubscriptionPending SubscriptionStatus = "pending"
	// SubscriptionActive means payment verified, entitlement granted
	SubscriptionActive SubscriptionStatus = "active"
	// SubscriptionCancelled means the user cancelled outside the refund window
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// User is the user model
type User struct {
	bun.BaseModel      `bun:"table:users,alias:usr"`
	ID                 uuid.UUID          `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Role               UserRole           `bun:"user_role,notnull" json:"user_role,omitempty"`
	FirstName          string             `bun:"first_name" json:"first_name,omitempty"`
	LastName           string             `bun:"last_name" json:"last_name,omitempty"`
	Email              string             `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash       string             `bun:"password_hash" json:"-"`
	SubscriptionID     string             `bun:"subscription_id" json:"subscription_id,omitempty"`
	SubscriptionStatus SubscriptionStatus `bun:"subscription_status,notnull,default:'none'" json:"subscription_status,omitempty"`
	ResetTokenHash     string             `bun:"reset_token_hash,nullzero" json:"-"`
	ResetTokenExpires  *time.Time         `bun:"reset_token_expires_at,nullzero" json:"-"`
	LoginAttempts      int                `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt     *time.Time         `bun:"login_attempt_at" json:"login_attempt_at,omitempty"`
	LoggedInAt         *time.Time         `bun:"loggedin_at" json:"loggedin_at,omitempty"`
	ResetedAt          *time.Time         `bun:"reseted_at,nullzero" json:"reseted_at,omitempty"`
	Metadata           map[string]any     `bun:"metadata" json:"metadata,omitempty"`
	CreatedAt          *time.Time         `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt          *time.Time         `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
	DeletedAt          *time.Time         `bun:"deleted_at,soft_delete,nullzero" json:"deleted_at,omitempty"`
}

// EnsureSubscriptionStatus backfills the zero value for rows created before
// the subscription columns existed.
func (u *User) EnsureSubscriptionStatus() {
	if u.SubscriptionStatus == "" {
		u.SubscriptionStatus = SubscriptionNone
	}
}

// Scrub returns a copy safe to serialize: no password hash, no reset token.
func (u *User) Scrub() *User {
	if u == nil {
		return nil
	}
	out := *u
	out.PasswordHash = ""
	out.ResetTokenHash = ""
	out.ResetTokenExpires = nil
	return &out
}

// HasActiveSubscription reports the persisted status, not a token snapshot.
func (u *User) HasActiveSubscription() bool {
	return u != nil && u.SubscriptionStatus == SubscriptionActive
}

// AddMetadata will append information to a metadata attribute
func (u *User) AddMetadata(key string, val any) *User {
	if u.Metadata == nil {
		u.Metadata = make(map[string]any)
	}
	u.Metadata[key] = val
	return u
}

// PaymentRecord is the append only payment ledger. One row per verified
// payment, keyed by the provider's payment id; the row is deleted only when
// the payment is refunded.
type PaymentRecord struct {
	bun.BaseModel  `bun:"table:payment_records,alias:pay"`
	ID             uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID         *uuid.UUID `bun:"user_id,notnull" json:"user_id,omitempty"`
	User           *User      `bun:"rel:has-one,join:user_id=id" json:"user,omitempty"`
	PaymentID      string     `bun:"payment_id,notnull,unique" json:"payment_id,omitempty"`
	SubscriptionID string     `bun:"subscription_id,notnull" json:"subscription_id,omitempty"`
	Signature      string     `bun:"signature" json:"-"`
	CreatedAt      *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}
