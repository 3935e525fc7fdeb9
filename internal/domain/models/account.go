// internal/domain/models/account.go
package models

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: the numeric _id assigned by the store on creation
//   - Login / login: the human-readable, immutable string the account signs in with

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Field limits shared by validation, JSON-schema validators, and indexes.
const (
	LoginMaxLen    = 32
	NameMaxLen     = 32
	EmailMaxLen    = 32
	AuthIPMaxLen   = 255
	PasswordHexLen = 64
)

// Account is the aggregate root for an application user.
//
// Login and Email are unique and never change after creation. Version is the
// optimistic-concurrency counter: every persisted mutation increments it and
// a write carrying a stale Version is rejected by the store.
type Account struct {
	ID      int64  `bson:"_id" json:"id"`
	Login   string `bson:"login" json:"login" validate:"required,min=1,max=32" label:"Login"`
	LoginCI string `bson:"login_ci" json:"-"` // folded for filtering

	Password string `bson:"password" json:"-" validate:"required,password_hash" label:"Password"` // 64 hex chars
	Version  int64  `bson:"version" json:"version"`

	FirstName   string `bson:"firstname" json:"first_name" validate:"required,min=1,max=32" label:"First name"`
	FirstNameCI string `bson:"firstname_ci" json:"-"`
	LastName    string `bson:"lastname" json:"last_name" validate:"required,min=1,max=32" label:"Last name"`
	LastNameCI  string `bson:"lastname_ci" json:"-"`
	Email       string `bson:"email" json:"email" validate:"required,min=1,max=32,account_email" label:"Email"`

	// Security state
	Active              bool       `bson:"active" json:"active"`
	Confirmed           bool       `bson:"confirmed" json:"confirmed"`
	ForcePasswordChange bool       `bson:"force_password_change" json:"force_password_change"`
	FailedAuthCounter   int        `bson:"failed_auth_counter" json:"failed_auth_counter"`
	LastSuccessfulAuth  *time.Time `bson:"last_successful_auth,omitempty" json:"last_successful_auth,omitempty"`
	LastFailedAuth      *time.Time `bson:"last_failed_auth,omitempty" json:"last_failed_auth,omitempty"`
	LastAuthIP          string     `bson:"last_auth_ip,omitempty" json:"last_auth_ip,omitempty" validate:"max=255" label:"Last authentication IP"`
	VerificationToken   string     `bson:"verification_token" json:"-"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// NewAccount returns an Account with the registration defaults applied:
// active, unconfirmed, forced to change its password, and carrying a fresh
// verification token.
func NewAccount() Account {
	return Account{
		Active:              true,
		ForcePasswordChange: true,
		VerificationToken:   NewVerificationToken(),
	}
}

// NewVerificationToken returns an opaque one-time token (a random UUID
// rendered as 32 hex characters).
func NewVerificationToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ProfilePatch carries the mutable profile fields of an account.
// Nil fields are left unchanged.
type ProfilePatch struct {
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
}

// PreviousPassword is one entry of an account's password history.
// Entries are append-only; the hash is unique across the whole history.
type PreviousPassword struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Password  string             `bson:"password" json:"-"`
	Version   int64              `bson:"version" json:"version"`
	AccountID int64              `bson:"account_id" json:"account_id"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

// ForgotPasswordToken is the single outstanding password-reset token of an account.
type ForgotPasswordToken struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	AccountID int64              `bson:"account_id"`
	Email     string             `bson:"email"`
	Token     string             `bson:"token"`
	ExpiresAt time.Time          `bson:"expires_at"`
	CreatedAt time.Time          `bson:"created_at"`
}

// PasswordHistory is the ordered (oldest first) set of hashes an account has used.
type PasswordHistory []PreviousPassword

// Contains reports whether hash has been used before.
func (h PasswordHistory) Contains(hash string) bool {
	for _, p := range h {
		if p.Password == hash {
			return true
		}
	}
	return false
}
