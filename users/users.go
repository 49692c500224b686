// Package users holds the user model for the relying application: local
// password credentials plus federated identities linked through OpenID
// Connect sign-in.
package users

import (
	"fmt"
	"time"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// FederatedIdentity records a link between a user and an account at an
// OpenID provider. The (Issuer, Subject) pair is the stable key.
type FederatedIdentity struct {
	Issuer   string         `json:"issuer"`
	Subject  string         `json:"subject"`
	Profile  map[string]any `json:"profile,omitempty"`
	LinkedAt time.Time      `json:"linked_at,omitempty"`
}

type User struct {
	ID           string    `json:"id,omitempty"`           // Unique identifier for the user
	Email        string    `json:"email,omitempty"`        // User's email address
	Username     string    `json:"username,omitempty"`     // Unique username
	PasswordHash string    `json:"-"`                      // Hashed version of the user's password - never serialize
	DisplayName  string    `json:"display_name,omitempty"` // Name shown in the UI
	DateJoined   time.Time `json:"date_joined,omitempty"`  // Date and time when the user registered
	LastLogin    time.Time `json:"last_login,omitempty"`   // Last time the user logged in

	Identities []FederatedIdentity `json:"identities,omitempty"` // Linked OpenID provider accounts

	Verified bool `json:"verified,omitempty"` // Verified, has the user verified who they are
	Blocked  bool `json:"blocked,omitempty"`  // Blocked, has the user been blocked from logging in
}

// ValidatePasswordStrength checks if password meets security requirements:
// - At least 8 characters long
// - Contains uppercase and lowercase letters
// - Contains at least one number
func ValidatePasswordStrength(password string) error {
	if len(password) < 8 {
		return fmt.Errorf("password must be at least 8 characters long")
	}

	var (
		hasUpper  bool
		hasLower  bool
		hasNumber bool
	)

	for _, char := range password {
		if unicode.IsUpper(char) {
			hasUpper = true
		} else if unicode.IsLower(char) {
			hasLower = true
		} else if unicode.IsDigit(char) {
			hasNumber = true
		}
	}

	if !hasUpper {
		return fmt.Errorf("password must contain at least one uppercase letter")
	}
	if !hasLower {
		return fmt.Errorf("password must contain at least one lowercase letter")
	}
	if !hasNumber {
		return fmt.Errorf("password must contain at least one number")
	}

	return nil
}

func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

func CheckPasswordHash(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// Identity returns the linked identity for an issuer and subject, or nil.
func (u *User) Identity(issuer, subject string) *FederatedIdentity {
	for i := range u.Identities {
		if u.Identities[i].Issuer == issuer && u.Identities[i].Subject == subject {
			return &u.Identities[i]
		}
	}
	return nil
}

// LinkIdentity adds or refreshes a federated identity on the user.
func (u *User) LinkIdentity(issuer, subject string, profile map[string]any, now time.Time) {
	if existing := u.Identity(issuer, subject); existing != nil {
		existing.Profile = profile
		return
	}
	u.Identities = append(u.Identities, FederatedIdentity{
		Issuer:   issuer,
		Subject:  subject,
		Profile:  profile,
		LinkedAt: now,
	})
}

// CanSignIn reports whether the account may start a session.
func (u *User) CanSignIn() bool {
	return !u.Blocked
}
