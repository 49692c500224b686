package users

import "errors"

// ErrNotFound is returned by repositories when no user matches.
var ErrNotFound = errors.New("user not found")

type UserRepo interface {
	Upsert(user *User) error
	Delete(email string) error
	GetByEmail(email string) (*User, error)
	GetByID(ID string) (*User, error)
	GetByIdentity(issuer, subject string) (*User, error)
	List(offset, limit int) ([]*User, error)
	SetBlocked(email string, blocked bool) error
	SetVerified(email string, verified bool) error
	SetLastLogin(email string) error
}
