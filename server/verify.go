package server

import (
	"time"

	"github.com/pkg/errors"

	"github.com/saasform/go-session-auth/internal/utils"
	"github.com/saasform/go-session-auth/oidc"
	"github.com/saasform/go-session-auth/users"
)

// NewVerifyFunc builds the strategy callback that maps a completed token
// exchange onto a local account. A user is matched by linked identity first,
// then by email; unknown users are provisioned on the fly.
func NewVerifyFunc(repo users.UserRepo) oidc.VerifyFunc {
	return func(issuer, subject string, profile oidc.Profile, accessToken, refreshToken string) (any, map[string]any, error) {
		user, err := repo.GetByIdentity(issuer, subject)
		if err != nil && !errors.Is(err, users.ErrNotFound) {
			return nil, nil, errors.Wrap(err, "[NewVerifyFunc] identity lookup failed")
		}

		if user == nil {
			email := profileEmail(profile)
			if email == "" {
				return nil, map[string]any{"message": "provider returned no email address"}, nil
			}

			user, err = repo.GetByEmail(email)
			if err != nil && !errors.Is(err, users.ErrNotFound) {
				return nil, nil, errors.Wrap(err, "[NewVerifyFunc] email lookup failed")
			}
			if user == nil {
				name, _ := profile["name"].(string)
				user = &users.User{
					Email:       email,
					DisplayName: name,
					DateJoined:  time.Now().UTC(),
					Verified:    true,
				}
			}
			user.LinkIdentity(issuer, subject, profile, time.Now().UTC())
			if err := repo.Upsert(user); err != nil {
				return nil, nil, errors.Wrap(err, "[NewVerifyFunc] failed to save user")
			}
		}

		if !user.CanSignIn() {
			return nil, map[string]any{"message": "account is blocked"}, nil
		}
		return user, map[string]any{}, nil
	}
}

// profileEmail finds the account email in the userinfo claims, accepting
// both a single "email" claim and a provider-specific "emails" list.
func profileEmail(profile oidc.Profile) string {
	if email, ok := profile["email"].(string); ok && email != "" {
		return email
	}
	if list, ok := profile["emails"].([]any); ok {
		emails := utils.ToStringSlice(list)
		if len(emails) > 0 {
			return emails[0]
		}
	}
	return ""
}
