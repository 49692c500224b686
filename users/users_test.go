package users_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saasform/go-session-auth/users"
	fakeuserrepo "github.com/saasform/go-session-auth/users/repofake"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := users.HashPassword("Password123")
	require.NoError(t, err)
	require.NotEqual(t, "Password123", hash)

	require.True(t, users.CheckPasswordHash("Password123", hash))
	require.False(t, users.CheckPasswordHash("password123", hash))
}

func TestValidatePasswordStrength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid", "Password123", false},
		{"too short", "Pw1", true},
		{"no uppercase", "password123", true},
		{"no lowercase", "PASSWORD123", true},
		{"no number", "PasswordAbc", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := users.ValidatePasswordStrength(tc.password)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLinkIdentity(t *testing.T) {
	u := &users.User{Email: "alice@example.com"}
	now := time.Now().UTC()

	u.LinkIdentity("https://op.example.com", "subject-1", map[string]any{"name": "Alice"}, now)
	require.Len(t, u.Identities, 1)

	// Re-linking the same identity refreshes the profile instead of
	// duplicating the entry.
	u.LinkIdentity("https://op.example.com", "subject-1", map[string]any{"name": "Alice B"}, now)
	require.Len(t, u.Identities, 1)
	require.Equal(t, "Alice B", u.Identities[0].Profile["name"])

	u.LinkIdentity("https://other.example.com", "subject-1", nil, now)
	require.Len(t, u.Identities, 2)

	require.NotNil(t, u.Identity("https://op.example.com", "subject-1"))
	require.Nil(t, u.Identity("https://op.example.com", "subject-2"))
}

func TestFakeUserRepo(t *testing.T) {
	repo := fakeuserrepo.NewFakeUserRepo()

	alice := &users.User{Email: "alice@example.com"}
	alice.LinkIdentity("https://op.example.com", "subject-1", nil, time.Now())
	require.NoError(t, repo.Upsert(alice))
	require.NotEmpty(t, alice.ID, "upsert must assign an identifier")

	t.Run("lookup by email and id", func(t *testing.T) {
		byEmail, err := repo.GetByEmail("alice@example.com")
		require.NoError(t, err)
		byID, err := repo.GetByID(alice.ID)
		require.NoError(t, err)
		require.Equal(t, byEmail, byID)
	})

	t.Run("lookup by identity", func(t *testing.T) {
		got, err := repo.GetByIdentity("https://op.example.com", "subject-1")
		require.NoError(t, err)
		require.Equal(t, alice.ID, got.ID)

		_, err = repo.GetByIdentity("https://op.example.com", "unknown")
		require.ErrorIs(t, err, users.ErrNotFound)
	})

	t.Run("blocked flag", func(t *testing.T) {
		require.NoError(t, repo.SetBlocked("alice@example.com", true))
		got, err := repo.GetByEmail("alice@example.com")
		require.NoError(t, err)
		require.False(t, got.CanSignIn())
	})

	t.Run("last login", func(t *testing.T) {
		require.NoError(t, repo.SetLastLogin("alice@example.com"))
		got, err := repo.GetByEmail("alice@example.com")
		require.NoError(t, err)
		require.False(t, got.LastLogin.IsZero())
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete("alice@example.com"))
		_, err := repo.GetByEmail("alice@example.com")
		require.ErrorIs(t, err, users.ErrNotFound)
		require.ErrorIs(t, repo.Delete("alice@example.com"), users.ErrNotFound)
	})
}
