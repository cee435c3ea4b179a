package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/MrEthical07/authflow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// openTestStore connects to AUTHFLOW_TEST_POSTGRES_DSN and skips otherwise.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("AUTHFLOW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("AUTHFLOW_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s, err := Open(ctx, Config{DSN: dsn, MaxConns: 4}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Migrate(ctx))
	return s
}

func uniqueName(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8])
}

func TestSchemaDefinesTables(t *testing.T) {
	for _, table := range []string{
		"authflow_users",
		"authflow_roles",
		"authflow_role_permissions",
		"authflow_user_roles",
	} {
		require.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS "+table)
	}
}

func TestOpenRejectsBadDSN(t *testing.T) {
	_, err := Open(context.Background(), Config{DSN: "postgres://%zz"}, nil)
	require.Error(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	admin := uniqueName("ADMIN")
	viewer := uniqueName("VIEWER")
	require.NoError(t, s.PutRole(ctx, authflow.Role{Name: admin, Permissions: []string{"READ", "WRITE"}}))
	require.NoError(t, s.PutRole(ctx, authflow.Role{Name: viewer}))

	username := uniqueName("alice")
	require.NoError(t, s.CreateUser(ctx, NewUser{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: "hash",
		Email:        "alice@example.com",
		Phone:        "+15550000001",
		TOTPSecret:   "JBSWY3DPEHPK3PXP",
		MFAEnabled:   true,
		Approved:     true,
		Roles:        []string{admin, viewer},
	}))
	t.Cleanup(func() { _ = s.DeleteUser(context.Background(), username) })

	p, hash, err := s.PasswordHash(ctx, username)
	require.NoError(t, err)
	require.Equal(t, "hash", hash)
	require.Equal(t, username, p.Username)

	mfa, err := s.IsMFAEnabled(ctx, username)
	require.NoError(t, err)
	require.True(t, mfa)

	roles, err := s.Roles(ctx, username)
	require.NoError(t, err)
	require.Len(t, roles, 2)
	require.ElementsMatch(t, []string{"READ", "WRITE"}, authflow.FlattenPermissions(roles))

	prof, err := s.MFAProfile(ctx, username)
	require.NoError(t, err)
	require.Equal(t, "JBSWY3DPEHPK3PXP", prof.TOTPSecret)
	require.Equal(t, "alice@example.com", prof.Email)

	up, err := s.UserProfile(ctx, username)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{admin, viewer}, up.Roles)
	require.True(t, up.Approved)

	require.NoError(t, s.UpdatePasswordHash(ctx, username, "rehashed"))
	_, hash, err = s.PasswordHash(ctx, username)
	require.NoError(t, err)
	require.Equal(t, "rehashed", hash)

	require.NoError(t, s.SetRoles(ctx, username, viewer))
	roles, err = s.Roles(ctx, username)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.Empty(t, roles[0].Permissions)
}

func TestStoreUnknownAndLockedUsers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ghost := uniqueName("ghost")
	_, err := s.LoadByUsername(ctx, ghost)
	require.True(t, errors.Is(err, authflow.ErrNotFound), "got %v", err)
	_, err = s.Roles(ctx, ghost)
	require.ErrorIs(t, err, authflow.ErrNotFound)
	_, err = s.UserProfile(ctx, ghost)
	require.ErrorIs(t, err, authflow.ErrNotFound)
	require.ErrorIs(t, s.UpdatePasswordHash(ctx, ghost, "x"), authflow.ErrNotFound)

	pending := uniqueName("pending")
	require.NoError(t, s.CreateUser(ctx, NewUser{ID: uuid.NewString(), Username: pending, PasswordHash: "h"}))
	t.Cleanup(func() { _ = s.DeleteUser(context.Background(), pending) })

	_, _, err = s.PasswordHash(ctx, pending)
	require.ErrorIs(t, err, authflow.ErrNotFound, "unapproved account must not log in")

	roles, err := s.Roles(ctx, pending)
	require.NoError(t, err)
	require.Empty(t, roles)
}
