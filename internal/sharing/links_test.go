package sharing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fruitsalade/linkdrop/internal/metadata/sqldb"
)

func newTestLinkStore(t *testing.T) *LinkStore {
	t.Helper()
	db, err := sqldb.Open(sqldb.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return NewLinkStore(db)
}

func TestCreateAndValidate(t *testing.T) {
	s := newTestLinkStore(t)
	ctx := context.Background()

	link, err := s.Create(ctx, "u1", "client uploads", CreateOptions{})
	require.NoError(t, err)
	require.Len(t, link.ID, 32)
	require.True(t, link.IsActive)

	got, err := s.Validate(ctx, link.ID, "")
	require.NoError(t, err)
	require.Equal(t, "u1", got.OwnerID)

	_, err = s.Validate(ctx, "nope", "")
	require.ErrorIs(t, err, ErrLinkNotFound)
}

func TestValidatePassword(t *testing.T) {
	s := newTestLinkStore(t)
	ctx := context.Background()

	link, err := s.Create(ctx, "u1", "secret", CreateOptions{Password: "hunter2"})
	require.NoError(t, err)
	require.NotEqual(t, "hunter2", link.PasswordHash)

	_, err = s.Validate(ctx, link.ID, "")
	require.ErrorIs(t, err, ErrPasswordRequired)
	_, err = s.Validate(ctx, link.ID, "wrong")
	require.ErrorIs(t, err, ErrInvalidPassword)
	_, err = s.Validate(ctx, link.ID, "hunter2")
	require.NoError(t, err)
}

func TestValidateExpiry(t *testing.T) {
	s := newTestLinkStore(t)
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	link, err := s.Create(ctx, "u1", "short", CreateOptions{ExpiresInSec: 60})
	require.NoError(t, err)
	_, err = s.Validate(ctx, link.ID, "")
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Validate(ctx, link.ID, "")
	require.ErrorIs(t, err, ErrExpired)
}

func TestUploadLimit(t *testing.T) {
	s := newTestLinkStore(t)
	ctx := context.Background()

	link, err := s.Create(ctx, "u1", "two uploads", CreateOptions{MaxUploads: 2})
	require.NoError(t, err)
	require.NoError(t, s.RecordUpload(ctx, link.ID))
	require.NoError(t, s.RecordUpload(ctx, link.ID))
	require.ErrorIs(t, s.RecordUpload(ctx, link.ID), ErrLimitReached)

	_, err = s.Validate(ctx, link.ID, "")
	require.ErrorIs(t, err, ErrLimitReached)
}

func TestRevoke(t *testing.T) {
	s := newTestLinkStore(t)
	ctx := context.Background()

	link, err := s.Create(ctx, "u1", "temp", CreateOptions{})
	require.NoError(t, err)

	require.ErrorIs(t, s.Revoke(ctx, link.ID, "u2"), ErrLinkNotFound, "only the owner may revoke")
	require.NoError(t, s.Revoke(ctx, link.ID, "u1"))
	_, err = s.Validate(ctx, link.ID, "")
	require.ErrorIs(t, err, ErrRevoked)
}

func TestOwnership(t *testing.T) {
	s := newTestLinkStore(t)
	ctx := context.Background()

	a, err := s.Create(ctx, "u1", "a", CreateOptions{})
	require.NoError(t, err)
	_, err = s.Create(ctx, "u2", "b", CreateOptions{})
	require.NoError(t, err)

	_, err = s.RequireOwner(ctx, a.ID, "u1")
	require.NoError(t, err)
	_, err = s.RequireOwner(ctx, a.ID, "u2")
	require.ErrorIs(t, err, ErrLinkNotFound)

	links, err := s.ListByOwner(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, a.ID, links[0].ID)
}
