package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	verrors "github.com/valorwatch/valorwatch/internal/errors"
	"github.com/valorwatch/valorwatch/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(puuid string, ownerID int64) *models.CredentialRecord {
	return &models.CredentialRecord{
		PUUID:            puuid,
		OwnerID:          ownerID,
		GameName:         "Player",
		TagLine:          "EUW",
		Region:           "eu",
		Scope:            "account openid",
		TokenType:        "Bearer",
		AccessToken:      "enc-access",
		IDToken:          "enc-id",
		EntitlementToken: "enc-ent",
		SSIDCookie:       "enc-ssid",
		ExpiresAt:        time.Now().Add(time.Hour).Unix(),
	}
}

func TestSQLiteStore_UserLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, 42, "de-DE")
	require.NoError(t, err)
	assert.Equal(t, int64(42), u.ID)
	assert.Equal(t, "de-DE", u.Locale)

	// Creating again keeps the original row.
	again, err := s.CreateUser(ctx, 42, "fr-FR")
	require.NoError(t, err)
	assert.Equal(t, "de-DE", again.Locale)

	require.NoError(t, s.UpdateUserLocale(ctx, 42, "en-GB"))
	u, err = s.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "en-GB", u.Locale)

	require.NoError(t, s.SetMainAccount(ctx, 42, "puuid-2"))
	u, err = s.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "puuid-2", u.MainPUUID)

	require.NoError(t, s.DeleteUser(ctx, 42))
	u, err = s.GetUser(ctx, 42)
	require.NoError(t, err)
	assert.Nil(t, u)
}

func TestSQLiteStore_CredentialCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, 1, "")
	require.NoError(t, err)

	rec := testRecord("puuid-1", 1)
	require.NoError(t, s.CreateCredential(ctx, rec))

	got, err := s.GetCredential(ctx, "puuid-1", 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "enc-access", got.AccessToken)
	assert.Equal(t, "Player#EUW", got.RiotID())
	assert.False(t, got.CreatedAt.IsZero())

	got.AccessToken = "enc-access-2"
	got.ExpiresAt = time.Now().Add(2 * time.Hour).Unix()
	ok, err := s.UpdateCredential(ctx, got)
	require.NoError(t, err)
	assert.True(t, ok)

	reread, err := s.GetCredential(ctx, "puuid-1", 1)
	require.NoError(t, err)
	assert.Equal(t, "enc-access-2", reread.AccessToken)

	ok, err = s.DeleteCredential(ctx, "puuid-1", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	absent, err := s.GetCredential(ctx, "puuid-1", 1)
	require.NoError(t, err)
	assert.Nil(t, absent)

	ok, err = s.DeleteCredential(ctx, "puuid-1", 1)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteStore_DuplicateLinkRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, 1, "")
	require.NoError(t, err)

	require.NoError(t, s.CreateCredential(ctx, testRecord("puuid-1", 1)))

	err = s.CreateCredential(ctx, testRecord("puuid-1", 1))
	require.Error(t, err)
	var dup *verrors.ErrDuplicateCredential
	assert.ErrorAs(t, err, &dup)

	// A different owner may link the same upstream account.
	_, err = s.CreateUser(ctx, 2, "")
	require.NoError(t, err)
	assert.NoError(t, s.CreateCredential(ctx, testRecord("puuid-1", 2)))
}

func TestSQLiteStore_ListOrderedByCreation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, 1, "")
	require.NoError(t, err)

	for _, puuid := range []string{"puuid-a", "puuid-b", "puuid-c"} {
		require.NoError(t, s.CreateCredential(ctx, testRecord(puuid, 1)))
	}

	recs, err := s.ListCredentials(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "puuid-a", recs[0].PUUID)
	assert.Equal(t, "puuid-c", recs[2].PUUID)
}

func TestSQLiteStore_DeleteUserCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, 1, "")
	require.NoError(t, err)
	require.NoError(t, s.CreateCredential(ctx, testRecord("puuid-1", 1)))
	require.NoError(t, s.CreateCredential(ctx, testRecord("puuid-2", 1)))

	require.NoError(t, s.DeleteUser(ctx, 1))

	recs, err := s.ListCredentials(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestSQLiteStore_ListAllCredentials(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateUser(ctx, 1, "")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, 2, "")
	require.NoError(t, err)
	require.NoError(t, s.CreateCredential(ctx, testRecord("puuid-1", 1)))
	require.NoError(t, s.CreateCredential(ctx, testRecord("puuid-2", 2)))
	require.NoError(t, s.CreateCredential(ctx, testRecord("puuid-3", 1)))

	recs, err := s.ListAllCredentials(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	// Grouped by owner, then by creation.
	assert.Equal(t, int64(1), recs[0].OwnerID)
	assert.Equal(t, int64(1), recs[1].OwnerID)
	assert.Equal(t, int64(2), recs[2].OwnerID)
}

func TestCredentialRecord_ExpiryBoundary(t *testing.T) {
	now := time.Now().UTC()
	rec := &models.CredentialRecord{ExpiresAt: now.Unix()}

	// expires_at == now counts as expired.
	assert.True(t, rec.Expired(now))
	assert.True(t, rec.Expired(now.Add(time.Second)))
	assert.False(t, rec.Expired(now.Add(-2*time.Second)))
}
