package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zots0127/gallery/internal/domain"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestGetOrCreateContent(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	digest := "356a192b7913b04c54574d18c28d46e6395428ab"

	entry, created, err := repo.GetOrCreateContent(ctx, digest, 42, "/blobs/35/6a/"+digest)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotZero(t, entry.ID)

	// A second call with the same digest returns the existing row.
	again, created, err := repo.GetOrCreateContent(ctx, digest, 42, "/blobs/other")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, entry.ID, again.ID)
	assert.Equal(t, entry.Path, again.Path)

	found, err := repo.FindContentByDigest(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, entry.ID, found.ID)

	_, err = repo.FindContentByDigest(ctx, "0000000000000000000000000000000000000000")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRefCountAndOrphans(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	user, err := repo.GetOrCreateUser(ctx, "+15550001111")
	require.NoError(t, err)

	referenced, _, err := repo.GetOrCreateContent(ctx, "1111111111111111111111111111111111111111", 10, "/a")
	require.NoError(t, err)
	orphan, _, err := repo.GetOrCreateContent(ctx, "2222222222222222222222222222222222222222", 20, "/b")
	require.NoError(t, err)

	created, err := repo.CreateMedia(ctx, &domain.MediaRecord{
		UserID:    user.ID,
		ContentID: referenced.ID,
		Title:     "AAAAAAAAAAAA",
		Name:      "a.bin",
		Size:      10,
		MediaType: "application/octet-stream",
	})
	require.NoError(t, err)
	require.True(t, created)

	refs, err := repo.RefCount(ctx, referenced.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, refs)
	refs, err = repo.RefCount(ctx, orphan.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, refs)

	orphans, err := repo.OrphanContent(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, orphan.ID, orphans[0].ID)
}

func TestCreateMediaTitleCollision(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	user, err := repo.GetOrCreateUser(ctx, "+15550001111")
	require.NoError(t, err)
	entry, _, err := repo.GetOrCreateContent(ctx, "3333333333333333333333333333333333333333", 5, "/c")
	require.NoError(t, err)

	record := &domain.MediaRecord{
		UserID: user.ID, ContentID: entry.ID, Title: "SAMETITLE000",
		Name: "x", Size: 5, MediaType: "application/octet-stream",
	}
	created, err := repo.CreateMedia(ctx, record)
	require.NoError(t, err)
	assert.True(t, created)

	dup := &domain.MediaRecord{
		UserID: user.ID, ContentID: entry.ID, Title: "SAMETITLE000",
		Name: "y", Size: 5, MediaType: "application/octet-stream",
	}
	created, err = repo.CreateMedia(ctx, dup)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestQuotaRecompute(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	user, err := repo.GetOrCreateUser(ctx, "+15550001111")
	require.NoError(t, err)

	quota, err := repo.GetOrCreateQuota(ctx, user.ID, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), quota.Allowed)
	assert.Equal(t, int64(0), quota.Used)

	entry, _, err := repo.GetOrCreateContent(ctx, "4444444444444444444444444444444444444444", 300, "/d")
	require.NoError(t, err)
	for i, title := range []string{"TITLEAAAAAAA", "TITLEBBBBBBB"} {
		created, err := repo.CreateMedia(ctx, &domain.MediaRecord{
			UserID: user.ID, ContentID: entry.ID, Title: title,
			Name: "f", Size: int64(100 * (i + 1)), MediaType: "application/octet-stream",
		})
		require.NoError(t, err)
		require.True(t, created)
	}

	used, err := repo.RecomputeQuotaUsed(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), used)

	quota, err = repo.GetOrCreateQuota(ctx, user.ID, 1000)
	require.NoError(t, err)
	assert.Equal(t, int64(300), quota.Used)
}

func TestDerivativeUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	entry, _, err := repo.GetOrCreateContent(ctx, "5555555555555555555555555555555555555555", 8, "/e")
	require.NoError(t, err)

	created, err := repo.CreateDerivative(ctx, &domain.Derivative{
		ContentID: entry.ID, Path: "/thumbs/t1", SideSize: 256,
	})
	require.NoError(t, err)
	assert.True(t, created)

	// Same slot again: the first writer won.
	created, err = repo.CreateDerivative(ctx, &domain.Derivative{
		ContentID: entry.ID, Path: "/thumbs/t2", SideSize: 256,
	})
	require.NoError(t, err)
	assert.False(t, created)

	// A default at another side size is still the same slot.
	created, err = repo.CreateDerivative(ctx, &domain.Derivative{
		ContentID: entry.ID, Path: "/thumbs/t3", SideSize: 128,
	})
	require.NoError(t, err)
	assert.False(t, created)

	// The avatar flag opens a distinct slot, and avatars stay unique
	// per side size.
	created, err = repo.CreateDerivative(ctx, &domain.Derivative{
		ContentID: entry.ID, Path: "/thumbs/a1", IsAvatar: true, SideSize: 256,
	})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateDerivative(ctx, &domain.Derivative{
		ContentID: entry.ID, Path: "/thumbs/a2", IsAvatar: true, SideSize: 128,
	})
	require.NoError(t, err)
	assert.True(t, created)

	deriv, err := repo.GetDerivative(ctx, entry.ID, false, 256)
	require.NoError(t, err)
	assert.Equal(t, "/thumbs/t1", deriv.Path)

	deriv, err = repo.GetDefaultDerivative(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, "/thumbs/t1", deriv.Path)
	assert.Equal(t, 256, deriv.SideSize)
}
