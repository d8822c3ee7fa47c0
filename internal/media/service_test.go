package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zots0127/gallery/internal/alias"
	"github.com/zots0127/gallery/internal/domain"
	"github.com/zots0127/gallery/internal/quota"
	"github.com/zots0127/gallery/internal/repository"
	"github.com/zots0127/gallery/internal/storage"
	"github.com/zots0127/gallery/internal/thumbs"
	"github.com/zots0127/gallery/internal/upload"
	"github.com/zots0127/gallery/pkg/config"
)

type svcFixture struct {
	svc    *Service
	repo   *repository.Repository
	store  *storage.Store
	alias  *alias.Publisher
	ledger *quota.Ledger
	userID int64
}

func newSvcFixture(t *testing.T) *svcFixture {
	t.Helper()

	store, err := storage.New(t.TempDir())
	require.NoError(t, err)

	repo, err := repository.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	user, err := repo.GetOrCreateUser(context.Background(), "+15550001111")
	require.NoError(t, err)

	publisher := alias.New(store.SymlinksRoot())
	ledger := quota.NewLedger(repo, config.QuotaConfig{
		DefaultQuota: 1000,
		Oversize:     100,
		FilesLimit:   100,
		TimeWindow:   10 * time.Second,
		ReserveTTL:   time.Hour,
	})
	generator := thumbs.NewGenerator(repo, store, publisher, config.ThumbsConfig{
		Size:        256,
		AvatarSizes: []int{32, 64},
		QueueSize:   64,
	})

	return &svcFixture{
		svc:    NewService(repo, store, publisher, generator, ledger),
		repo:   repo,
		store:  store,
		alias:  publisher,
		ledger: ledger,
		userID: user.ID,
	}
}

// storeBytes commits raw bytes as content and returns the entry.
func (f *svcFixture) storeBytes(t *testing.T, data []byte) *domain.ContentEntry {
	t.Helper()

	spill, err := f.store.NewSpill()
	require.NoError(t, err)
	_, err = spill.Write(data)
	require.NoError(t, err)
	require.NoError(t, spill.Close())

	digest, size, err := storage.HashFile(spill.Name())
	require.NoError(t, err)
	path, err := f.store.Commit(spill.Name(), digest)
	require.NoError(t, err)

	entry, _, err := f.repo.GetOrCreateContent(context.Background(), digest, size, path)
	require.NoError(t, err)
	return entry
}

func TestCreateFromUploadDefaults(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture(t)
	entry := f.storeBytes(t, []byte("uploaded bytes"))

	record, err := f.svc.CreateFromUpload(ctx, f.userID, &upload.Result{Entry: entry, Size: entry.Size}, CreateRequest{})
	require.NoError(t, err)

	assert.Len(t, record.Title, titleLength)
	assert.Equal(t, entry.Digest[6:], record.Name)
	assert.Equal(t, entry.Size, record.Size)
	assert.Equal(t, "application/octet-stream", record.MediaType)
	assert.Equal(t, entry.ID, record.ContentID)

	// Record creation commits the durable aggregate.
	used, err := f.ledger.Used(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, record.Size, used)

	// The public alias is live.
	link := filepath.Join(f.alias.Dir(record.Title), record.Name)
	target, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, entry.Path, target)
}

func TestCreateFromUploadExplicitAttributes(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture(t)
	entry := f.storeBytes(t, []byte("tagged bytes"))

	record, err := f.svc.CreateFromUpload(ctx, f.userID, &upload.Result{Entry: entry, Size: entry.Size}, CreateRequest{
		Name:      "holiday.jpg",
		MediaType: "image/jpeg",
		Metadata:  map[string]interface{}{"caption": "beach"},
	})
	require.NoError(t, err)

	assert.Equal(t, "holiday.jpg", record.Name)
	assert.Equal(t, "image/jpeg", record.MediaType)

	stored, err := f.repo.GetMedia(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "beach", stored.Metadata["caption"])
	assert.Equal(t, "image", stored.Kind())
}

func TestDedupSharesContent(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture(t)
	entry := f.storeBytes(t, []byte("shared bytes"))

	first, err := f.svc.CreateFromUpload(ctx, f.userID, &upload.Result{Entry: entry, Size: entry.Size}, CreateRequest{})
	require.NoError(t, err)
	second, err := f.svc.CreateFromUpload(ctx, f.userID, &upload.Result{Entry: entry, Size: entry.Size}, CreateRequest{})
	require.NoError(t, err)

	assert.NotEqual(t, first.Title, second.Title)
	assert.Equal(t, first.ContentID, second.ContentID)

	refs, err := f.repo.RefCount(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, refs)
}

func TestDeleteKeepsSharedBytes(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture(t)
	entry := f.storeBytes(t, []byte("still referenced"))

	first, err := f.svc.CreateFromUpload(ctx, f.userID, &upload.Result{Entry: entry, Size: entry.Size}, CreateRequest{})
	require.NoError(t, err)
	_, err = f.svc.CreateFromUpload(ctx, f.userID, &upload.Result{Entry: entry, Size: entry.Size}, CreateRequest{})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, first))
	f.svc.SweepOrphans(ctx)

	// The alias vanishes synchronously, the bytes stay put.
	_, err = os.Stat(f.alias.Dir(first.Title))
	assert.True(t, os.IsNotExist(err))
	assert.True(t, f.store.Exists(entry.Digest))
}

func TestDeleteLastReferenceReclaims(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture(t)
	entry := f.storeBytes(t, []byte("soon to be orphaned"))

	record, err := f.svc.CreateFromUpload(ctx, f.userID, &upload.Result{Entry: entry, Size: entry.Size}, CreateRequest{})
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(ctx, record))
	f.svc.SweepOrphans(ctx)

	assert.False(t, f.store.Exists(entry.Digest))
	_, err = f.repo.GetContent(ctx, entry.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)

	used, err := f.ledger.Used(ctx, f.userID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), used)
}

func TestSweepReclaimsUnregisteredBlobs(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture(t)

	// The bytes landed at their content-addressed path but the row
	// insert never happened, so the row scan cannot see them.
	spill, err := f.store.NewSpill()
	require.NoError(t, err)
	_, err = spill.Write([]byte("bytes without a row"))
	require.NoError(t, err)
	require.NoError(t, spill.Close())

	digest, _, err := storage.HashFile(spill.Name())
	require.NoError(t, err)
	path, err := f.store.Commit(spill.Name(), digest)
	require.NoError(t, err)

	// A freshly committed blob could belong to an upload that is
	// still between commit and registration; it must survive.
	f.svc.SweepOrphans(ctx)
	assert.True(t, f.store.Exists(digest))

	old := time.Now().Add(-2 * unregisteredBlobAge)
	require.NoError(t, os.Chtimes(path, old, old))
	f.svc.SweepOrphans(ctx)
	assert.False(t, f.store.Exists(digest))

	// Registered content of the same age is untouched.
	entry := f.storeBytes(t, []byte("registered content"))
	require.NoError(t, os.Chtimes(entry.Path, old, old))
	_, err = f.svc.CreateFromUpload(ctx, f.userID, &upload.Result{Entry: entry, Size: entry.Size}, CreateRequest{})
	require.NoError(t, err)
	f.svc.SweepOrphans(ctx)
	assert.True(t, f.store.Exists(entry.Digest))
}

func TestSlotCheck(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture(t)
	entry := f.storeBytes(t, []byte("already stored"))

	t.Run("known digest links without bytes", func(t *testing.T) {
		record, snapshot, err := f.svc.SlotCheck(ctx, f.userID, entry.Digest, entry.Size, "copy.bin")
		require.NoError(t, err)
		require.NotNil(t, record)
		assert.Equal(t, entry.ID, record.ContentID)
		assert.Equal(t, "copy.bin", record.Name)
		assert.Equal(t, int64(1000), snapshot.Allowed)
	})

	t.Run("unknown digest tells the client to upload", func(t *testing.T) {
		record, snapshot, err := f.svc.SlotCheck(ctx, f.userID, "00112233445566778899aabbccddeeff00112233", 10, "new.bin")
		require.NoError(t, err)
		assert.Nil(t, record)
		require.NotNil(t, snapshot)
	})

	t.Run("over quota rejected up front", func(t *testing.T) {
		_, _, err := f.svc.SlotCheck(ctx, f.userID, entry.Digest, 5000, "big.bin")
		require.ErrorIs(t, err, domain.ErrQuotaExceeded)
	})
}

func TestOwnershipScoping(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture(t)
	entry := f.storeBytes(t, []byte("mine"))

	record, err := f.svc.CreateFromUpload(ctx, f.userID, &upload.Result{Entry: entry, Size: entry.Size}, CreateRequest{})
	require.NoError(t, err)

	other, err := f.repo.GetOrCreateUser(ctx, "+15550002222")
	require.NoError(t, err)

	_, err = f.svc.Get(ctx, other.ID, record.ID)
	require.ErrorIs(t, err, domain.ErrNotFound)
	_, err = f.svc.GetByTitle(ctx, other.ID, record.Title)
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := f.svc.GetByTitle(ctx, f.userID, record.Title)
	require.NoError(t, err)
	assert.Equal(t, record.ID, got.ID)
}

func TestUserStats(t *testing.T) {
	ctx := context.Background()
	f := newSvcFixture(t)

	specs := []struct {
		data      string
		mediaType string
	}{
		{"image one", "image/jpeg"},
		{"image two", "image/png"},
		{"a video", "video/mp4"},
		{"a voice note", "voice/ogg"},
		{"a document", "application/pdf"},
	}
	var total int64
	for _, spec := range specs {
		entry := f.storeBytes(t, []byte(spec.data))
		_, err := f.svc.CreateFromUpload(ctx, f.userID, &upload.Result{Entry: entry, Size: entry.Size}, CreateRequest{MediaType: spec.mediaType})
		require.NoError(t, err)
		total += entry.Size
	}

	stats, err := f.svc.UserStats(ctx, f.userID)
	require.NoError(t, err)

	assert.Equal(t, 2, stats.Images.Count)
	assert.Equal(t, 1, stats.Videos.Count)
	assert.Equal(t, 1, stats.Voices.Count)
	assert.Equal(t, 1, stats.Files.Count)
	assert.Equal(t, 5, stats.Total.Count)
	assert.Equal(t, total, stats.Total.Used)
	assert.Equal(t, int64(1000), stats.Quota)
}

func TestGenerateTitle(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		title := generateTitle(titleLength)
		require.Len(t, title, titleLength)
		for _, r := range title {
			ok := (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
			require.True(t, ok, "unexpected character %q", r)
		}
		seen[title] = true
	}
	// 62^12 titles: collisions across a hundred draws mean a broken generator.
	assert.Len(t, seen, 100)
}
