package media

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zots0127/gallery/internal/alias"
	"github.com/zots0127/gallery/internal/domain"
	"github.com/zots0127/gallery/internal/quota"
	"github.com/zots0127/gallery/internal/repository"
	"github.com/zots0127/gallery/internal/storage"
	"github.com/zots0127/gallery/internal/thumbs"
	"github.com/zots0127/gallery/internal/upload"
)

const titleLength = 12

const titleChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// Blobs on disk without a content row are reclaimed only once they are
// old enough that no live upload can still be about to register them.
const unregisteredBlobAge = time.Hour

// Service owns the media record lifecycle: creation after upload
// admission or a slot match, the deletion cascade, and the deferred
// reclamation sweep for unreferenced content.
type Service struct {
	repo   *repository.Repository
	store  *storage.Store
	alias  *alias.Publisher
	thumbs *thumbs.Generator
	ledger *quota.Ledger
}

// CreateRequest carries the caller-declared record attributes.
// Declared size and media type are trusted when supplied; missing
// values are filled from the content entry.
type CreateRequest struct {
	Name         string
	MediaType    string
	Metadata     map[string]interface{}
	DeclaredSize int64
	IsAvatar     bool
	AvatarThumbs bool
}

// NewService creates the media service.
func NewService(repo *repository.Repository, store *storage.Store, publisher *alias.Publisher, generator *thumbs.Generator, ledger *quota.Ledger) *Service {
	return &Service{
		repo:   repo,
		store:  store,
		alias:  publisher,
		thumbs: generator,
		ledger: ledger,
	}
}

// CreateFromUpload creates the media record for a completed upload,
// publishes its alias, recomputes the owner's quota and schedules
// derivative generation.
func (s *Service) CreateFromUpload(ctx context.Context, userID int64, res *upload.Result, req CreateRequest) (*domain.MediaRecord, error) {
	return s.create(ctx, userID, res.Entry, res.Size, req)
}

// SlotCheck answers the pre-upload "do you already have this content"
// probe. When the digest is known, a new media record referencing the
// existing entry is created without any bytes being sent; otherwise the
// caller gets the quota state and proceeds with a real upload.
func (s *Service) SlotCheck(ctx context.Context, userID int64, digest string, size int64, name string) (*domain.MediaRecord, *domain.QuotaState, error) {
	snapshot, err := s.ledger.Snapshot(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if size+snapshot.Used > snapshot.Allowed+s.ledger.Oversize() {
		return nil, nil, fmt.Errorf("%w: %d declared, %d used, %d allowed",
			domain.ErrQuotaExceeded, size, snapshot.Used, snapshot.Allowed)
	}

	entry, err := s.repo.FindContentByDigest(ctx, digest)
	if errors.Is(err, domain.ErrNotFound) {
		// Unknown digest: nothing to link, the client sends the bytes.
		return nil, snapshot, nil
	}
	if err != nil {
		return nil, nil, err
	}

	record, err := s.create(ctx, userID, entry, entry.Size, CreateRequest{Name: name, DeclaredSize: size})
	if err != nil {
		return nil, nil, err
	}
	return record, snapshot, nil
}

func (s *Service) create(ctx context.Context, userID int64, entry *domain.ContentEntry, actualSize int64, req CreateRequest) (*domain.MediaRecord, error) {
	record := &domain.MediaRecord{
		UserID:       userID,
		ContentID:    entry.ID,
		Name:         req.Name,
		Size:         req.DeclaredSize,
		MediaType:    req.MediaType,
		Metadata:     req.Metadata,
		IsAvatar:     req.IsAvatar,
		AvatarThumbs: req.AvatarThumbs,
	}

	if record.Name == "" {
		record.Name = entry.Digest[6:]
	}
	if record.Size == 0 {
		record.Size = actualSize
	}
	if record.MediaType == "" {
		record.MediaType = "application/octet-stream"
	}

	// Titles are random and globally unique; regenerate on collision.
	for attempt := 0; ; attempt++ {
		record.Title = generateTitle(titleLength)
		created, err := s.repo.CreateMedia(ctx, record)
		if err != nil {
			return nil, err
		}
		if created {
			break
		}
		if attempt >= 5 {
			return nil, fmt.Errorf("failed to allocate a unique title")
		}
	}

	if err := s.alias.Publish(record.Title, record.Name, entry.Path); err != nil {
		log.Warn().Err(err).Str("title", record.Title).Msg("alias publish failed")
	}

	if _, err := s.ledger.Commit(ctx, userID); err != nil {
		log.Warn().Err(err).Int64("user", userID).Msg("quota recompute failed after record create")
	}

	s.thumbs.Enqueue(record, entry)
	return record, nil
}

// Get returns a record owned by the user.
func (s *Service) Get(ctx context.Context, userID, id int64) (*domain.MediaRecord, error) {
	record, err := s.repo.GetMedia(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.UserID != userID {
		return nil, fmt.Errorf("%w: media record", domain.ErrNotFound)
	}
	return record, nil
}

// GetByTitle returns a record owned by the user, located via its title.
func (s *Service) GetByTitle(ctx context.Context, userID int64, title string) (*domain.MediaRecord, error) {
	record, err := s.repo.GetMediaByTitle(ctx, title)
	if err != nil {
		return nil, err
	}
	if record.UserID != userID {
		return nil, fmt.Errorf("%w: media record", domain.ErrNotFound)
	}
	return record, nil
}

// Delete removes a media record. Aliases disappear synchronously;
// unreferenced content bytes are reclaimed by the deferred sweep so
// record deletion stays cheap and tolerates filesystem hiccups.
func (s *Service) Delete(ctx context.Context, record *domain.MediaRecord) error {
	if err := s.repo.DeleteMedia(ctx, record.ID); err != nil {
		return err
	}

	if err := s.alias.UnpublishAll(record.Title); err != nil {
		log.Warn().Err(err).Str("title", record.Title).Msg("alias removal failed")
	}

	if _, err := s.ledger.Commit(ctx, record.UserID); err != nil {
		log.Warn().Err(err).Int64("user", record.UserID).Msg("quota recompute failed after delete")
	}

	go s.SweepOrphans(context.Background())
	return nil
}

// SweepOrphans reclaims content entries no media record references:
// derivative files and rows, the original bytes, then the entry row.
// A second pass walks the blob store for files whose content row never
// landed, which the row scan cannot see. Failures are logged and left
// for the next pass.
func (s *Service) SweepOrphans(ctx context.Context) {
	s.sweepEntries(ctx)
	s.sweepUnregisteredBlobs(ctx)
}

func (s *Service) sweepEntries(ctx context.Context) {
	orphans, err := s.repo.OrphanContent(ctx)
	if err != nil {
		log.Error().Err(err).Msg("orphan content scan failed")
		return
	}

	for _, entry := range orphans {
		derivatives, err := s.repo.ListDerivativesByContent(ctx, entry.ID)
		if err != nil {
			log.Warn().Err(err).Str("digest", entry.Digest).Msg("derivative listing failed, skipping entry")
			continue
		}
		for _, d := range derivatives {
			if err := s.store.RemovePath(d.Path); err != nil {
				log.Warn().Err(err).Str("path", d.Path).Msg("derivative file removal failed")
			}
		}
		if err := s.repo.DeleteDerivativesByContent(ctx, entry.ID); err != nil {
			log.Warn().Err(err).Str("digest", entry.Digest).Msg("derivative rows removal failed, skipping entry")
			continue
		}
		if err := s.store.Remove(entry.Digest); err != nil {
			log.Warn().Err(err).Str("digest", entry.Digest).Msg("content bytes removal failed, skipping entry")
			continue
		}
		if err := s.repo.DeleteContent(ctx, entry.ID); err != nil {
			log.Warn().Err(err).Str("digest", entry.Digest).Msg("content row removal failed")
			continue
		}
		log.Info().Str("digest", entry.Digest).Msg("reclaimed unreferenced content")
	}
}

// sweepUnregisteredBlobs removes stored originals whose registration
// failed after the bytes were committed, leaving a file no content row
// points at. Recent files are left alone in case an open upload is
// still between its commit and its row insert.
func (s *Service) sweepUnregisteredBlobs(ctx context.Context) {
	cutoff := time.Now().Add(-unregisteredBlobAge)
	err := s.store.WalkBlobs(func(digest, path string, modTime time.Time) error {
		if modTime.After(cutoff) {
			return nil
		}
		_, err := s.repo.FindContentByDigest(ctx, digest)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if err := s.store.RemovePath(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("unregistered blob removal failed")
			return nil
		}
		log.Info().Str("digest", digest).Msg("reclaimed unregistered blob")
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("blob store walk failed")
	}
}

// StartSweeper runs SweepOrphans periodically until ctx ends.
func (s *Service) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.SweepOrphans(ctx)
			}
		}
	}()
}

// Bucket is one per-kind slice of the usage statistics.
type Bucket struct {
	Count int   `json:"count"`
	Used  int64 `json:"used"`
}

// Stats is the per-user usage breakdown.
type Stats struct {
	Images Bucket `json:"images"`
	Videos Bucket `json:"videos"`
	Voices Bucket `json:"voices"`
	Files  Bucket `json:"files"`
	Total  Bucket `json:"total"`
	Quota  int64  `json:"quota"`
}

// UserStats aggregates the user's records by media kind.
func (s *Service) UserStats(ctx context.Context, userID int64) (*Stats, error) {
	records, err := s.repo.ListMediaByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	snapshot, err := s.ledger.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Quota: snapshot.Allowed}
	for _, r := range records {
		bucket := &stats.Files
		switch r.Kind() {
		case "image":
			bucket = &stats.Images
		case "video":
			bucket = &stats.Videos
		case "voice":
			bucket = &stats.Voices
		}
		bucket.Count++
		bucket.Used += r.Size
		stats.Total.Count++
		stats.Total.Used += r.Size
	}
	return stats, nil
}

func generateTitle(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = titleChars[rand.Intn(len(titleChars))]
	}
	return string(b)
}
