package thumbs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"

	"github.com/zots0127/gallery/internal/alias"
	"github.com/zots0127/gallery/internal/domain"
	"github.com/zots0127/gallery/internal/repository"
	"github.com/zots0127/gallery/internal/storage"
	"github.com/zots0127/gallery/pkg/config"
)

// FrameExtractor pulls a representative still frame out of a video
// file. The binary ships without one; video thumbnails are skipped
// until an implementation is wired in.
type FrameExtractor interface {
	ExtractFrame(path string) (image.Image, error)
}

// Task is one derivative-generation work item.
type Task struct {
	Record *domain.MediaRecord
	Entry  *domain.ContentEntry
}

// Generator produces thumbnails and avatar size variants off the
// request path. Work items flow through a bounded queue into a fixed
// worker pool; when the queue is full new work is rejected rather than
// spawning unbounded goroutines. Every failure is logged and swallowed:
// a record is servable without its thumbnail.
type Generator struct {
	repo      *repository.Repository
	store     *storage.Store
	alias     *alias.Publisher
	extractor FrameExtractor

	thumbSize int
	ladder    []int

	queue chan Task
	wg    sync.WaitGroup
}

// NewGenerator creates a derivative generator.
func NewGenerator(repo *repository.Repository, store *storage.Store, publisher *alias.Publisher, cfg config.ThumbsConfig) *Generator {
	return &Generator{
		repo:      repo,
		store:     store,
		alias:     publisher,
		thumbSize: cfg.Size,
		ladder:    cfg.AvatarSizes,
		queue:     make(chan Task, cfg.QueueSize),
	}
}

// WithFrameExtractor wires in a video frame extractor.
func (g *Generator) WithFrameExtractor(e FrameExtractor) *Generator {
	g.extractor = e
	return g
}

// Start launches the worker pool. Workers drain the queue until Stop.
func (g *Generator) Start(ctx context.Context, workers int) {
	for i := 0; i < workers; i++ {
		g.wg.Add(1)
		go func() {
			defer g.wg.Done()
			for task := range g.queue {
				g.Process(ctx, task)
			}
		}()
	}
}

// Stop closes the queue and waits for in-flight work to finish.
func (g *Generator) Stop() {
	close(g.queue)
	g.wg.Wait()
}

// Enqueue schedules derivative generation for a freshly created media
// record. Returns false when the queue is saturated; the work is
// dropped and the record simply has no thumbnail.
func (g *Generator) Enqueue(record *domain.MediaRecord, entry *domain.ContentEntry) bool {
	select {
	case g.queue <- Task{Record: record, Entry: entry}:
		return true
	default:
		log.Warn().Str("title", record.Title).Msg("derivative queue full, dropping work item")
		return false
	}
}

// Process generates the default thumbnail and, for avatar records, the
// size ladder. Exported so tests and the slot path can run it inline.
func (g *Generator) Process(ctx context.Context, task Task) {
	kind := task.Record.Kind()

	if kind == "image" || kind == "video" {
		if err := g.ensureDefaultThumb(ctx, task); err != nil {
			log.Warn().Err(err).Str("digest", task.Entry.Digest).Msg("thumbnail generation failed")
		}
	}

	if task.Record.IsAvatar && task.Record.AvatarThumbs && kind == "image" {
		if err := g.ensureAvatarLadder(ctx, task); err != nil {
			log.Warn().Err(err).Str("digest", task.Entry.Digest).Msg("avatar ladder generation failed")
		}
	}
}

func (g *Generator) ensureDefaultThumb(ctx context.Context, task Task) error {
	record, entry := task.Record, task.Entry

	// Lookup ignores the side size: an entry thumbnailed under an
	// earlier configuration keeps that derivative as its default.
	deriv, err := g.repo.GetDefaultDerivative(ctx, entry.ID)
	if errors.Is(err, domain.ErrNotFound) {
		deriv, err = g.generateDefaultThumb(ctx, task)
		if deriv == nil {
			return err
		}
	}
	if err != nil {
		return err
	}

	return g.alias.Publish(record.Title, "thumb_"+record.Name, deriv.Path)
}

func (g *Generator) generateDefaultThumb(ctx context.Context, task Task) (*domain.Derivative, error) {
	record, entry := task.Record, task.Entry

	var img image.Image
	var format imaging.Format
	switch record.Kind() {
	case "image":
		f, err := os.Open(entry.Path)
		if err != nil {
			return nil, err
		}
		var name string
		img, name, err = image.Decode(f)
		f.Close()
		if err != nil {
			return nil, err
		}
		format = formatFor(name)
	case "video":
		if g.extractor == nil {
			log.Debug().Str("digest", entry.Digest).Msg("no frame extractor, skipping video thumbnail")
			return nil, nil
		}
		frame, err := g.extractor.ExtractFrame(entry.Path)
		if err != nil {
			return nil, err
		}
		img = frame
		format = imaging.JPEG
	}

	thumb := imaging.Fill(img, g.thumbSize, g.thumbSize, imaging.Center, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, format, imaging.JPEGQuality(60)); err != nil {
		return nil, err
	}

	name := "thumb_" + entry.Digest + extFor(format)
	path, err := g.store.WriteDerivative(entry.Digest, name, &buf)
	if err != nil {
		return nil, err
	}

	deriv := &domain.Derivative{ContentID: entry.ID, Path: path, SideSize: g.thumbSize}
	created, err := g.repo.CreateDerivative(ctx, deriv)
	if err != nil {
		return nil, err
	}
	if !created {
		// Lost a benign race with a concurrent generation; paths are
		// digest-deterministic so the winner's bytes are equivalent.
		return g.repo.GetDefaultDerivative(ctx, entry.ID)
	}
	return deriv, nil
}

func (g *Generator) ensureAvatarLadder(ctx context.Context, task Task) error {
	record, entry := task.Record, task.Entry

	f, err := os.Open(entry.Path)
	if err != nil {
		return err
	}
	img, _, err := image.Decode(f)
	f.Close()
	if err != nil {
		return err
	}

	natural := img.Bounds().Dx()
	stem := strings.TrimSuffix(record.Name, filepath.Ext(record.Name))

	var firstErr error
	for _, size := range g.ladder {
		if size >= natural {
			continue
		}

		deriv, err := g.repo.GetDerivative(ctx, entry.ID, true, size)
		if errors.Is(err, domain.ErrNotFound) {
			deriv, err = g.generateAvatarSize(ctx, entry, img, size)
		}
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		aliasName := fmt.Sprintf("%d_%s.png", size, stem)
		if err := g.alias.Publish(record.Title, aliasName, deriv.Path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (g *Generator) generateAvatarSize(ctx context.Context, entry *domain.ContentEntry, img image.Image, size int) (*domain.Derivative, error) {
	resized := imaging.Resize(img, size, size, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, resized, imaging.PNG); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%d_%s.png", size, entry.Digest)
	path, err := g.store.WriteDerivative(entry.Digest, name, &buf)
	if err != nil {
		return nil, err
	}

	deriv := &domain.Derivative{ContentID: entry.ID, Path: path, IsAvatar: true, SideSize: size}
	created, err := g.repo.CreateDerivative(ctx, deriv)
	if err != nil {
		return nil, err
	}
	if !created {
		return g.repo.GetDerivative(ctx, entry.ID, true, size)
	}
	return deriv, nil
}
