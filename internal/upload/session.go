package upload

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zots0127/gallery/internal/domain"
	"github.com/zots0127/gallery/internal/quota"
	"github.com/zots0127/gallery/internal/repository"
	"github.com/zots0127/gallery/internal/storage"
	"github.com/zots0127/gallery/internal/thumbs"
	"github.com/zots0127/gallery/pkg/config"
)

var mediaTypeRegex = regexp.MustCompile(`^\w+/[-.\w]+(\+[-.\w]+)?$`)

// State of an upload session.
type State int

const (
	StateOpened State = iota
	StateReceiving
	StateCompleted
	StateRejected
)

// ErrIdleTimeout aborts sessions abandoned mid-stream.
var ErrIdleTimeout = errors.New("upload session idle timeout")

// Admission is the streaming upload state machine. It admits or
// rejects a byte stream before the full size is known: a fast reserve
// against declared size at open, then three independent ceilings on
// every received chunk. Bytes spill to a temp file; the digest is
// folded incrementally so completion needs no second read.
type Admission struct {
	store  *storage.Store
	ledger *quota.Ledger
	repo   *repository.Repository

	maxFileSize   int64
	oversize      int64
	maxAvatarSize int
	idleTimeout   time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// Session is one in-progress upload.
type Session struct {
	ID string

	adm       *Admission
	userID    int64
	declared  int64
	mediaType string
	isAvatar  bool

	mu           sync.Mutex
	state        State
	spill        *os.File
	spillPath    string
	hasher       hash.Hash
	received     int64
	resv         *quota.Reservation
	allowed      int64
	avatarSide   int
	lastActivity time.Time
}

// Result of a completed upload.
type Result struct {
	Entry *domain.ContentEntry
	Size  int64

	// AvatarSide is the final square side after an avatar crop, zero
	// for non-avatar uploads.
	AvatarSide int
}

// NewAdmission creates the upload admission pipeline.
func NewAdmission(store *storage.Store, ledger *quota.Ledger, repo *repository.Repository, cfg config.QuotaConfig, maxAvatarSize int) *Admission {
	return &Admission{
		store:         store,
		ledger:        ledger,
		repo:          repo,
		maxFileSize:   cfg.MaxFileSize,
		oversize:      cfg.Oversize,
		maxAvatarSize: maxAvatarSize,
		idleTimeout:   cfg.SessionTimeout,
		sessions:      make(map[string]*Session),
	}
}

// Open starts an upload session for an authenticated user. The session
// counts against the rate window immediately; if a declared size is
// supplied it is reserved against the quota up front, otherwise
// enforcement falls entirely to the streaming checks.
func (a *Admission) Open(ctx context.Context, userID, declaredSize int64, mediaType string, isAvatar bool) (*Session, error) {
	if mediaType != "" && !mediaTypeRegex.MatchString(mediaType) {
		return nil, fmt.Errorf("%w: media type %q", domain.ErrMalformedInput, mediaType)
	}
	if isAvatar && mediaType != "" && !strings.HasPrefix(mediaType, "image/") {
		return nil, fmt.Errorf("%w: avatar upload requires image content", domain.ErrMalformedInput)
	}

	if err := a.ledger.BeginSession(userID); err != nil {
		return nil, err
	}

	snapshot, err := a.ledger.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	// Undeclared uploads reserve zero bytes; the reservation still
	// registers the session with the ledger so its stream is visible
	// to concurrent checks as bytes arrive.
	resv, err := a.ledger.Reserve(ctx, userID, declaredSize)
	if err != nil {
		return nil, err
	}

	spill, err := a.store.NewSpill()
	if err != nil {
		a.ledger.Release(resv)
		return nil, err
	}

	sess := &Session{
		ID:           uuid.NewString(),
		adm:          a,
		userID:       userID,
		declared:     declaredSize,
		mediaType:    mediaType,
		isAvatar:     isAvatar,
		state:        StateOpened,
		spill:        spill,
		spillPath:    spill.Name(),
		hasher:       sha1.New(),
		resv:         resv,
		allowed:      snapshot.Allowed,
		lastActivity: time.Now(),
	}

	a.mu.Lock()
	a.sessions[sess.ID] = sess
	a.mu.Unlock()

	return sess, nil
}

// Get returns a live session by id.
func (a *Admission) Get(id string) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	sess, ok := a.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: upload session", domain.ErrNotFound)
	}
	return sess, nil
}

func (a *Admission) forget(id string) {
	a.mu.Lock()
	delete(a.sessions, id)
	a.mu.Unlock()
}

// StartJanitor aborts sessions idle past the configured timeout so
// abandoned streams cannot leak quota headroom. Runs until ctx ends.
func (a *Admission) StartJanitor(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(a.idleTimeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.reapIdle()
			}
		}
	}()
}

func (a *Admission) reapIdle() {
	// Snapshot the registry first: session mutexes are taken after
	// Admission.mu here, while Abort and Complete take them before
	// calling forget, so holding both at once would invert the order.
	a.mu.Lock()
	sessions := make([]*Session, 0, len(a.sessions))
	for _, sess := range a.sessions {
		sessions = append(sessions, sess)
	}
	a.mu.Unlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		idle := time.Since(sess.lastActivity) > a.idleTimeout
		sess.mu.Unlock()
		if !idle {
			continue
		}
		log.Warn().Str("session", sess.ID).Int64("user", sess.userID).Msg("aborting idle upload session")
		sess.Abort(ErrIdleTimeout)
	}
}

// UserID returns the owning user.
func (s *Session) UserID() int64 {
	return s.userID
}

// Received returns the byte count streamed so far.
func (s *Session) Received() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received
}

// Receive appends one chunk, enforcing three independent ceilings and
// failing fast on the first violated: the absolute per-file limit, the
// ceiling plus the oversize grace against live committed usage, and
// the plain ceiling against the stream plus other sessions'
// reservations. Usage is read from the ledger on every chunk, not from
// a snapshot taken at open, so uploads committing concurrently shrink
// the headroom mid-stream. The session's own reservation grows with
// the received bytes for the same reason. The caller must Abort the
// session on any returned error.
func (s *Session) Receive(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpened && s.state != StateReceiving {
		return fmt.Errorf("receive on finished upload session %s", s.ID)
	}

	cumulative := s.received + int64(len(chunk))

	if cumulative > s.adm.maxFileSize {
		return fmt.Errorf("%w: %d exceeds %d", domain.ErrLargeFileSize, cumulative, s.adm.maxFileSize)
	}
	used, inflight := s.adm.ledger.LiveState(s.userID, s.resv)
	if cumulative+used > s.allowed+s.adm.oversize {
		return fmt.Errorf("%w: %d received, %d used, %d allowed", domain.ErrQuotaExceeded, cumulative, used, s.allowed)
	}
	if cumulative+inflight > s.allowed {
		return fmt.Errorf("%w: concurrent reservations exhaust quota", domain.ErrQuotaExceeded)
	}

	if _, err := io.MultiWriter(s.spill, s.hasher).Write(chunk); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}

	s.received = cumulative
	s.adm.ledger.Extend(s.resv, cumulative)
	s.state = StateReceiving
	s.lastActivity = time.Now()
	return nil
}

// Complete finalizes the stream: digest, dedup lookup, and either a
// link to existing content or a commit of the spill to its permanent
// content-addressed path. Avatar images are square-cropped before the
// digest is sealed. The in-flight reservation is released and the
// durable aggregate recomputed. The caller must Abort on error.
func (s *Session) Complete(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpened && s.state != StateReceiving {
		return nil, fmt.Errorf("complete on finished upload session %s", s.ID)
	}
	if s.received == 0 {
		return nil, domain.ErrNoFile
	}

	if err := s.spill.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageIO, err)
	}

	digest := hex.EncodeToString(s.hasher.Sum(nil))
	size := s.received

	if s.isAvatar {
		side, cropped, err := thumbs.CropAvatarFile(s.spillPath, s.adm.maxAvatarSize)
		if err != nil {
			return nil, fmt.Errorf("%w: avatar crop: %v", domain.ErrMalformedInput, err)
		}
		s.avatarSide = side
		if cropped {
			// Crop rewrote the buffer, the streamed digest no longer
			// matches the bytes.
			if digest, size, err = storage.HashFile(s.spillPath); err != nil {
				return nil, err
			}
		}
	}

	entry, err := s.adm.repo.FindContentByDigest(ctx, digest)
	switch {
	case err == nil:
		os.Remove(s.spillPath)
	case errors.Is(err, domain.ErrNotFound):
		path, commitErr := s.adm.store.Commit(s.spillPath, digest)
		if commitErr != nil {
			return nil, commitErr
		}
		if entry, _, err = s.adm.repo.GetOrCreateContent(ctx, digest, size, path); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	s.adm.ledger.Release(s.resv)
	if _, err := s.adm.ledger.Commit(ctx, s.userID); err != nil {
		log.Warn().Err(err).Int64("user", s.userID).Msg("quota recompute failed on upload complete")
	}

	s.state = StateCompleted
	s.adm.forget(s.ID)

	return &Result{Entry: entry, Size: size, AvatarSide: s.avatarSide}, nil
}

// Abort discards the spill buffer and releases in-flight counters
// without touching durable quota. Idempotent; reachable from any
// state; invoked on every processing failure and by the idle janitor.
func (s *Session) Abort(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateCompleted || s.state == StateRejected {
		return
	}
	s.state = StateRejected

	s.spill.Close()
	os.Remove(s.spillPath)
	s.adm.ledger.Release(s.resv)
	s.adm.forget(s.ID)

	if reason != nil {
		log.Debug().Err(reason).Str("session", s.ID).Int64("user", s.userID).Msg("upload session aborted")
	}
}
