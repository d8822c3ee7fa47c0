package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zots0127/gallery/internal/domain"
	"github.com/zots0127/gallery/internal/repository"
	"github.com/zots0127/gallery/pkg/config"
)

// Ledger tracks per-user byte quotas. The durable used aggregate lives
// in the quota table and is recomputed from media records on every
// commit; on top of it the ledger keeps in-memory per-user counters for
// bytes reserved by in-flight uploads, for session starts inside the
// rate-limit window, and a mirror of the last committed used value.
// Counter updates hold the ledger lock only for the read-modify-write,
// never across I/O.
type Ledger struct {
	repo *repository.Repository

	defaultAllowed int64
	oversize       int64
	filesLimit     int
	window         time.Duration
	reserveTTL     time.Duration

	mu    sync.Mutex
	users map[int64]*userState
}

type userState struct {
	reservations []*Reservation
	sessions     []time.Time

	// used mirrors the durable aggregate, refreshed on every snapshot
	// and commit, so streaming checks see cross-session commits without
	// a database read per chunk.
	used int64
}

// Reservation is provisional quota consumption held by one upload
// session until the session ends. It starts at the declared size and
// grows as received bytes overtake it. Abandoned reservations expire
// after the configured TTL so crashed sessions cannot leak headroom
// forever.
type Reservation struct {
	userID   int64
	bytes    int64
	expires  time.Time
	released bool
}

// Bytes returns the reserved byte count.
func (r *Reservation) Bytes() int64 {
	if r == nil {
		return 0
	}
	return r.bytes
}

// NewLedger creates a quota ledger backed by the repository.
func NewLedger(repo *repository.Repository, cfg config.QuotaConfig) *Ledger {
	return &Ledger{
		repo:           repo,
		defaultAllowed: cfg.DefaultQuota,
		oversize:       cfg.Oversize,
		filesLimit:     cfg.FilesLimit,
		window:         cfg.TimeWindow,
		reserveTTL:     cfg.ReserveTTL,
		users:          make(map[int64]*userState),
	}
}

// Oversize returns the grace margin added on top of the ceiling.
func (l *Ledger) Oversize() int64 {
	return l.oversize
}

// Snapshot returns the user's quota row, creating it on first access,
// and refreshes the in-memory used mirror.
func (l *Ledger) Snapshot(ctx context.Context, userID int64) (*domain.QuotaState, error) {
	snapshot, err := l.repo.GetOrCreateQuota(ctx, userID, l.defaultAllowed)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.state(userID, time.Now()).used = snapshot.Used
	l.mu.Unlock()

	return snapshot, nil
}

// BeginSession records an upload session start against the rate window.
// Fails when the user already started filesLimit sessions inside it.
func (l *Ledger) BeginSession(userID int64) error {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.state(userID, now)
	if len(state.sessions) >= l.filesLimit {
		return fmt.Errorf("%w: %d uploads within %s", domain.ErrTooManyRequests, len(state.sessions), l.window)
	}
	state.sessions = append(state.sessions, now)
	return nil
}

// Reserve provisionally consumes declared bytes against the ceiling.
// The check covers the durable used value plus all live reservations,
// so N concurrent uploads cannot each pass on the same stale read.
func (l *Ledger) Reserve(ctx context.Context, userID, declared int64) (*Reservation, error) {
	snapshot, err := l.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.state(userID, now)
	var inflight int64
	for _, r := range state.reservations {
		inflight += r.bytes
	}

	if snapshot.Used+inflight+declared > snapshot.Allowed+l.oversize {
		return nil, fmt.Errorf("%w: %d declared, %d used, %d in flight, %d allowed",
			domain.ErrQuotaExceeded, declared, snapshot.Used, inflight, snapshot.Allowed)
	}

	resv := &Reservation{
		userID:  userID,
		bytes:   declared,
		expires: now.Add(l.reserveTTL),
	}
	state.reservations = append(state.reservations, resv)
	return resv, nil
}

// Extend grows a reservation to cover bytes actually received once
// they overtake the declared size, so concurrent sessions' checks
// count the stream. Reservations never shrink before release.
func (l *Ledger) Extend(resv *Reservation, bytes int64) {
	if resv == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if !resv.released && bytes > resv.bytes {
		resv.bytes = bytes
	}
}

// LiveState returns the used mirror together with the bytes reserved
// by the user's other sessions. Unlike a snapshot taken at session
// open, both values track commits and streams happening concurrently.
func (l *Ledger) LiveState(userID int64, except *Reservation) (used, inflight int64) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.state(userID, now)
	for _, r := range state.reservations {
		if r != except {
			inflight += r.bytes
		}
	}
	return state.used, inflight
}

// InFlightExcept returns the bytes reserved by the user's other
// sessions, excluding the given reservation.
func (l *Ledger) InFlightExcept(userID int64, except *Reservation) int64 {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.state(userID, now)
	var inflight int64
	for _, r := range state.reservations {
		if r != except {
			inflight += r.bytes
		}
	}
	return inflight
}

// Release drops a reservation without touching durable quota. It is
// idempotent and must be called on every session end, success or not.
func (l *Ledger) Release(resv *Reservation) {
	if resv == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if resv.released {
		return
	}
	resv.released = true

	state, ok := l.users[resv.userID]
	if !ok {
		return
	}
	for i, r := range state.reservations {
		if r == resv {
			state.reservations = append(state.reservations[:i], state.reservations[i+1:]...)
			break
		}
	}
}

// Commit recomputes the durable used aggregate from persisted media
// records. The authoritative sum, not a tracked delta, guards against
// drift from partial failures.
func (l *Ledger) Commit(ctx context.Context, userID int64) (int64, error) {
	used, err := l.repo.RecomputeQuotaUsed(ctx, userID)
	if err != nil {
		return 0, err
	}

	l.mu.Lock()
	l.state(userID, time.Now()).used = used
	l.mu.Unlock()

	return used, nil
}

// SetAllowed updates the user's byte ceiling.
func (l *Ledger) SetAllowed(ctx context.Context, userID, allowed int64) error {
	if _, err := l.Snapshot(ctx, userID); err != nil {
		return err
	}
	return l.repo.SetQuotaAllowed(ctx, userID, allowed)
}

// Used returns the cached durable aggregate for a user.
func (l *Ledger) Used(ctx context.Context, userID int64) (int64, error) {
	snapshot, err := l.Snapshot(ctx, userID)
	if err != nil {
		return 0, err
	}
	return snapshot.Used, nil
}

// state returns the user's counter state with expired entries pruned.
// Callers must hold l.mu.
func (l *Ledger) state(userID int64, now time.Time) *userState {
	state, ok := l.users[userID]
	if !ok {
		state = &userState{}
		l.users[userID] = state
	}

	live := state.reservations[:0]
	for _, r := range state.reservations {
		if now.Before(r.expires) {
			live = append(live, r)
		} else {
			r.released = true
		}
	}
	state.reservations = live

	cutoff := now.Add(-l.window)
	recent := state.sessions[:0]
	for _, t := range state.sessions {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	state.sessions = recent

	return state
}
