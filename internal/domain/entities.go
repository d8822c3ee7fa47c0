package domain

import (
	"strings"
	"time"
)

// User is an account identified by its messaging address.
type User struct {
	ID        int64
	Username  string
	CreatedAt time.Time
}

// ContentEntry is one physical, deduplicated blob. The digest is the
// canonical identity: identical uploads resolve to the same entry.
type ContentEntry struct {
	ID        int64
	Digest    string
	Size      int64
	Path      string
	CreatedAt time.Time
}

// MediaRecord is a user-visible, named reference to a ContentEntry.
// Many records may reference one entry.
type MediaRecord struct {
	ID           int64
	UserID       int64
	ContentID    int64
	Title        string
	Name         string
	Size         int64
	MediaType    string
	Metadata     map[string]interface{}
	IsAvatar     bool
	AvatarThumbs bool
	CreatedAt    time.Time
}

// Kind returns the major media type ("image" for "image/png").
func (m *MediaRecord) Kind() string {
	if i := strings.IndexByte(m.MediaType, '/'); i > 0 {
		return m.MediaType[:i]
	}
	return m.MediaType
}

// Subtype returns the media subtype ("png" for "image/png").
func (m *MediaRecord) Subtype() string {
	if i := strings.IndexByte(m.MediaType, '/'); i >= 0 && i+1 < len(m.MediaType) {
		return m.MediaType[i+1:]
	}
	return ""
}

// Derivative is a generated thumbnail or avatar size variant of a
// ContentEntry. At most one default (non-avatar) derivative exists per
// entry, and at most one avatar derivative per (entry, side) pair.
type Derivative struct {
	ID        int64
	ContentID int64
	Path      string
	IsAvatar  bool
	SideSize  int
	CreatedAt time.Time
}

// QuotaState holds a user's byte ceiling and the cached aggregate of
// media record sizes. Used may be briefly stale between commits.
type QuotaState struct {
	UserID  int64
	Allowed int64
	Used    int64
}

// Available returns the remaining headroom before the ceiling.
func (q *QuotaState) Available() int64 {
	if q.Used >= q.Allowed {
		return 0
	}
	return q.Allowed - q.Used
}

// Token is an issued API access token.
type Token struct {
	ID        int64
	Key       string
	UserID    int64
	Device    string
	Client    string
	CreatedAt time.Time
	Expires   time.Time
}

// Expired reports whether the token is past its lifetime.
func (t *Token) Expired(now time.Time) bool {
	return now.After(t.Expires)
}

// VerificationCode is a short-lived out-of-band code used to obtain a
// token.
type VerificationCode struct {
	ID      int64
	UserID  int64
	Value   string
	Expires time.Time
}

// Expired reports whether the code is past its lifetime.
func (c *VerificationCode) Expired(now time.Time) bool {
	return now.After(c.Expires)
}
