package api

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/zots0127/gallery/internal/domain"
)

// respondError maps the core error taxonomy to transport status codes
// so clients can react specifically (shrink the upload, back off,
// re-authenticate).
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrQuotaExceeded):
		status = http.StatusForbidden
	case errors.Is(err, domain.ErrTooManyRequests):
		status = http.StatusTooManyRequests
	case errors.Is(err, domain.ErrLargeFileSize):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrNoFile), errors.Is(err, domain.ErrMalformedInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	}
	c.JSON(status, gin.H{"status": status, "error": err.Error()})
}

type thumbInfo struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// uploadResponse mirrors the upload result the clients consume: record
// attributes, the stable file URL, quota state, and the thumbnail URLs
// that will exist once derivative generation finishes.
func (h *Handler) uploadResponse(record *domain.MediaRecord, digest string, used, allowed int64, avatarSide int) gin.H {
	response := gin.H{
		"id":         record.ID,
		"size":       record.Size,
		"media_type": record.MediaType,
		"name":       record.Name,
		"title":      record.Title,
		"created_at": record.CreatedAt,
		"file":       h.fileURL(record.Title, record.Name),
		"hash":       digest,
		"thumbnail": thumbInfo{
			URL:    h.fileURL(record.Title, "thumb_"+record.Name),
			Width:  h.thumbSize,
			Height: h.thumbSize,
		},
		"used":  used,
		"quota": allowed,
	}

	if len(record.Metadata) > 0 {
		response["metadata"] = record.Metadata
	}

	if record.IsAvatar {
		response["is_avatar"] = true
		if record.AvatarThumbs {
			maxSide := avatarSide
			if maxSide == 0 {
				maxSide = h.maxAvatarSize
			}
			stem := strings.TrimSuffix(record.Name, path.Ext(record.Name))
			var ladder []thumbInfo
			for _, size := range h.ladder {
				if size >= maxSide {
					continue
				}
				ladder = append(ladder, thumbInfo{
					URL:    h.fileURL(record.Title, fmt.Sprintf("%d_%s.png", size, stem)),
					Width:  size,
					Height: size,
				})
			}
			response["thumbnails"] = ladder
		}
	}

	return response
}

func (h *Handler) fileURL(title, name string) string {
	return path.Join(h.staticLink, title, name)
}
