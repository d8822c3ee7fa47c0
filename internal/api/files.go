package api

import (
	"fmt"
	"net/http"
	"path"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zots0127/gallery/internal/domain"
	"github.com/zots0127/gallery/internal/storage"
)

// slotCheck answers the pre-upload dedup probe: if the content is
// already stored the record is created without any bytes being sent,
// otherwise the current quota state is returned.
func (h *Handler) slotCheck(c *gin.Context) {
	user := currentUser(c)
	ctx := c.Request.Context()

	digest := c.Query("hash")
	if !storage.ValidDigest(digest) {
		respondError(c, fmt.Errorf("%w: invalid hash format", domain.ErrMalformedInput))
		return
	}
	size, _ := strconv.ParseInt(c.Query("size"), 10, 64)
	name := sanitizeName(c.Query("name"))

	record, snapshot, err := h.media.SlotCheck(ctx, user.ID, digest, size, name)
	if err != nil {
		respondError(c, err)
		return
	}

	if record == nil {
		c.JSON(http.StatusOK, gin.H{"quota": snapshot.Allowed, "used": snapshot.Used})
		return
	}

	used, err := h.ledger.Used(ctx, user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.uploadResponse(record, digest, used, snapshot.Allowed, 0))
}

type deleteRequest struct {
	ID   int64  `json:"id" form:"id"`
	File string `json:"file" form:"file"`
}

// deleteFiles removes a media record located by id or by its public
// file path. Aliases go synchronously, bytes via the deferred sweep.
func (h *Handler) deleteFiles(c *gin.Context) {
	user := currentUser(c)
	ctx := c.Request.Context()

	var req deleteRequest
	if err := c.ShouldBind(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err))
		return
	}

	var record *domain.MediaRecord
	var err error
	switch {
	case req.File != "":
		record, err = h.media.GetByTitle(ctx, user.ID, titleFromPath(req.File))
	case req.ID != 0:
		record, err = h.media.Get(ctx, user.ID, req.ID)
	default:
		respondError(c, fmt.Errorf("%w: id or file required", domain.ErrMalformedInput))
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	if err := h.media.Delete(ctx, record); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusNoContent, nil)
}

func (h *Handler) stats(c *gin.Context) {
	user := currentUser(c)

	stats, err := h.media.UserStats(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// titleFromPath extracts the record title from a public file URL,
// where the title is the parent directory of the file name.
func titleFromPath(p string) string {
	return path.Base(path.Dir(path.Clean(p)))
}
