package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/zots0127/gallery/internal/domain"
	"github.com/zots0127/gallery/internal/media"
	"github.com/zots0127/gallery/internal/upload"
)

const chunkSize = 32 * 1024

// uploadFile streams a multipart upload through the admission
// pipeline. Form fields must precede the file part so declared size
// and media type are known when the session opens.
func (h *Handler) uploadFile(isAvatar bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := currentUser(c)
		ctx := c.Request.Context()

		reader, err := c.Request.MultipartReader()
		if err != nil {
			respondError(c, fmt.Errorf("%w: multipart body expected", domain.ErrMalformedInput))
			return
		}

		fields := make(map[string]string)
		var sess *upload.Session
		var result *upload.Result
		var fileName, mediaType string
		var declared int64

		for {
			part, err := reader.NextPart()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				if sess != nil {
					sess.Abort(err)
				}
				respondError(c, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err))
				return
			}

			if part.FormName() != "file" {
				value, _ := io.ReadAll(io.LimitReader(part, 64*1024))
				fields[part.FormName()] = string(value)
				continue
			}

			fileName = sanitizeName(part.FileName())
			declared, _ = strconv.ParseInt(fields["size"], 10, 64)
			mediaType = fields["media_type"]
			if mediaType == "" {
				mediaType = part.Header.Get("Content-Type")
			}

			sess, err = h.admission.Open(ctx, user.ID, declared, mediaType, isAvatar)
			if err != nil {
				respondError(c, err)
				return
			}

			if err := streamPart(sess, part); err != nil {
				sess.Abort(err)
				respondError(c, err)
				return
			}

			result, err = sess.Complete(ctx)
			if err != nil {
				sess.Abort(err)
				respondError(c, err)
				return
			}
			break
		}

		if result == nil {
			respondError(c, domain.ErrNoFile)
			return
		}

		var metadata map[string]interface{}
		if raw := fields["metadata"]; raw != "" {
			if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
				respondError(c, fmt.Errorf("%w: metadata: %v", domain.ErrMalformedInput, err))
				return
			}
		}
		avatarThumbs, _ := strconv.ParseBool(fields["avatar_thumbs"])

		record, err := h.media.CreateFromUpload(ctx, user.ID, result, media.CreateRequest{
			Name:         fileName,
			MediaType:    mediaType,
			Metadata:     metadata,
			DeclaredSize: declared,
			IsAvatar:     isAvatar,
			AvatarThumbs: avatarThumbs,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		snapshot, err := h.ledger.Snapshot(ctx, user.ID)
		if err != nil {
			respondError(c, err)
			return
		}

		c.JSON(http.StatusCreated, h.uploadResponse(record, result.Entry.Digest, snapshot.Used, snapshot.Allowed, result.AvatarSide))
	}
}

func streamPart(sess *upload.Session, part io.Reader) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := part.Read(buf)
		if n > 0 {
			if recvErr := sess.Receive(buf[:n]); recvErr != nil {
				return recvErr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
		}
	}
}

func sanitizeName(name string) string {
	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
