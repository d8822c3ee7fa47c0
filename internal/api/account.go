package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zots0127/gallery/internal/domain"
)

type codeRequest struct {
	Address string `json:"address" binding:"required"`
}

func (h *Handler) requestCode(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err))
		return
	}

	confirmURL := "https://" + c.Request.Host + "/api/account/auth"
	requestID, err := h.auth.RequestCode(c.Request.Context(), req.Address, confirmURL)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request_id": requestID})
}

type confirmRequest struct {
	Address string `json:"address" binding:"required"`
	Code    string `json:"code" binding:"required"`
	Device  string `json:"device"`
	Client  string `json:"client"`
}

func (h *Handler) confirmCode(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err))
		return
	}

	token, err := h.auth.ConfirmCode(c.Request.Context(), req.Address, req.Code, req.Device, req.Client)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"token": token.Key, "expires": token.Expires})
}

func (h *Handler) getQuota(c *gin.Context) {
	user := currentUser(c)

	snapshot, err := h.ledger.Snapshot(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quota": snapshot.Allowed, "used": snapshot.Used})
}

type quotaUpdate struct {
	Value int64 `json:"value" binding:"required"`
}

func (h *Handler) putQuota(c *gin.Context) {
	user := currentUser(c)
	ctx := c.Request.Context()

	var req quotaUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err))
		return
	}

	if err := h.ledger.SetAllowed(ctx, user.ID, req.Value); err != nil {
		respondError(c, err)
		return
	}

	snapshot, err := h.ledger.Snapshot(ctx, user.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quota": snapshot.Allowed, "used": snapshot.Used})
}

func (h *Handler) listTokens(c *gin.Context) {
	user := currentUser(c)

	tokens, err := h.auth.Tokens(c.Request.Context(), user.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]gin.H, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, gin.H{
			"token_id":   t.ID,
			"device":     t.Device,
			"client":     t.Client,
			"created_at": t.CreatedAt,
			"expires":    t.Expires,
		})
	}
	c.JSON(http.StatusOK, out)
}

type revokeRequest struct {
	TokenID int64 `json:"token_id" binding:"required"`
}

func (h *Handler) revokeToken(c *gin.Context) {
	user := currentUser(c)

	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err))
		return
	}

	if err := h.auth.Revoke(c.Request.Context(), user.ID, req.TokenID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusNoContent, nil)
}
