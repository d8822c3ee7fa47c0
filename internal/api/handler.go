package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/zots0127/gallery/internal/auth"
	"github.com/zots0127/gallery/internal/domain"
	"github.com/zots0127/gallery/internal/media"
	"github.com/zots0127/gallery/internal/quota"
	"github.com/zots0127/gallery/internal/storage"
	"github.com/zots0127/gallery/internal/upload"
	"github.com/zots0127/gallery/pkg/config"
)

const userKey = "user"

// Handler wires the HTTP surface to the core services.
type Handler struct {
	admission *upload.Admission
	media     *media.Service
	auth      *auth.Service
	ledger    *quota.Ledger
	store     *storage.Store

	staticLink    string
	thumbSize     int
	ladder        []int
	maxAvatarSize int
}

// NewHandler creates the API handler.
func NewHandler(admission *upload.Admission, mediaSvc *media.Service, authSvc *auth.Service, ledger *quota.Ledger, store *storage.Store, cfg *config.Config) *Handler {
	return &Handler{
		admission:     admission,
		media:         mediaSvc,
		auth:          authSvc,
		ledger:        ledger,
		store:         store,
		staticLink:    cfg.Server.StaticLink,
		thumbSize:     cfg.Thumbs.Size,
		ladder:        cfg.Thumbs.AvatarSizes,
		maxAvatarSize: cfg.Thumbs.MaxAvatarSize,
	}
}

// RegisterRoutes mounts all endpoints on the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger())

	account := router.Group("/api/account")
	account.POST("/code_request", h.requestCode)
	account.POST("/auth", h.confirmCode)

	authorized := router.Group("/api")
	authorized.Use(h.authMiddleware())

	authorized.POST("/files/upload", h.uploadFile(false))
	authorized.GET("/files/slot", h.slotCheck)
	authorized.DELETE("/files", h.deleteFiles)
	authorized.GET("/files/stats", h.stats)
	authorized.POST("/avatar/upload", h.uploadFile(true))
	authorized.GET("/account/quota", h.getQuota)
	authorized.PUT("/account/quota", h.putQuota)
	authorized.GET("/account/tokens", h.listTokens)
	authorized.DELETE("/account/tokens", h.revokeToken)

	// Stable public paths for originals and derivatives.
	router.Static(h.staticLink, h.store.SymlinksRoot())
}

func (h *Handler) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		key, ok := strings.CutPrefix(header, "Token ")
		if !ok || key == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		user, err := h.auth.Authenticate(c.Request.Context(), key)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

func currentUser(c *gin.Context) *domain.User {
	return c.MustGet(userKey).(*domain.User)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
