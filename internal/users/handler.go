// Package users serves the current user's profile and the admin user console.
package users

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mapmarket/backend/internal/auth"
	"github.com/mapmarket/backend/internal/middleware"
	"github.com/mapmarket/backend/pkg/response"
)

// PolicyRequest is the body for PATCH /admin/users/:id/policy.
type PolicyRequest struct {
	MaxActiveAds *int `json:"max_active_ads"`
	AdActiveDays *int `json:"ad_active_days"`
}

// Handler handles user endpoints.
type Handler struct {
	repo   auth.UserStore
	logger *zap.Logger
}

// NewHandler creates a users handler.
func NewHandler(repo auth.UserStore, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// Me handles GET /me.
func (h *Handler) Me(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	u, err := h.repo.GetByID(c.Request.Context(), userID)
	if errors.Is(err, auth.ErrNotFound) {
		response.NotFound(c, "user not found")
		return
	}
	if err != nil {
		h.logger.Error("load current user failed", zap.Error(err))
		response.Internal(c, "failed to load user")
		return
	}
	response.OK(c, u.ToPublic())
}

// List handles GET /admin/users (admin).
func (h *Handler) List(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		response.BadRequest(c, "invalid limit")
		return
	}
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		response.BadRequest(c, "invalid offset")
		return
	}
	list, err := h.repo.List(c.Request.Context(), min(limit, 500), offset)
	if err != nil {
		h.logger.Error("list users failed", zap.Error(err))
		response.Internal(c, "failed to list users")
		return
	}
	response.OK(c, list)
}

// UpdatePolicy handles PATCH /admin/users/:id/policy (admin). Given values must be positive.
func (h *Handler) UpdatePolicy(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	var req PolicyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if req.MaxActiveAds == nil && req.AdActiveDays == nil {
		response.BadRequest(c, "nothing to update")
		return
	}
	if (req.MaxActiveAds != nil && *req.MaxActiveAds <= 0) || (req.AdActiveDays != nil && *req.AdActiveDays <= 0) {
		response.BadRequest(c, "max_active_ads and ad_active_days must be positive")
		return
	}

	u, err := h.repo.UpdatePolicy(c.Request.Context(), userID, req.MaxActiveAds, req.AdActiveDays)
	if errors.Is(err, auth.ErrNotFound) {
		response.NotFound(c, "user not found")
		return
	}
	if err != nil {
		h.logger.Error("update policy failed", zap.Error(err))
		response.Internal(c, "failed to update policy")
		return
	}
	h.logger.Info("user policy updated",
		zap.String("user_id", u.ID.String()),
		zap.String("admin_id", middleware.ActorFrom(c).UserID.String()),
		zap.Int("max_active_ads", u.MaxActiveAds),
		zap.Int("ad_active_days", u.AdActiveDays),
	)
	response.OK(c, u.ToPublic())
}
