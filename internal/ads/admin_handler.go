package ads

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mapmarket/backend/internal/lifecycle"
	"github.com/mapmarket/backend/internal/middleware"
	"github.com/mapmarket/backend/internal/models"
	"github.com/mapmarket/backend/pkg/response"
)

const (
	defaultQueueLimit = 50
	maxQueueLimit     = 200
)

// RejectRequest is the body for POST /admin/ads/:id/reject.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// ModerationQueue handles GET /admin/ads?status=PENDING&limit&offset (admin).
func (h *Handler) ModerationQueue(c *gin.Context) {
	status := models.ModerationStatus(strings.ToUpper(c.DefaultQuery("status", string(models.StatusPending))))
	if !status.Valid() {
		response.BadRequest(c, "invalid status")
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultQueueLimit)))
	if err != nil || limit <= 0 {
		response.BadRequest(c, "invalid limit")
		return
	}
	limit = min(limit, maxQueueLimit)
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		response.BadRequest(c, "invalid offset")
		return
	}

	list, err := h.repo.ListByStatus(c.Request.Context(), status, limit, offset)
	if err != nil {
		h.logger.Error("moderation queue failed", zap.Error(err))
		response.Internal(c, "failed to list ads")
		return
	}
	response.OK(c, response.Paged{Items: list, Limit: limit, Offset: offset})
}

// Approve handles POST /admin/ads/:id/approve?activate=true|false (admin).
func (h *Handler) Approve(c *gin.Context) {
	adID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid ad id")
		return
	}
	activate, _ := strconv.ParseBool(c.DefaultQuery("activate", "false"))
	actor := middleware.ActorFrom(c)

	if !activate {
		ad, err := h.lifecycle.Approve(c.Request.Context(), actor, adID)
		if err != nil {
			h.writeError(c, err)
			return
		}
		response.OK(c, ad)
		return
	}

	ad, err := h.lifecycle.ApproveAndActivate(c.Request.Context(), actor, adID)
	if err != nil && ad != nil && isActivationRefusal(err) {
		// Approved, but the owner has no free slot.
		response.OK(c, gin.H{"ad": ad, "activated": false, "activation_error": err.Error()})
		return
	}
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"ad": ad, "activated": true})
}

func isActivationRefusal(err error) bool {
	return errors.Is(err, lifecycle.ErrCapacityExceeded) || errors.Is(err, lifecycle.ErrNotApproved)
}

// Reject handles POST /admin/ads/:id/reject (admin).
func (h *Handler) Reject(c *gin.Context) {
	adID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid ad id")
		return
	}
	var req RejectRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, "invalid request: "+err.Error())
			return
		}
	}
	ad, err := h.lifecycle.Reject(c.Request.Context(), middleware.ActorFrom(c), adID, req.Reason)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, ad)
}

// Restate handles POST /admin/ads/:id/restate (admin).
func (h *Handler) Restate(c *gin.Context) {
	h.transition(c, h.lifecycle.Restate)
}

// Sweep handles POST /admin/sweep: runs the expiry sweep now (admin).
func (h *Handler) Sweep(c *gin.Context) {
	if !middleware.ActorFrom(c).IsAdmin {
		response.Forbidden(c, "insufficient permissions")
		return
	}
	n, err := h.lifecycle.ExpireSweep(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, gin.H{"expired": n})
}
