package analytics

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mapmarket/backend/internal/ads"
	"github.com/mapmarket/backend/internal/lifecycle"
	"github.com/mapmarket/backend/internal/middleware"
	"github.com/mapmarket/backend/internal/models"
	"github.com/mapmarket/backend/pkg/response"
	"github.com/mapmarket/backend/pkg/utils"
)

const maxUserAgentLen = 512

// ViewStore persists view events.
type ViewStore interface {
	Record(ctx context.Context, v *models.AdView) error
	Summary(ctx context.Context, adID uuid.UUID, now time.Time) (*ViewSummary, error)
}

// AdLookup finds the ad a view belongs to.
type AdLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Ad, error)
}

// Handler handles POST /ads/:id/view and GET /ads/:id/views.
type Handler struct {
	views  ViewStore
	ads    AdLookup
	salt   string
	clock  lifecycle.Clock
	logger *zap.Logger
}

// NewHandler creates an analytics handler. salt is mixed into stored IP hashes.
func NewHandler(views ViewStore, adLookup AdLookup, salt string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{views: views, ads: adLookup, salt: salt, clock: lifecycle.SystemClock{}, logger: logger}
}

// SetClock overrides the wall clock.
func (h *Handler) SetClock(c lifecycle.Clock) { h.clock = c }

// RecordView handles POST /ads/:id/view. Only publicly visible ads count views.
func (h *Handler) RecordView(c *gin.Context) {
	ad, ok := h.loadAd(c)
	if !ok {
		return
	}
	if !ad.IsPublic(h.clock.Now()) {
		response.NotFound(c, "ad not found")
		return
	}
	view := &models.AdView{
		AdID:      ad.ID,
		IPHash:    utils.HashIP(c.ClientIP(), h.salt),
		UserAgent: cleanUserAgent(c.Request.UserAgent()),
	}
	if actor, ok := middleware.OptionalActor(c); ok {
		view.UserID = &actor.UserID
	}
	if err := h.views.Record(c.Request.Context(), view); err != nil {
		h.logger.Error("record view failed", zap.Error(err), zap.String("ad_id", ad.ID.String()))
		response.Internal(c, "failed to record view")
		return
	}
	response.Created(c, gin.H{"id": view.ID, "viewed_at": view.ViewedAt})
}

// Views handles GET /ads/:id/views (owner or admin).
func (h *Handler) Views(c *gin.Context) {
	ad, ok := h.loadAd(c)
	if !ok {
		return
	}
	actor := middleware.ActorFrom(c)
	if !actor.IsAdmin && actor.UserID != ad.UserID {
		response.Forbidden(c, "not allowed to view statistics for this ad")
		return
	}
	summary, err := h.views.Summary(c.Request.Context(), ad.ID, h.clock.Now())
	if err != nil {
		h.logger.Error("view summary failed", zap.Error(err), zap.String("ad_id", ad.ID.String()))
		response.Internal(c, "failed to load views")
		return
	}
	response.OK(c, summary)
}

// cleanUserAgent drops invalid UTF-8 and cuts to maxUserAgentLen bytes on a rune boundary.
func cleanUserAgent(ua string) string {
	ua = strings.ToValidUTF8(ua, "")
	if len(ua) <= maxUserAgentLen {
		return ua
	}
	cut := maxUserAgentLen
	for cut > 0 && !utf8.RuneStart(ua[cut]) {
		cut--
	}
	return ua[:cut]
}

func (h *Handler) loadAd(c *gin.Context) (*models.Ad, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid ad id")
		return nil, false
	}
	ad, err := h.ads.GetByID(c.Request.Context(), id)
	if errors.Is(err, ads.ErrNotFound) {
		response.NotFound(c, "ad not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("load ad failed", zap.Error(err))
		response.Internal(c, "failed to load ad")
		return nil, false
	}
	return ad, true
}
