package ads

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mapmarket/backend/internal/lifecycle"
	"github.com/mapmarket/backend/internal/middleware"
	"github.com/mapmarket/backend/internal/models"
	"github.com/mapmarket/backend/pkg/queue"
	"github.com/mapmarket/backend/pkg/response"
	"github.com/mapmarket/backend/pkg/storage"
)

const (
	defaultMapLimit = 200
	maxMapLimit     = 500
)

// AdStore is the ad persistence the handlers use.
type AdStore interface {
	Create(ctx context.Context, a *models.Ad) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Ad, error)
	GetBySeq(ctx context.Context, seq int64) (*models.Ad, error)
	ListByOwner(ctx context.Context, userID uuid.UUID) ([]models.Ad, error)
	ListByStatus(ctx context.Context, status models.ModerationStatus, limit, offset int) ([]models.Ad, error)
	Browse(ctx context.Context, q MapQuery) ([]models.MapMarker, error)
	UpdateContent(ctx context.Context, a *models.Ad, now time.Time) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error

	CreateImage(ctx context.Context, img *models.AdImage, limit int) error
	CountImages(ctx context.Context, adID uuid.UUID) (int, error)
	ListImages(ctx context.Context, adID uuid.UUID) ([]models.AdImage, error)
	GetImage(ctx context.Context, id uuid.UUID) (*models.AdImage, error)
	DeleteImage(ctx context.Context, id uuid.UUID) error
}

// LifecycleManager runs moderation and visibility transitions.
type LifecycleManager interface {
	Approve(ctx context.Context, actor lifecycle.Actor, adID uuid.UUID) (*models.Ad, error)
	Reject(ctx context.Context, actor lifecycle.Actor, adID uuid.UUID, reason string) (*models.Ad, error)
	Restate(ctx context.Context, actor lifecycle.Actor, adID uuid.UUID) (*models.Ad, error)
	Activate(ctx context.Context, actor lifecycle.Actor, adID uuid.UUID) (*models.Ad, error)
	ApproveAndActivate(ctx context.Context, actor lifecycle.Actor, adID uuid.UUID) (*models.Ad, error)
	Deactivate(ctx context.Context, actor lifecycle.Actor, adID uuid.UUID) (*models.Ad, error)
	ExpireSweep(ctx context.Context) (int, error)
}

// ObjectStore holds image originals and variants.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
	DeletePrefix(ctx context.Context, prefix string) error
}

// JobQueue schedules image processing.
type JobQueue interface {
	EnqueueImageVariants(ctx context.Context, payload queue.ImageVariantsPayload) error
}

// Options bound uploads.
type Options struct {
	MaxUploadBytes int64
	MaxImagesPerAd int
}

// Handler handles ad HTTP endpoints.
type Handler struct {
	repo      AdStore
	lifecycle LifecycleManager
	codec     *ShareCodec
	objects   ObjectStore
	jobs      JobQueue
	notifier  lifecycle.Notifier
	clock     lifecycle.Clock
	opts      Options
	logger    *zap.Logger
}

// NewHandler creates an ads handler. objects and jobs may be nil when image uploads are disabled.
func NewHandler(repo AdStore, manager LifecycleManager, codec *ShareCodec, objects ObjectStore, jobs JobQueue, opts Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxImagesPerAd <= 0 {
		opts.MaxImagesPerAd = 10
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	return &Handler{
		repo:      repo,
		lifecycle: manager,
		codec:     codec,
		objects:   objects,
		jobs:      jobs,
		clock:     lifecycle.SystemClock{},
		opts:      opts,
		logger:    logger,
	}
}

// SetNotifier sets who hears about ads taken offline by edits and deletes.
func (h *Handler) SetNotifier(n lifecycle.Notifier) { h.notifier = n }

// SetClock overrides the wall clock.
func (h *Handler) SetClock(c lifecycle.Clock) { h.clock = c }

// Create handles POST /ads.
func (h *Handler) Create(c *gin.Context) {
	var req AdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ad := &models.Ad{UserID: c.MustGet(middleware.ContextUserID).(uuid.UUID)}
	if err := req.Apply(ad); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.repo.Create(c.Request.Context(), ad); err != nil {
		h.logger.Error("create ad failed", zap.Error(err))
		response.Internal(c, "failed to create ad")
		return
	}
	h.logger.Info("ad created", zap.String("ad_id", ad.ID.String()), zap.String("user_id", ad.UserID.String()))
	response.Created(c, ad)
}

// Get handles GET /ads/:id. Non-public ads are visible to their owner and admins only.
func (h *Handler) Get(c *gin.Context) {
	ad, ok := h.loadAd(c)
	if !ok {
		return
	}
	if !ad.IsPublic(h.clock.Now()) && !canManage(c, ad) {
		response.NotFound(c, "ad not found")
		return
	}
	h.respondWithImages(c, ad)
}

// GetByShareCode handles GET /a/:code.
func (h *Handler) GetByShareCode(c *gin.Context) {
	seq, err := h.codec.Decode(c.Param("code"))
	if err != nil {
		response.NotFound(c, "ad not found")
		return
	}
	ad, err := h.repo.GetBySeq(c.Request.Context(), seq)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if !ad.IsPublic(h.clock.Now()) && !canManage(c, ad) {
		response.NotFound(c, "ad not found")
		return
	}
	h.respondWithImages(c, ad)
}

// Map handles GET /ads/map: public ads inside a bounding box.
func (h *Handler) Map(c *gin.Context) {
	q := MapQuery{Now: h.clock.Now(), Limit: defaultMapLimit}
	bounds := []struct {
		name     string
		dst      *float64
		min, max float64
	}{
		{"min_lat", &q.MinLat, -90, 90},
		{"max_lat", &q.MaxLat, -90, 90},
		{"min_lng", &q.MinLng, -180, 180},
		{"max_lng", &q.MaxLng, -180, 180},
	}
	for _, b := range bounds {
		v, err := strconv.ParseFloat(c.Query(b.name), 64)
		if err != nil || v < b.min || v > b.max {
			response.BadRequest(c, "invalid or missing "+b.name)
			return
		}
		*b.dst = v
	}
	if q.MinLat > q.MaxLat || q.MinLng > q.MaxLng {
		response.BadRequest(c, "bounding box min must not exceed max")
		return
	}
	if cat := strings.ToLower(c.Query("category")); cat != "" {
		q.Category = models.Category(cat)
		if !q.Category.Valid() {
			response.BadRequest(c, "invalid category")
			return
		}
	}
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			response.BadRequest(c, "invalid limit")
			return
		}
		q.Limit = min(n, maxMapLimit)
	}

	markers, err := h.repo.Browse(c.Request.Context(), q)
	if err != nil {
		h.logger.Error("map browse failed", zap.Error(err))
		response.Internal(c, "failed to load map")
		return
	}
	response.OK(c, markers)
}

// ListMine handles GET /me/ads.
func (h *Handler) ListMine(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	list, err := h.repo.ListByOwner(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("list own ads failed", zap.Error(err))
		response.Internal(c, "failed to list ads")
		return
	}
	response.OK(c, list)
}

// Update handles PATCH /ads/:id (owner). The edited ad goes back to moderation.
func (h *Handler) Update(c *gin.Context) {
	ad, ok := h.loadAd(c)
	if !ok {
		return
	}
	if ad.UserID != c.MustGet(middleware.ContextUserID).(uuid.UUID) {
		response.Forbidden(c, "only the owner can edit this ad")
		return
	}
	var req AdRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if err := req.Apply(ad); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	wasActive, err := h.repo.UpdateContent(c.Request.Context(), ad, h.clock.Now())
	if err != nil {
		h.writeError(c, err)
		return
	}
	if wasActive {
		h.notify(lifecycle.EventDeactivated, *ad)
	}
	response.OK(c, ad)
}

// Delete handles DELETE /ads/:id (owner or admin).
func (h *Handler) Delete(c *gin.Context) {
	ad, ok := h.loadAd(c)
	if !ok {
		return
	}
	if !canManage(c, ad) {
		response.Forbidden(c, "not allowed to delete this ad")
		return
	}
	if h.objects != nil {
		if err := h.objects.DeletePrefix(c.Request.Context(), storage.AdPrefix(ad.ID.String())); err != nil {
			h.logger.Warn("delete ad images from storage failed", zap.Error(err), zap.String("ad_id", ad.ID.String()))
		}
	}
	if err := h.repo.Delete(c.Request.Context(), ad.ID); err != nil {
		h.writeError(c, err)
		return
	}
	if ad.IsActive {
		h.notify(lifecycle.EventDeactivated, *ad)
	}
	response.NoContent(c)
}

// Activate handles POST /ads/:id/activate and POST /admin/ads/:id/activate.
func (h *Handler) Activate(c *gin.Context) {
	h.transition(c, h.lifecycle.Activate)
}

// Deactivate handles POST /ads/:id/deactivate and POST /admin/ads/:id/deactivate.
func (h *Handler) Deactivate(c *gin.Context) {
	h.transition(c, h.lifecycle.Deactivate)
}

func (h *Handler) transition(c *gin.Context, op func(context.Context, lifecycle.Actor, uuid.UUID) (*models.Ad, error)) {
	adID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid ad id")
		return
	}
	ad, err := op(c.Request.Context(), middleware.ActorFrom(c), adID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	response.OK(c, ad)
}

func (h *Handler) loadAd(c *gin.Context) (*models.Ad, bool) {
	adID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid ad id")
		return nil, false
	}
	ad, err := h.repo.GetByID(c.Request.Context(), adID)
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return ad, true
}

func (h *Handler) respondWithImages(c *gin.Context, ad *models.Ad) {
	images, err := h.repo.ListImages(c.Request.Context(), ad.ID)
	if err != nil {
		h.logger.Warn("list ad images failed", zap.Error(err), zap.String("ad_id", ad.ID.String()))
	}
	ad.Images = images
	response.OK(c, ad)
}

func (h *Handler) notify(event string, ad models.Ad) {
	if h.notifier != nil {
		h.notifier.ListingChanged(event, ad)
	}
}

// writeError maps lifecycle and repository errors onto the response envelope.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrNotFound), errors.Is(err, ErrNotFound):
		response.NotFound(c, "ad not found")
	case errors.Is(err, lifecycle.ErrForbidden):
		response.Forbidden(c, "insufficient permissions")
	case errors.Is(err, lifecycle.ErrNotApproved),
		errors.Is(err, lifecycle.ErrCapacityExceeded),
		errors.Is(err, lifecycle.ErrInvalidTransition),
		errors.Is(err, lifecycle.ErrStale):
		response.Conflict(c, err.Error())
	default:
		h.logger.Error("ad request failed", zap.Error(err), zap.String("path", c.FullPath()))
		response.Internal(c, "internal error")
	}
}

func canManage(c *gin.Context, ad *models.Ad) bool {
	actor, ok := middleware.OptionalActor(c)
	return ok && (actor.IsAdmin || actor.UserID == ad.UserID)
}
