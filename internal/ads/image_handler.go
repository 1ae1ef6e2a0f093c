package ads

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mapmarket/backend/internal/models"
	"github.com/mapmarket/backend/pkg/queue"
	"github.com/mapmarket/backend/pkg/response"
	"github.com/mapmarket/backend/pkg/storage"
)

// UploadImage handles POST /ads/:id/images (owner or admin). The original goes
// to S3 and a worker job builds the variants.
func (h *Handler) UploadImage(c *gin.Context) {
	if h.objects == nil || h.jobs == nil {
		response.ServiceUnavailable(c, "image uploads are not configured")
		return
	}
	ad, ok := h.loadAd(c)
	if !ok {
		return
	}
	if !canManage(c, ad) {
		response.Forbidden(c, "not allowed to add images to this ad")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "missing file (form field: file)")
		return
	}
	if file.Size <= 0 || file.Size > h.opts.MaxUploadBytes {
		response.BadRequest(c, "file size exceeds upload limit")
		return
	}
	headerType := file.Header.Get("Content-Type")
	if !storage.ValidateImageType(headerType, file.Filename) {
		response.BadRequest(c, "invalid file type: only jpg, png, webp and gif images are allowed")
		return
	}
	contentType := storage.ContentTypeForFilename(file.Filename)
	if _, ok := storage.AllowedImageTypes[headerType]; ok {
		contentType = headerType
	}

	count, err := h.repo.CountImages(c.Request.Context(), ad.ID)
	if err != nil {
		h.logger.Error("count images failed", zap.Error(err))
		response.Internal(c, "failed to upload image")
		return
	}
	if count >= h.opts.MaxImagesPerAd {
		response.Conflict(c, "image limit reached for this ad")
		return
	}

	img := &models.AdImage{ID: uuid.New(), AdID: ad.ID, ContentType: contentType, SizeBytes: file.Size}
	img.S3Key = storage.OriginalKey(ad.ID.String(), img.ID.String(), storage.ExtensionFor(contentType, file.Filename))

	rc, err := file.Open()
	if err != nil {
		h.logger.Error("open uploaded file failed", zap.Error(err))
		response.Internal(c, "failed to read file")
		return
	}
	defer rc.Close()

	if _, err := h.objects.Upload(c.Request.Context(), img.S3Key, contentType, rc, file.Size); err != nil {
		h.logger.Error("S3 upload failed", zap.Error(err), zap.String("ad_id", ad.ID.String()), zap.String("key", img.S3Key))
		response.Internal(c, "failed to upload file to storage")
		return
	}
	if err := h.repo.CreateImage(c.Request.Context(), img, h.opts.MaxImagesPerAd); err != nil {
		// Without its row the original is orphaned.
		if derr := h.objects.DeletePrefix(c.Request.Context(), storage.ImagePrefix(ad.ID.String(), img.ID.String())); derr != nil {
			h.logger.Warn("delete orphaned original failed", zap.Error(derr), zap.String("key", img.S3Key))
		}
		if errors.Is(err, ErrImageLimit) {
			response.Conflict(c, "image limit reached for this ad")
			return
		}
		h.logger.Error("create image row failed", zap.Error(err))
		response.Internal(c, "failed to save image")
		return
	}
	if err := h.jobs.EnqueueImageVariants(c.Request.Context(), queue.ImageVariantsPayload{
		ImageID: img.ID, AdID: ad.ID, S3Key: img.S3Key,
	}); err != nil {
		// The row stays queued; the image simply has no variants yet.
		h.logger.Error("enqueue image job failed", zap.Error(err), zap.String("image_id", img.ID.String()))
	}
	response.Created(c, img)
}

// DeleteImage handles DELETE /ads/:id/images/:imageId (owner or admin).
func (h *Handler) DeleteImage(c *gin.Context) {
	ad, ok := h.loadAd(c)
	if !ok {
		return
	}
	if !canManage(c, ad) {
		response.Forbidden(c, "not allowed to remove images from this ad")
		return
	}
	imageID, err := uuid.Parse(c.Param("imageId"))
	if err != nil {
		response.BadRequest(c, "invalid image id")
		return
	}
	img, err := h.repo.GetImage(c.Request.Context(), imageID)
	if err != nil || img.AdID != ad.ID {
		response.NotFound(c, "image not found")
		return
	}
	if h.objects != nil {
		if err := h.objects.DeletePrefix(c.Request.Context(), storage.ImagePrefix(ad.ID.String(), img.ID.String())); err != nil {
			h.logger.Warn("delete image objects failed", zap.Error(err), zap.String("image_id", img.ID.String()))
		}
	}
	if err := h.repo.DeleteImage(c.Request.Context(), img.ID); err != nil {
		h.writeError(c, err)
		return
	}
	response.NoContent(c)
}
