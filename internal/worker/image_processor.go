package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mapmarket/backend/internal/ads"
	"github.com/mapmarket/backend/internal/images"
	"github.com/mapmarket/backend/internal/metrics"
	"github.com/mapmarket/backend/internal/models"
	"github.com/mapmarket/backend/pkg/queue"
	"github.com/mapmarket/backend/pkg/storage"
)

// dequeueWait bounds each blocking pop so the loop notices cancellation.
const dequeueWait = 5 * time.Second

// ImageStore is the ad_images persistence the processor needs.
type ImageStore interface {
	GetImage(ctx context.Context, id uuid.UUID) (*models.AdImage, error)
	MarkImageReady(ctx context.Context, id uuid.UUID, variants []models.ImageVariant) error
	MarkImageFailed(ctx context.Context, id uuid.UUID) error
}

// ObjectStore reads originals and writes variants.
type ObjectStore interface {
	Download(ctx context.Context, key string) (io.ReadCloser, string, error)
	Upload(ctx context.Context, key, contentType string, body io.Reader, contentLength int64) (string, error)
}

// JobQueue is the image job queue.
type JobQueue interface {
	Dequeue(ctx context.Context, timeout time.Duration) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job, cause error) error
}

// ImageOptions control variant generation.
type ImageOptions struct {
	Widths  []int
	Quality float32
}

// ImageProcessor builds WebP variants for uploaded ad images: download the
// original from S3, resize, upload, mark the row ready.
type ImageProcessor struct {
	store   ImageStore
	objects ObjectStore
	queue   JobQueue
	opts    ImageOptions
	backoff time.Duration
	logger  *zap.Logger
}

// NewImageProcessor creates an image variant processor.
func NewImageProcessor(store ImageStore, objects ObjectStore, q JobQueue, opts ImageOptions, logger *zap.Logger) *ImageProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.Widths) == 0 {
		opts.Widths = []int{320, 800, 1600}
	}
	return &ImageProcessor{store: store, objects: objects, queue: q, opts: opts, backoff: queue.RetryBackoff, logger: logger}
}

// Process executes one image variants job.
func (p *ImageProcessor) Process(ctx context.Context, job *queue.Job) error {
	payload, err := queue.DecodeImageVariants(job)
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}

	img, err := p.store.GetImage(ctx, payload.ImageID)
	if errors.Is(err, ads.ErrNotFound) {
		// Image or ad deleted since upload.
		p.logger.Info("image gone, dropping job", zap.String("image_id", payload.ImageID.String()))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load image: %w", err)
	}
	if img.Status == models.ImageStatusReady {
		p.logger.Info("image already processed", zap.String("image_id", img.ID.String()))
		return nil
	}

	rc, _, err := p.objects.Download(ctx, payload.S3Key)
	if err != nil {
		return fmt.Errorf("download original: %w", err)
	}
	src, format, err := images.Decode(rc)
	_ = rc.Close()
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}

	renditions, err := images.Variants(src, p.opts.Widths, p.opts.Quality)
	if err != nil {
		return fmt.Errorf("%w: %v", errPermanent, err)
	}

	variants := make([]models.ImageVariant, 0, len(renditions))
	for _, r := range renditions {
		key := storage.VariantKey(payload.AdID.String(), payload.ImageID.String(), r.Width)
		url, err := p.objects.Upload(ctx, key, "image/webp", bytes.NewReader(r.Data), int64(len(r.Data)))
		if err != nil {
			return fmt.Errorf("upload variant %d: %w", r.Width, err)
		}
		variants = append(variants, models.ImageVariant{Width: r.Width, Height: r.Height, Format: "webp", S3Key: key, URL: url})
	}

	if err := p.store.MarkImageReady(ctx, payload.ImageID, variants); err != nil {
		if errors.Is(err, ads.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("mark ready: %w", err)
	}
	p.logger.Info("image variants ready",
		zap.String("image_id", payload.ImageID.String()),
		zap.String("source_format", format),
		zap.Int("variants", len(variants)),
	)
	return nil
}

// errPermanent marks failures a retry cannot fix (bad payload, undecodable image).
var errPermanent = errors.New("permanent job failure")

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ImageProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("image worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx, dequeueWait)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			sleep(ctx, p.backoff)
			continue
		}
		if job == nil {
			continue
		}
		if p.handle(ctx, job) {
			sleep(ctx, p.backoff)
		}
	}
}

// handle processes one job and reports whether the loop should back off.
func (p *ImageProcessor) handle(ctx context.Context, job *queue.Job) (backoff bool) {
	p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
	err := p.Process(ctx, job)
	if err == nil {
		metrics.ImageJobs.WithLabelValues("ok").Inc()
		return false
	}

	p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
	if errors.Is(err, errPermanent) {
		job.Attempt = queue.MaxRetries - 1 // straight to the DLQ
	}
	if reErr := p.queue.Retry(ctx, job, err); reErr != nil {
		p.logger.Error("retry enqueue failed", zap.Error(reErr))
	}
	if job.Attempt < queue.MaxRetries {
		metrics.ImageJobs.WithLabelValues("retried").Inc()
		return true
	}

	metrics.ImageJobs.WithLabelValues("failed").Inc()
	if payload, decErr := queue.DecodeImageVariants(job); decErr == nil {
		if mErr := p.store.MarkImageFailed(ctx, payload.ImageID); mErr != nil {
			p.logger.Error("mark image failed", zap.Error(mErr), zap.String("image_id", payload.ImageID.String()))
		}
	}
	return false
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
