package models

import (
	"time"

	"github.com/google/uuid"
)

// AdImage processing states.
const (
	ImageStatusQueued = "queued"
	ImageStatusReady  = "ready"
	ImageStatusFailed = "failed"
)

// AdImage is a photo attached to an ad. The original is stored in S3; the
// worker derives resized WebP variants from it.
type AdImage struct {
	ID          uuid.UUID      `json:"id"`
	AdID        uuid.UUID      `json:"ad_id"`
	Position    int            `json:"position"`
	S3Key       string         `json:"s3_key,omitempty"`
	ContentType string         `json:"content_type"`
	SizeBytes   int64          `json:"size_bytes"`
	Status      string         `json:"status"`
	Variants    []ImageVariant `json:"variants,omitempty"`
	URL         string         `json:"url,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// ImageVariant is one resized rendition of an AdImage.
type ImageVariant struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Format string `json:"format"`
	S3Key  string `json:"s3_key"`
	URL    string `json:"url,omitempty"`
}
