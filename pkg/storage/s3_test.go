package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateImageType(t *testing.T) {
	assert.True(t, ValidateImageType("image/jpeg", "a.bin"))
	assert.True(t, ValidateImageType("image/png; charset=binary", ""))
	assert.True(t, ValidateImageType("", "photo.WEBP"))
	assert.False(t, ValidateImageType("video/mp4", "clip.mp4"))
	assert.False(t, ValidateImageType("", "doc.pdf"))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "ads/a1/i1/original.jpg", OriginalKey("a1", "i1", ".jpg"))
	assert.Equal(t, "ads/a1/i1/w800.webp", VariantKey("a1", "i1", 800))
	assert.Equal(t, "ads/a1/", AdPrefix("a1"))
	assert.Equal(t, "ads/a1/i1/", ImagePrefix("a1", "i1"))
}

func TestExtensionFor(t *testing.T) {
	assert.Equal(t, ".jpg", ExtensionFor("image/jpeg", "x.png"))
	assert.Equal(t, ".jpg", ExtensionFor("", "x.JPEG"))
	assert.Equal(t, ".gif", ExtensionFor("application/octet-stream", "x.gif"))
	assert.Equal(t, "", ExtensionFor("", "x.tiff"))
}

func TestPublicObjectURL(t *testing.T) {
	cfg := S3Config{Region: "eu-central-1", ImagesBucket: "imgs"}
	assert.Equal(t, "https://imgs.s3.eu-central-1.amazonaws.com/ads/k", PublicObjectURL(cfg, "ads/k"))

	cfg.Endpoint = "http://localhost:9000/"
	assert.Equal(t, "http://localhost:9000/imgs/ads/k", PublicObjectURL(cfg, "ads/k"))

	cfg.PublicBaseURL = "https://cdn.example.com"
	assert.Equal(t, "https://cdn.example.com/ads/k", PublicObjectURL(cfg, "ads/k"))
}
