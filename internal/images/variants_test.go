package images

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestTargetWidths(t *testing.T) {
	assert.Equal(t, []int{320, 800, 1600}, TargetWidths(4000, []int{1600, 320, 800}))
	assert.Equal(t, []int{320, 500}, TargetWidths(500, []int{320, 800, 1600}), "no upscaling")
	assert.Equal(t, []int{200}, TargetWidths(200, []int{320, 800}))
	assert.Empty(t, TargetWidths(200, []int{0, -5}))
}

func TestResizeKeepsAspect(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 1000, 500))
	out := Resize(src, 320)
	assert.Equal(t, 320, out.Bounds().Dx())
	assert.Equal(t, 160, out.Bounds().Dy())

	assert.Same(t, src, Resize(src, 2000))
}

func TestVariantsFromPNG(t *testing.T) {
	src, format, err := Decode(bytes.NewReader(testPNG(t, 640, 480)))
	require.NoError(t, err)
	assert.Equal(t, "png", format)

	out, err := Variants(src, []int{320, 800, 1600}, 75)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, 320, out[0].Width)
	assert.Equal(t, 240, out[0].Height)
	assert.Equal(t, 640, out[1].Width)

	for _, r := range out {
		decoded, format, err := image.Decode(bytes.NewReader(r.Data))
		require.NoError(t, err)
		assert.Equal(t, "webp", format)
		assert.Equal(t, r.Width, decoded.Bounds().Dx())
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, _, err := Decode(bytes.NewReader([]byte("not an image")))
	assert.ErrorIs(t, err, ErrUnsupported)
}
