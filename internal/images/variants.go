// Package images turns uploaded originals into resized WebP variants.
package images

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"sort"

	"github.com/chai2010/webp"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register WebP decoder
)

// DefaultQuality is the WebP quality used when none is configured.
const DefaultQuality = 80

// MaxSourcePixels guards against decompression bombs.
const MaxSourcePixels = 50_000_000

// ErrUnsupported is returned for inputs that are not a decodable image.
var ErrUnsupported = errors.New("unsupported image")

// Rendition is one encoded variant.
type Rendition struct {
	Width  int
	Height int
	Data   []byte
}

// Decode reads an image, checking its dimensions before decoding the pixels.
func Decode(r io.Reader) (image.Image, string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > MaxSourcePixels {
		return nil, "", fmt.Errorf("%w: %dx%d", ErrUnsupported, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	return img, format, nil
}

// TargetWidths returns the distinct widths to render for a source srcWidth wide.
// Widths above the source collapse into one rendition at the source width.
func TargetWidths(srcWidth int, widths []int) []int {
	seen := make(map[int]struct{}, len(widths))
	out := make([]int, 0, len(widths))
	for _, w := range widths {
		if w <= 0 {
			continue
		}
		w = min(w, srcWidth)
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	sort.Ints(out)
	return out
}

// Resize scales src to width, preserving aspect ratio. It never upscales.
func Resize(src image.Image, width int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 || width >= w {
		return src
	}
	newH := max(1, int(float64(h)*float64(width)/float64(w)+0.5))
	dst := image.NewRGBA(image.Rect(0, 0, width, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, b, xdraw.Over, nil)
	return dst
}

// EncodeWebP encodes img at quality (1-100).
func EncodeWebP(img image.Image, quality float32) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, img, &webp.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode webp: %w", err)
	}
	return buf.Bytes(), nil
}

// Variants renders src at each target width.
func Variants(src image.Image, widths []int, quality float32) ([]Rendition, error) {
	targets := TargetWidths(src.Bounds().Dx(), widths)
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: no target widths", ErrUnsupported)
	}
	out := make([]Rendition, 0, len(targets))
	for _, w := range targets {
		resized := Resize(src, w)
		data, err := EncodeWebP(resized, quality)
		if err != nil {
			return nil, err
		}
		rb := resized.Bounds()
		out = append(out, Rendition{Width: rb.Dx(), Height: rb.Dy(), Data: data})
	}
	return out, nil
}
