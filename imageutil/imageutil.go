// Package imageutil resizes branding images and thumbnails and derives
// page colors from a profile picture.
package imageutil

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"
	_ "golang.org/x/image/webp" // profile pictures and thumbnails are often served as webp

	"ytzim/internal/cache"
)

// Method selects how an image is brought to a target size.
type Method int

const (
	// Cover crops to exactly width x height, keeping the center.
	Cover Method = iota
	// Thumbnail scales down to fit within width x height, keeping the aspect ratio.
	// Smaller images are left as is.
	Thumbnail
)

// String returns the method name.
func (m Method) String() string {
	switch m {
	case Cover:
		return "cover"
	case Thumbnail:
		return "thumbnail"
	default:
		return "unknown"
	}
}

// Display sizes of the generated archive.
const (
	ProfileWidth, ProfileHeight     = 100, 100
	BannerWidth, BannerHeight       = 1060, 175
	FaviconWidth, FaviconHeight     = 48, 48
	ThumbnailWidth, ThumbnailHeight = 248, 187
)

// secondaryLightness is the HSL lightness of the derived secondary color.
const secondaryLightness = 0.95

// Resize reads src, resizes it and writes the result to dst, which may equal src.
// The output format follows dst's extension.
func Resize(src, dst string, width, height int, method Method) error {
	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("imageutil: open %s: %w", src, err)
	}

	var out image.Image
	switch method {
	case Cover:
		out = imaging.Fill(img, width, height, imaging.Center, imaging.Lanczos)
	case Thumbnail:
		out = imaging.Fit(img, width, height, imaging.Lanczos)
	default:
		return fmt.Errorf("imageutil: unknown resize method %d", method)
	}

	return save(out, dst)
}

// Copy copies src to dst atomically.
func Copy(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("imageutil: copy: %w", err)
	}
	if err := cache.WriteFile(dst, data); err != nil {
		return fmt.Errorf("imageutil: copy to %s: %w", dst, err)
	}
	return nil
}

func save(img image.Image, dst string) error {
	format, err := imaging.FormatFromFilename(dst)
	if err != nil {
		return fmt.Errorf("imageutil: %s: %w", dst, err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(90)); err != nil {
		return fmt.Errorf("imageutil: encode %s: %w", dst, err)
	}
	if err := cache.WriteFile(dst, buf.Bytes()); err != nil {
		return fmt.Errorf("imageutil: write %s: %w", dst, err)
	}
	return nil
}

// Colors derives the two page colors from an image: the dominant color, and
// the second most frequent one lightened to a near-white background tone.
// Both are returned as "#rrggbb".
func Colors(path string) (main, secondary string, err error) {
	img, err := imaging.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("imageutil: open %s: %w", path, err)
	}

	palette := Palette(img, 2)
	if len(palette) == 0 {
		return "", "", fmt.Errorf("imageutil: %s has no opaque pixels", path)
	}
	if len(palette) == 1 {
		palette = append(palette, palette[0])
	}

	h, s, _ := palette[1].Hsl()
	light := colorful.Hsl(h, s, secondaryLightness).Clamped()
	return palette[0].Hex(), light.Hex(), nil
}

// Palette returns up to n dominant colors of img, most frequent first.
// Pixels are grouped in coarse RGB buckets; each color is its bucket's mean.
func Palette(img image.Image, n int) []colorful.Color {
	small := imaging.Fit(img, 64, 64, imaging.Box)
	bounds := small.Bounds()

	type bucket struct {
		count   int
		r, g, b float64
	}
	buckets := make(map[uint16]*bucket)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := small.NRGBAAt(x, y)
			if c.A < 128 {
				continue
			}
			key := uint16(c.R>>4)<<8 | uint16(c.G>>4)<<4 | uint16(c.B>>4)
			bk, ok := buckets[key]
			if !ok {
				bk = &bucket{}
				buckets[key] = bk
			}
			bk.count++
			bk.r += float64(c.R)
			bk.g += float64(c.G)
			bk.b += float64(c.B)
		}
	}

	keys := make([]uint16, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		bi, bj := buckets[keys[i]], buckets[keys[j]]
		if bi.count != bj.count {
			return bi.count > bj.count
		}
		return keys[i] < keys[j]
	})

	if len(keys) > n {
		keys = keys[:n]
	}
	colors := make([]colorful.Color, 0, len(keys))
	for _, k := range keys {
		bk := buckets[k]
		cnt := float64(bk.count) * 255
		colors = append(colors, colorful.Color{R: bk.r / cnt, G: bk.g / cnt, B: bk.b / cnt})
	}
	return colors
}
