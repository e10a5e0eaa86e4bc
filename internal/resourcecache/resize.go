package resourcecache

import (
	"image"

	"github.com/bnema/chatshell/internal/domain"
	"golang.org/x/image/draw"
)

// Resize scales src into size with bilinear sampling. The original image is returned when
// size is SizeOriginal or already matches.
func Resize(src image.Image, size domain.ImageSize) image.Image {
	if src == nil || size.IsOriginal() {
		return src
	}

	bounds := src.Bounds()
	width, height := size.Fit(bounds.Dx(), bounds.Dy())
	if width == bounds.Dx() && height == bounds.Dy() {
		return src
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
	return dst
}
