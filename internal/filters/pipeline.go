// Package filters is the local fallback used when no remote upscaler is
// configured: a fixed chain of simple transforms followed by a 2x resize.
package filters

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"

	// WebP is an allowed upload type; png and jpeg are registered by imaging.
	_ "golang.org/x/image/webp"

	"upscale-go/internal/imgtypes"
)

// MaxBlurRadius bounds the Gaussian kernel so one request cannot pin a CPU.
const MaxBlurRadius = 100

// DefaultMaxImagePixels is the decompression-bomb threshold used when no
// limit is configured (about 89.5M pixels, e.g. 9459x9459).
const DefaultMaxImagePixels int64 = 89_478_485

// ErrImageTooLarge is wrapped by the errors returned for images whose pixel
// count exceeds the configured limit.
var ErrImageTooLarge = errors.New("image too large")

// Transform applies steps 1-5 in fixed order: grayscale, blur, rotate,
// horizontal flip, vertical flip. Steps whose parameter is zero are skipped
// and the input image is returned as is.
func Transform(img image.Image, p Params) image.Image {
	if p.Grayscale > 0 {
		// NRGBA with r == g == b, so later steps still see a color image
		img = imaging.Grayscale(img)
	}
	if p.Blur > 0 {
		img = imaging.Blur(img, float64(min(p.Blur, MaxBlurRadius)))
	}
	if p.Rotate != 0 {
		// imaging rotates counter-clockwise; the form angle is clockwise.
		// Opaque sources get black corners, the rest transparent ones.
		var fill color.Color = color.Transparent
		if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
			fill = color.Black
		}
		img = imaging.Rotate(img, -p.Rotate, fill)
	}
	if p.FlipH {
		img = imaging.FlipH(img)
	}
	if p.FlipV {
		img = imaging.FlipV(img)
	}
	return img
}

// Upscale2x resizes img to exactly twice its width and height with Lanczos3.
func Upscale2x(img image.Image) image.Image {
	b := img.Bounds()
	return resize.Resize(uint(b.Dx()*2), uint(b.Dy()*2), img, resize.Lanczos3)
}

// Apply runs the whole pipeline.
func Apply(img image.Image, p Params) image.Image {
	return Upscale2x(Transform(img, p))
}

// ApplyLimited is Apply with a bound on the transformed image: its pixel
// count must stay within maxPixels, so the 2x output is at most 4*maxPixels.
// maxPixels <= 0 disables the check.
func ApplyLimited(img image.Image, p Params, maxPixels int64) (image.Image, error) {
	t := Transform(img, p)
	b := t.Bounds()
	if err := checkPixels("transformed image", b.Dx(), b.Dy(), maxPixels); err != nil {
		return nil, err
	}
	return Upscale2x(t), nil
}

// DecodeLimited reads the image header first and rejects images larger than
// maxPixels before any pixel buffer is allocated. maxPixels <= 0 disables
// the check.
func DecodeLimited(r io.ReadSeeker, maxPixels int64) (image.Image, error) {
	if maxPixels > 0 {
		cfg, _, err := image.DecodeConfig(r)
		if err != nil {
			return nil, &imgtypes.ProcessingError{Op: "decode image", Err: err}
		}
		if err := checkPixels("image", cfg.Width, cfg.Height, maxPixels); err != nil {
			return nil, err
		}
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, &imgtypes.ProcessingError{Op: "rewind image", Err: err}
		}
	}
	return Decode(r)
}

func checkPixels(what string, w, h int, maxPixels int64) error {
	if maxPixels <= 0 || int64(w)*int64(h) <= maxPixels {
		return nil
	}
	return &imgtypes.ProcessingError{
		Op:  "check image size",
		Err: fmt.Errorf("%w: %s is %dx%d, limit is %d pixels", ErrImageTooLarge, what, w, h, maxPixels),
	}
}

// Decode reads a PNG, JPEG or WebP image.
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r)
	if err != nil {
		return nil, &imgtypes.ProcessingError{Op: "decode image", Err: err}
	}
	return img, nil
}

// EncodePNG writes img as PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := imaging.Encode(w, img, imaging.PNG); err != nil {
		return &imgtypes.ProcessingError{Op: "encode png", Err: err}
	}
	return nil
}
