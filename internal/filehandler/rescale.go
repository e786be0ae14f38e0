package filehandler

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// MaxRescaleDimension bounds the width and height of a rescaled image.
// Larger targets are refused rather than allocated.
const MaxRescaleDimension = 8192

// Rescale redraws the image carried by sourceDataURL at factor times its
// original size and returns it as a PNG data URL.
//
// A factor of exactly 1 returns sourceDataURL unchanged. Decode and surface
// allocation failures are reported as *RescaleError.
func Rescale(ctx context.Context, sourceDataURL string, factor float64) (string, error) {
	if factor == 1 {
		return sourceDataURL, nil
	}
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return "", &RescaleError{Op: "validate", Cause: fmt.Errorf("invalid scale factor %v", factor)}
	}
	if err := ctx.Err(); err != nil {
		return "", &RescaleError{Op: "start", Cause: err}
	}

	startTime := time.Now()

	_, data, err := DecodeDataURL(sourceDataURL)
	if err != nil {
		return "", &RescaleError{Op: "decode", Cause: err}
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", &RescaleError{Op: "decode", Cause: err}
	}

	bounds := src.Bounds()
	origWidth := bounds.Dx()
	origHeight := bounds.Dy()
	newWidth, newHeight := scaledDimensions(origWidth, origHeight, factor)

	if newWidth < 1 || newHeight < 1 || newWidth > MaxRescaleDimension || newHeight > MaxRescaleDimension {
		return "", &RescaleError{
			Op:    "allocate surface",
			Cause: fmt.Errorf("target size %dx%d outside 1..%d", newWidth, newHeight, MaxRescaleDimension),
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)

	if err := ctx.Err(); err != nil {
		return "", &RescaleError{Op: "draw", Cause: err}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return "", &RescaleError{Op: "encode", Cause: err}
	}

	log.Debug().
		Str("source_format", format).
		Float64("factor", factor).
		Int("orig_width", origWidth).
		Int("orig_height", origHeight).
		Int("new_width", newWidth).
		Int("new_height", newHeight).
		Int("output_size", buf.Len()).
		Dur("duration", time.Since(startTime)).
		Msg("Image rescaled")

	return ToDataURL("image/png", buf.Bytes()), nil
}

// scaledDimensions rounds each side of width x height multiplied by factor.
func scaledDimensions(width, height int, factor float64) (int, int) {
	return int(math.Round(float64(width) * factor)), int(math.Round(float64(height) * factor))
}
