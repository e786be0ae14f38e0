package filehandler

import (
	"bytes"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
)

// ImageInfo describes an attached image: its pixel size and, for photos
// that carry EXIF, the camera and capture time.
type ImageInfo struct {
	Width  int
	Height int
	Format string

	CameraMake  string
	CameraModel string
	DateTaken   time.Time
	HasDate     bool
}

// InspectImage reads the image header of f and any EXIF block.
//
// An image whose header cannot be decoded is rejected. EXIF is best effort:
// PNG and WebP uploads rarely carry it and its absence is not an error.
func InspectImage(f *ImageFile) (*ImageInfo, error) {
	if f == nil || len(f.Data) == 0 {
		return nil, &IOError{Op: "inspect", Cause: errEmptyImage}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(f.Data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not a decodable image: %v", ErrUnsupportedImage, f.Name, err)
	}

	info := &ImageInfo{
		Width:  cfg.Width,
		Height: cfg.Height,
		Format: format,
	}

	if f.MIMEType == "image/jpeg" {
		exifData, err := imagemeta.Decode(bytes.NewReader(f.Data))
		if err != nil {
			log.Debug().Err(err).Str("name", f.Name).Msg("No EXIF metadata in attachment")
		} else {
			info.CameraMake = strings.TrimSpace(exifData.Make)
			info.CameraModel = strings.TrimSpace(exifData.Model)
			// Priority: DateTimeOriginal > CreateDate
			if t := exifData.DateTimeOriginal(); !t.IsZero() {
				info.DateTaken = t
				info.HasDate = true
			} else if t := exifData.CreateDate(); !t.IsZero() {
				info.DateTaken = t
				info.HasDate = true
			}
		}
	}

	log.Debug().
		Str("name", f.Name).
		Str("format", info.Format).
		Int("width", info.Width).
		Int("height", info.Height).
		Str("camera_make", info.CameraMake).
		Str("camera_model", info.CameraModel).
		Bool("has_date", info.HasDate).
		Msg("Attachment inspected")

	return info, nil
}
