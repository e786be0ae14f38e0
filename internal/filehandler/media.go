package filehandler

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// SupportedImageExtensions defines the file extensions accepted as attachments.
// These match the formats the image editing model accepts as inline input.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// ErrUnsupportedImage is returned when an upload is not one of the accepted image types.
var ErrUnsupportedImage = errors.New("unsupported image type")

// attachmentMIMETypes is the content-type allowlist for attachments.
var attachmentMIMETypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
}

// GetMIMEType returns the MIME type for a given file extension.
func GetMIMEType(ext string) (string, error) {
	if mimeType, ok := SupportedImageExtensions[strings.ToLower(ext)]; ok {
		return mimeType, nil
	}
	return "", fmt.Errorf("unsupported file extension: %s", ext)
}

// IsImage returns true if the file extension corresponds to a supported image.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

// IsSupportedMIMEType returns true if the MIME type is accepted as an attachment.
func IsSupportedMIMEType(mimeType string) bool {
	return attachmentMIMETypes[strings.ToLower(strings.TrimSpace(mimeType))]
}

// ResolveMIMEType determines the MIME type of an uploaded image.
//
// Content sniffing wins over the declared type because browsers derive the
// declared type from the file name. The extension of name is the last resort.
func ResolveMIMEType(name, declared string, data []byte) (string, error) {
	if len(data) > 0 {
		sniffed := http.DetectContentType(data)
		if IsSupportedMIMEType(sniffed) {
			return sniffed, nil
		}
	}

	if IsSupportedMIMEType(declared) {
		return strings.ToLower(strings.TrimSpace(declared)), nil
	}

	if mimeType, err := GetMIMEType(filepath.Ext(name)); err == nil {
		return mimeType, nil
	}

	return "", fmt.Errorf("%w %q (accepted: image/png, image/jpeg, image/webp)", ErrUnsupportedImage, declared)
}
