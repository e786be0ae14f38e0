package filehandler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// ImageFile is an image held in memory exactly as the user uploaded it.
type ImageFile struct {
	Name     string
	MIMEType string
	Data     []byte
}

var errEmptyImage = errors.New("image is empty")

// ReadImageFile reads an uploaded image fully into memory.
// Read failures and empty uploads are reported as *IOError; an unsupported
// format is reported with ErrUnsupportedImage.
func ReadImageFile(name, declaredMIME string, r io.Reader) (*ImageFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &IOError{Op: "read " + name, Cause: err}
	}
	if len(data) == 0 {
		return nil, &IOError{Op: "read " + name, Cause: errEmptyImage}
	}

	mimeType, err := ResolveMIMEType(name, declaredMIME, data)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("name", name).
		Str("declared_mime", declaredMIME).
		Str("mime_type", mimeType).
		Int("size_bytes", len(data)).
		Msg("Image file read")

	return &ImageFile{Name: name, MIMEType: mimeType, Data: data}, nil
}

// ToDataURL encodes data as a data:<mime>;base64,<payload> string.
func ToDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// PreviewDataURL returns the full data URL for f, suitable for immediate display.
func PreviewDataURL(f *ImageFile) (string, error) {
	if f == nil || len(f.Data) == 0 {
		return "", &IOError{Op: "encode", Cause: errEmptyImage}
	}
	return ToDataURL(f.MIMEType, f.Data), nil
}

// ToBase64 returns only the base64 payload of f's data URL, with the
// data:<mime>;base64, prefix stripped.
func ToBase64(f *ImageFile) (string, error) {
	dataURL, err := PreviewDataURL(f)
	if err != nil {
		return "", err
	}
	_, payload, err := SplitDataURL(dataURL)
	if err != nil {
		return "", &IOError{Op: "encode", Cause: err}
	}
	return payload, nil
}

// SplitDataURL separates a base64 data URL into its MIME type and payload.
func SplitDataURL(dataURL string) (mimeType, payload string, err error) {
	rest, ok := strings.CutPrefix(dataURL, "data:")
	if !ok {
		return "", "", fmt.Errorf("not a data URL")
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", "", fmt.Errorf("data URL has no payload separator")
	}
	mimeType, ok = strings.CutSuffix(header, ";base64")
	if !ok {
		return "", "", fmt.Errorf("data URL is not base64 encoded")
	}
	return mimeType, payload, nil
}

// DecodeDataURL returns the MIME type and raw bytes carried by a base64 data URL.
func DecodeDataURL(dataURL string) (string, []byte, error) {
	mimeType, payload, err := SplitDataURL(dataURL)
	if err != nil {
		return "", nil, err
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode data URL payload: %w", err)
	}
	return mimeType, data, nil
}
