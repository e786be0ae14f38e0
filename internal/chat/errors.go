package chat

import "errors"

// Mode identifies which service operation a call used.
type Mode string

const (
	// ModeGenerate creates a new image from text alone.
	ModeGenerate Mode = "generate"
	// ModeEdit modifies an attached image according to the prompt.
	ModeEdit Mode = "edit"
)

// noImageMessage is shown to the user when the service returns no image.
const noImageMessage = "No image was returned. The prompt may have been blocked by the content policy."

// GenerationError reports that a call produced no usable image, either because
// the service returned none or because the request itself failed.
type GenerationError struct {
	Mode Mode
	// Reason is the block or filter reason reported by the service, if any.
	Reason string
	Cause  error
}

func (e *GenerationError) Error() string {
	if e.Cause != nil {
		return "Image " + string(e.Mode) + " request failed: " + e.Cause.Error()
	}
	if e.Reason != "" {
		return noImageMessage + " (reason: " + e.Reason + ")"
	}
	return noImageMessage
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// IsGenerationError reports whether err is or wraps a *GenerationError.
func IsGenerationError(err error) bool {
	var e *GenerationError
	return errors.As(err, &e)
}
