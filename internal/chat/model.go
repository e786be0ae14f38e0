package chat

import "os"

// Image model IDs
//
// | Model Name              | API Model ID                 | Use Case                         |
// |-------------------------|------------------------------|----------------------------------|
// | Gemini 2.5 Flash Image  | gemini-2.5-flash-image       | Edit an image from an instruction |
// | Gemini 3 Pro Image      | gemini-3-pro-image-preview   | Advanced image generation/edit   |
// | Imagen 4                | imagen-4.0-generate-001      | Text-to-image generation         |
// | Imagen 4 Fast           | imagen-4.0-fast-generate-001 | Lower latency text-to-image      |
const (
	// ModelGemini25FlashImage edits images and returns interleaved image and text parts.
	ModelGemini25FlashImage = "gemini-2.5-flash-image"

	// ModelGemini3ProImage is for advanced image generation/edit.
	ModelGemini3ProImage = "gemini-3-pro-image-preview"

	// ModelImagen4 generates images from a text prompt.
	ModelImagen4 = "imagen-4.0-generate-001"

	// ModelImagen4Fast trades some quality for latency.
	ModelImagen4Fast = "imagen-4.0-fast-generate-001"

	// ModelValidation is the cheap text model used to validate the API key.
	ModelValidation = "gemini-2.5-flash"
)

const (
	// DefaultEditModelName is used when an image is attached.
	DefaultEditModelName = ModelGemini25FlashImage

	// DefaultGenerateModelName is used for text-only prompts.
	DefaultGenerateModelName = ModelImagen4
)

// GetEditModelName returns the edit-mode model, resolved from:
// 1. GEMINI_EDIT_MODEL environment variable (if set)
// 2. Default: gemini-2.5-flash-image
func GetEditModelName() string {
	if env := os.Getenv("GEMINI_EDIT_MODEL"); env != "" {
		return env
	}
	return DefaultEditModelName
}

// GetGenerateModelName returns the generate-mode model, resolved from:
// 1. GEMINI_IMAGE_MODEL environment variable (if set)
// 2. Default: imagen-4.0-generate-001
func GetGenerateModelName() string {
	if env := os.Getenv("GEMINI_IMAGE_MODEL"); env != "" {
		return env
	}
	return DefaultGenerateModelName
}
