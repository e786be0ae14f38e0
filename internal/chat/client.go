package chat

// client.go turns one prompt (plus an optional attached image) into a list of
// image results. An attachment selects edit mode, which sends the image and the
// instruction to a Gemini image model and walks the interleaved image/text parts
// it returns. Without an attachment, generate mode asks an Imagen model for one
// image at the requested aspect ratio. Exactly one service call is made either way.

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fpang/gemini-image-chat/internal/filehandler"
	"github.com/fpang/gemini-image-chat/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"google.golang.org/genai"
)

// DefaultAspectRatio is used in generate mode when no aspect ratio is given.
const DefaultAspectRatio = "1:1"

// ModelsService is the subset of the genai Models API the client calls.
// *genai.Client's Models field satisfies it.
type ModelsService interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// RescaleFunc redraws the image in a data URL at factor times its size.
type RescaleFunc func(ctx context.Context, dataURL string, factor float64) (string, error)

// ImageResult is one image produced by a call, with any caption text the
// service emitted after it.
type ImageResult struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// Request describes one generation or edit.
type Request struct {
	Prompt string
	// SourceImage selects edit mode when non-nil.
	SourceImage *filehandler.ImageFile
	// AspectRatio applies to generate mode only; empty means DefaultAspectRatio.
	AspectRatio string
	// Scale resizes every returned image; 0 and 1 both leave images untouched.
	Scale float64
}

// Client calls the Gemini API to generate or edit images.
type Client struct {
	models        ModelsService
	editModel     string
	generateModel string
	rescale       RescaleFunc
}

// NewGeminiClient creates a genai client bound to apiKey on the Gemini API backend.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// NewClient creates an image client. Empty model names fall back to
// GetEditModelName and GetGenerateModelName.
func NewClient(models ModelsService, editModel, generateModel string) *Client {
	if editModel == "" {
		editModel = GetEditModelName()
	}
	if generateModel == "" {
		generateModel = GetGenerateModelName()
	}
	return &Client{
		models:        models,
		editModel:     editModel,
		generateModel: generateModel,
		rescale:       filehandler.Rescale,
	}
}

// EditModel returns the model used when an image is attached.
func (c *Client) EditModel() string { return c.editModel }

// GenerateModel returns the model used for text-only prompts.
func (c *Client) GenerateModel() string { return c.generateModel }

// Generate runs one generation or edit and returns the images in the order the
// service produced them.
//
// It fails with *GenerationError when the service call fails or returns no
// image, *filehandler.RescaleError when a result cannot be resized, and
// *filehandler.IOError when the attachment is empty. Any failure aborts the
// whole call; there are no partial results.
func (c *Client) Generate(ctx context.Context, req Request) ([]ImageResult, error) {
	scale := req.Scale
	if scale == 0 {
		scale = 1
	}

	mode := ModeGenerate
	if req.SourceImage != nil {
		mode = ModeEdit
	}

	startTime := time.Now()

	var results []ImageResult
	var err error
	switch mode {
	case ModeEdit:
		results, err = c.edit(ctx, req.Prompt, req.SourceImage)
	default:
		results, err = c.generate(ctx, req.Prompt, req.AspectRatio)
	}
	if err == nil && scale != 1 {
		results, err = c.rescaleAll(ctx, results, scale)
	}

	duration := time.Since(startTime)
	recordGeneration(mode, len(results), err, duration)

	if err != nil {
		log.Error().
			Err(err).
			Str("mode", string(mode)).
			Dur("duration", duration).
			Msg("Image request failed")
		return nil, err
	}

	log.Info().
		Str("mode", string(mode)).
		Int("images", len(results)).
		Float64("scale", scale).
		Dur("duration", duration).
		Msg("Image request complete")

	return results, nil
}

// edit sends the attached image and the instruction as one multi-part user turn.
func (c *Client) edit(ctx context.Context, prompt string, src *filehandler.ImageFile) ([]ImageResult, error) {
	if len(src.Data) == 0 {
		return nil, &filehandler.IOError{Op: "attach " + src.Name, Cause: errors.New("attachment is empty")}
	}

	mimeType := src.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}

	log.Debug().
		Str("model", c.editModel).
		Str("instruction", truncateString(prompt, 100)).
		Int("image_bytes", len(src.Data)).
		Str("image_mime", mimeType).
		Msg("Sending image to Gemini for editing")

	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: mimeType, Data: src.Data}},
		genai.NewPartFromText(prompt),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	resp, err := c.models.GenerateContent(ctx, c.editModel, contents, config)
	if err != nil {
		return nil, &GenerationError{Mode: ModeEdit, Cause: err}
	}

	results, dropped := collectEditResults(resp)
	if dropped != "" {
		log.Debug().
			Str("text", truncateString(dropped, 200)).
			Msg("Discarded text that arrived before any image")
	}

	if len(results) == 0 {
		reason := editBlockReason(resp)
		log.Warn().
			Str("model", c.editModel).
			Str("reason", reason).
			Msg("Edit returned no image")
		return nil, &GenerationError{Mode: ModeEdit, Reason: reason}
	}

	return results, nil
}

// collectEditResults walks the first candidate's parts in order. Each image part
// starts a new result; each text part is appended to the caption of the most
// recent image. Text that precedes every image has nothing to attach to and is
// returned separately as dropped.
func collectEditResults(resp *genai.GenerateContentResponse) (results []ImageResult, dropped string) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return nil, ""
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part == nil:
		case part.InlineData != nil && len(part.InlineData.Data) > 0:
			mimeType := part.InlineData.MIMEType
			if mimeType == "" {
				mimeType = "image/png"
			}
			results = append(results, ImageResult{URL: filehandler.ToDataURL(mimeType, part.InlineData.Data)})
		case part.Text != "":
			if len(results) == 0 {
				dropped += part.Text
				continue
			}
			results[len(results)-1].Text += part.Text
		}
	}
	return results, dropped
}

// editBlockReason extracts why an edit response carried no image, if the service said.
func editBlockReason(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return string(resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		if fr := string(resp.Candidates[0].FinishReason); fr != "" && fr != "STOP" {
			return fr
		}
	}
	return ""
}

// generate asks the text-to-image model for exactly one image.
func (c *Client) generate(ctx context.Context, prompt, aspectRatio string) ([]ImageResult, error) {
	if aspectRatio == "" {
		aspectRatio = DefaultAspectRatio
	}

	log.Debug().
		Str("model", c.generateModel).
		Str("prompt", truncateString(prompt, 100)).
		Str("aspect_ratio", aspectRatio).
		Msg("Sending prompt to Imagen for generation")

	config := &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: "image/png",
		AspectRatio:    aspectRatio,
	}

	resp, err := c.models.GenerateImages(ctx, c.generateModel, prompt, config)
	if err != nil {
		return nil, &GenerationError{Mode: ModeGenerate, Cause: err}
	}

	var results []ImageResult
	var reason string
	if resp != nil {
		for _, img := range resp.GeneratedImages {
			if img == nil {
				continue
			}
			if img.Image == nil || len(img.Image.ImageBytes) == 0 {
				if img.RAIFilteredReason != "" {
					reason = img.RAIFilteredReason
				}
				continue
			}
			mimeType := img.Image.MIMEType
			if mimeType == "" {
				mimeType = "image/png"
			}
			results = append(results, ImageResult{URL: filehandler.ToDataURL(mimeType, img.Image.ImageBytes)})
		}
	}

	if len(results) == 0 {
		log.Warn().
			Str("model", c.generateModel).
			Str("reason", reason).
			Msg("Generation returned no image")
		return nil, &GenerationError{Mode: ModeGenerate, Reason: reason}
	}

	return results, nil
}

// rescaleAll resizes every result concurrently and returns them in their
// original order. The first failure cancels the rest and fails the call.
func (c *Client) rescaleAll(ctx context.Context, results []ImageResult, scale float64) ([]ImageResult, error) {
	out := make([]ImageResult, len(results))
	g, gctx := errgroup.WithContext(ctx)
	for i, r := range results {
		g.Go(func() error {
			url, err := c.rescale(gctx, r.URL, scale)
			if err != nil {
				if !filehandler.IsRescaleError(err) {
					err = &filehandler.RescaleError{Op: "rescale", Cause: err}
				}
				return err
			}
			out[i] = ImageResult{URL: url, Text: r.Text}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// recordGeneration emits one EMF record per call.
func recordGeneration(mode Mode, images int, err error, duration time.Duration) {
	result := "success"
	switch {
	case err == nil:
	case filehandler.IsRescaleError(err):
		result = "rescale_error"
	case filehandler.IsIOError(err):
		result = "io_error"
	default:
		var genErr *GenerationError
		if errors.As(err, &genErr) && genErr.Cause == nil {
			result = "no_image"
		} else {
			result = "service_error"
		}
	}

	metrics.New(metrics.Namespace).
		Dimension("Mode", string(mode)).
		Dimension("Result", result).
		Metric("GenerationMs", float64(duration.Milliseconds()), metrics.UnitMilliseconds).
		Metric("ImageCount", float64(images), metrics.UnitCount).
		Flush()
}

// truncateString truncates a string to maxLen, appending "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
