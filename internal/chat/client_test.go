package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/fpang/gemini-image-chat/internal/filehandler"
	"github.com/fpang/gemini-image-chat/internal/metrics"
	"google.golang.org/genai"
)

func init() {
	metrics.SetOutput(io.Discard)
}

// fakeModels records every call and returns canned responses.
type fakeModels struct {
	mu sync.Mutex

	contentCalls []contentCall
	imageCalls   []imageCall

	contentResp *genai.GenerateContentResponse
	imagesResp  *genai.GenerateImagesResponse
	err         error
}

type contentCall struct {
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

type imageCall struct {
	model  string
	prompt string
	config *genai.GenerateImagesConfig
}

func (f *fakeModels) GenerateContent(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.contentCalls = append(f.contentCalls, contentCall{model: model, contents: contents, config: config})
	return f.contentResp, f.err
}

func (f *fakeModels) GenerateImages(_ context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls = append(f.imageCalls, imageCall{model: model, prompt: prompt, config: config})
	return f.imagesResp, f.err
}

func partsResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: genai.RoleModel, Parts: parts}}},
	}
}

func imagePart(data string) *genai.Part {
	return &genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte(data)}}
}

func textPart(text string) *genai.Part {
	return &genai.Part{Text: text}
}

func oneImage(data string) *genai.GenerateImagesResponse {
	return &genai.GenerateImagesResponse{
		GeneratedImages: []*genai.GeneratedImage{{Image: &genai.Image{ImageBytes: []byte(data), MIMEType: "image/png"}}},
	}
}

func testAttachment() *filehandler.ImageFile {
	return &filehandler.ImageFile{Name: "logo.png", MIMEType: "image/png", Data: []byte("source-bytes")}
}

// recordingRescaler tags every URL with the factor so tests can see it was applied.
type recordingRescaler struct {
	mu      sync.Mutex
	factors []float64
	failOn  string
}

func (r *recordingRescaler) rescale(_ context.Context, url string, factor float64) (string, error) {
	r.mu.Lock()
	r.factors = append(r.factors, factor)
	r.mu.Unlock()
	if r.failOn != "" && url == r.failOn {
		return "", &filehandler.RescaleError{Op: "decode", Cause: errors.New("bad image")}
	}
	return fmt.Sprintf("%s@%v", url, factor), nil
}

func newTestClient(models *fakeModels) *Client {
	return NewClient(models, "edit-model", "generate-model")
}

func TestGenerateWithoutAttachmentUsesGenerateModeOnly(t *testing.T) {
	models := &fakeModels{imagesResp: oneImage("balloon")}
	c := newTestClient(models)

	results, err := c.Generate(context.Background(), Request{Prompt: "a red balloon", AspectRatio: "16:9", Scale: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(models.imageCalls) != 1 || len(models.contentCalls) != 0 {
		t.Fatalf("expected 1 generate call and 0 edit calls, got %d and %d", len(models.imageCalls), len(models.contentCalls))
	}
	call := models.imageCalls[0]
	if call.model != "generate-model" || call.prompt != "a red balloon" {
		t.Errorf("unexpected call: model=%q prompt=%q", call.model, call.prompt)
	}
	if call.config.AspectRatio != "16:9" || call.config.NumberOfImages != 1 {
		t.Errorf("unexpected config: %+v", call.config)
	}

	want := filehandler.ToDataURL("image/png", []byte("balloon"))
	if len(results) != 1 || results[0].URL != want || results[0].Text != "" {
		t.Errorf("got %+v, want one unscaled image", results)
	}
}

func TestGenerateDefaultsAspectRatio(t *testing.T) {
	models := &fakeModels{imagesResp: oneImage("x")}
	if _, err := newTestClient(models).Generate(context.Background(), Request{Prompt: "cat"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := models.imageCalls[0].config.AspectRatio; got != DefaultAspectRatio {
		t.Errorf("AspectRatio = %q, want %q", got, DefaultAspectRatio)
	}
}

func TestGenerateWithAttachmentUsesEditModeOnly(t *testing.T) {
	for _, prompt := range []string{"remove the logo", ""} {
		t.Run(fmt.Sprintf("prompt=%q", prompt), func(t *testing.T) {
			models := &fakeModels{contentResp: partsResponse(imagePart("edited"))}
			c := newTestClient(models)

			if _, err := c.Generate(context.Background(), Request{Prompt: prompt, SourceImage: testAttachment(), AspectRatio: "16:9"}); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(models.contentCalls) != 1 || len(models.imageCalls) != 0 {
				t.Fatalf("expected 1 edit call and 0 generate calls, got %d and %d", len(models.contentCalls), len(models.imageCalls))
			}

			call := models.contentCalls[0]
			if call.model != "edit-model" {
				t.Errorf("model = %q, want edit-model", call.model)
			}
			if got := strings.Join(call.config.ResponseModalities, ","); got != "IMAGE,TEXT" {
				t.Errorf("ResponseModalities = %q", got)
			}
			if len(call.contents) != 1 || len(call.contents[0].Parts) != 2 {
				t.Fatalf("expected one content with two parts, got %+v", call.contents)
			}
			parts := call.contents[0].Parts
			if parts[0].InlineData == nil || string(parts[0].InlineData.Data) != "source-bytes" || parts[0].InlineData.MIMEType != "image/png" {
				t.Errorf("first part should carry the attachment, got %+v", parts[0])
			}
			if parts[1].Text != prompt {
				t.Errorf("second part text = %q, want %q", parts[1].Text, prompt)
			}
		})
	}
}

func TestEditCaptionsAttachToPrecedingImage(t *testing.T) {
	models := &fakeModels{contentResp: partsResponse(
		imagePart("A"),
		textPart("x"),
		textPart("y"),
		imagePart("B"),
	)}

	results, err := newTestClient(models).Generate(context.Background(), Request{Prompt: "p", SourceImage: testAttachment()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []ImageResult{
		{URL: filehandler.ToDataURL("image/png", []byte("A")), Text: "xy"},
		{URL: filehandler.ToDataURL("image/png", []byte("B"))},
	}
	if len(results) != len(want) {
		t.Fatalf("got %d results, want %d", len(results), len(want))
	}
	for i := range want {
		if results[i] != want[i] {
			t.Errorf("result[%d] = %+v, want %+v", i, results[i], want[i])
		}
	}
}

func TestEditDropsLeadingText(t *testing.T) {
	models := &fakeModels{contentResp: partsResponse(textPart("Here you go: "), imagePart("A"))}

	results, err := newTestClient(models).Generate(context.Background(), Request{SourceImage: testAttachment()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 || results[0].Text != "" {
		t.Errorf("leading text must not become a caption, got %+v", results)
	}
}

func TestEditWithoutImageIsGenerationError(t *testing.T) {
	tests := []struct {
		name       string
		resp       *genai.GenerateContentResponse
		wantReason string
	}{
		{"text only", partsResponse(textPart("I can't do that")), ""},
		{"no candidates", &genai.GenerateContentResponse{}, ""},
		{"nil response", nil, ""},
		{
			"prompt blocked",
			&genai.GenerateContentResponse{PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: "SAFETY"}},
			"SAFETY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models := &fakeModels{contentResp: tt.resp}
			_, err := newTestClient(models).Generate(context.Background(), Request{Prompt: "p", SourceImage: testAttachment()})

			var genErr *GenerationError
			if !errors.As(err, &genErr) {
				t.Fatalf("expected GenerationError, got %v", err)
			}
			if genErr.Mode != ModeEdit || genErr.Reason != tt.wantReason || genErr.Cause != nil {
				t.Errorf("unexpected error fields: %+v", genErr)
			}
			if !strings.Contains(err.Error(), "No image was returned") {
				t.Errorf("unexpected message %q", err.Error())
			}
		})
	}
}

func TestGenerateWithoutImageIsGenerationError(t *testing.T) {
	tests := []struct {
		name       string
		resp       *genai.GenerateImagesResponse
		wantReason string
	}{
		{"empty", &genai.GenerateImagesResponse{}, ""},
		{"nil", nil, ""},
		{
			"filtered",
			&genai.GenerateImagesResponse{GeneratedImages: []*genai.GeneratedImage{{RAIFilteredReason: "blocked: people"}}},
			"blocked: people",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			models := &fakeModels{imagesResp: tt.resp}
			_, err := newTestClient(models).Generate(context.Background(), Request{Prompt: "p"})

			var genErr *GenerationError
			if !errors.As(err, &genErr) {
				t.Fatalf("expected GenerationError, got %v", err)
			}
			if genErr.Mode != ModeGenerate || genErr.Reason != tt.wantReason {
				t.Errorf("unexpected error fields: %+v", genErr)
			}
		})
	}
}

func TestServiceFailureIsGenerationErrorWithCause(t *testing.T) {
	cause := errors.New("connection reset")
	models := &fakeModels{err: cause}

	_, err := newTestClient(models).Generate(context.Background(), Request{Prompt: "p"})
	if !IsGenerationError(err) {
		t.Fatalf("expected GenerationError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Error("GenerationError should unwrap to the service error")
	}
	if len(models.imageCalls) != 1 {
		t.Errorf("expected exactly one call without retries, got %d", len(models.imageCalls))
	}
}

func TestEmptyAttachmentIsIOErrorBeforeAnyCall(t *testing.T) {
	models := &fakeModels{}
	src := &filehandler.ImageFile{Name: "empty.png", MIMEType: "image/png"}

	_, err := newTestClient(models).Generate(context.Background(), Request{Prompt: "p", SourceImage: src})
	if !filehandler.IsIOError(err) {
		t.Fatalf("expected IOError, got %v", err)
	}
	if len(models.contentCalls)+len(models.imageCalls) != 0 {
		t.Error("no network call may be made when the attachment cannot be read")
	}
}

func TestScaleAppliesToEveryResultInOrder(t *testing.T) {
	models := &fakeModels{contentResp: partsResponse(imagePart("A"), textPart("cap"), imagePart("B"), imagePart("C"))}
	c := newTestClient(models)
	r := &recordingRescaler{}
	c.rescale = r.rescale

	results, err := c.Generate(context.Background(), Request{Prompt: "remove the logo", SourceImage: testAttachment(), Scale: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(r.factors) != 3 {
		t.Fatalf("expected 3 rescales, got %d", len(r.factors))
	}
	for _, f := range r.factors {
		if f != 2 {
			t.Errorf("rescale factor = %v, want 2", f)
		}
	}
	for i, data := range []string{"A", "B", "C"} {
		want := filehandler.ToDataURL("image/png", []byte(data)) + "@2"
		if results[i].URL != want {
			t.Errorf("result[%d].URL = %q, want %q", i, results[i].URL, want)
		}
	}
	if results[0].Text != "cap" {
		t.Errorf("caption lost during rescale: %+v", results[0])
	}
}

func TestScaleOneSkipsRescale(t *testing.T) {
	for _, scale := range []float64{0, 1} {
		models := &fakeModels{imagesResp: oneImage("x")}
		c := newTestClient(models)
		r := &recordingRescaler{}
		c.rescale = r.rescale

		if _, err := c.Generate(context.Background(), Request{Prompt: "p", Scale: scale}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(r.factors) != 0 {
			t.Errorf("scale %v should not rescale, got %d calls", scale, len(r.factors))
		}
	}
}

func TestRescaleFailureAbortsCall(t *testing.T) {
	models := &fakeModels{contentResp: partsResponse(imagePart("A"), imagePart("B"))}
	c := newTestClient(models)
	r := &recordingRescaler{failOn: filehandler.ToDataURL("image/png", []byte("B"))}
	c.rescale = r.rescale

	results, err := c.Generate(context.Background(), Request{Prompt: "p", SourceImage: testAttachment(), Scale: 1.5})
	if !filehandler.IsRescaleError(err) {
		t.Fatalf("expected RescaleError, got %v", err)
	}
	if results != nil {
		t.Errorf("expected no partial results, got %+v", results)
	}
}

func TestRescaleFailureWrapsForeignErrors(t *testing.T) {
	models := &fakeModels{imagesResp: oneImage("x")}
	c := newTestClient(models)
	c.rescale = func(context.Context, string, float64) (string, error) {
		return "", errors.New("out of memory")
	}

	_, err := c.Generate(context.Background(), Request{Prompt: "p", Scale: 3})
	if !filehandler.IsRescaleError(err) {
		t.Fatalf("expected RescaleError, got %v", err)
	}
}

func TestNewClientModelFallbacks(t *testing.T) {
	t.Setenv("GEMINI_EDIT_MODEL", "")
	t.Setenv("GEMINI_IMAGE_MODEL", "custom-imagen")

	c := NewClient(&fakeModels{}, "", "")
	if c.EditModel() != DefaultEditModelName {
		t.Errorf("EditModel() = %q, want %q", c.EditModel(), DefaultEditModelName)
	}
	if c.GenerateModel() != "custom-imagen" {
		t.Errorf("GenerateModel() = %q, want custom-imagen", c.GenerateModel())
	}
}
