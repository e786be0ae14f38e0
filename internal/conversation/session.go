package conversation

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fpang/gemini-image-chat/internal/chat"
	"github.com/fpang/gemini-image-chat/internal/filehandler"
	"github.com/rs/zerolog/log"
)

// AspectRatios are the aspect ratios offered for generate mode.
var AspectRatios = []string{"1:1", "3:4", "4:3", "9:16", "16:9"}

// ScaleOption is one entry of the output scale selector.
type ScaleOption struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Scales are the output scale factors offered to the user.
var Scales = []ScaleOption{
	{Label: "0.5×", Value: 0.5},
	{Label: "1×", Value: 1},
	{Label: "1.5×", Value: 1.5},
	{Label: "2×", Value: 2},
	{Label: "3×", Value: 3},
}

const (
	DefaultAspectRatio = "1:1"
	DefaultScale       = 1.0
)

// GenericErrorText is shown for failures outside the known error taxonomy.
const GenericErrorText = "An unexpected error occurred."

var (
	ErrEmptySubmission    = errors.New("prompt or attachment required")
	ErrSubmissionInFlight = errors.New("a submission is already in progress")
	ErrInvalidAspectRatio = errors.New("unsupported aspect ratio")
	ErrInvalidScale       = errors.New("unsupported scale")
)

// Generator produces images for one submission. *chat.Client implements it.
type Generator interface {
	Generate(ctx context.Context, req chat.Request) ([]chat.ImageResult, error)
}

// Session is the conversation of one page: its transcript plus the transient
// input state. Only one submission may be in flight at a time; attachment and
// settings changes are refused while it runs.
type Session struct {
	id        string
	generator Generator
	now       func() time.Time

	mu          sync.Mutex
	messages    []Message
	loading     bool
	errText     string
	attachment  *AttachedImageFile
	aspectRatio string
	scale       float64
	lastActive  time.Time
}

// AttachmentPreview is the client-facing view of the pending attachment.
type AttachmentPreview struct {
	Name     string `json:"name"`
	MIMEType string `json:"mimeType"`
	DataURL  string `json:"dataUrl"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// State is a point-in-time copy of a session for rendering.
type State struct {
	Messages    []Message          `json:"messages"`
	IsLoading   bool               `json:"isLoading"`
	Error       string             `json:"error,omitempty"`
	Attachment  *AttachmentPreview `json:"attachment,omitempty"`
	AspectRatio string             `json:"aspectRatio"`
	Scale       float64            `json:"scale"`
}

func newSession(id string, generator Generator, now func() time.Time) *Session {
	return &Session{
		id:          id,
		generator:   generator,
		now:         now,
		messages:    []Message{},
		aspectRatio: DefaultAspectRatio,
		scale:       DefaultScale,
		lastActive:  now(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns a snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		Messages:    slices.Clone(s.messages),
		IsLoading:   s.loading,
		Error:       s.errText,
		AspectRatio: s.aspectRatio,
		Scale:       s.scale,
	}
	if a := s.attachment; a != nil {
		st.Attachment = &AttachmentPreview{
			Name:     a.File.Name,
			MIMEType: a.File.MIMEType,
			DataURL:  a.DataURL,
		}
		if a.Info != nil {
			st.Attachment.Width = a.Info.Width
			st.Attachment.Height = a.Info.Height
		}
	}
	return st
}

// Attach makes f the pending attachment, replacing any previous one.
func (s *Session) Attach(f *filehandler.ImageFile) error {
	info, err := filehandler.InspectImage(f)
	if err != nil {
		return err
	}
	dataURL, err := filehandler.PreviewDataURL(f)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading {
		return ErrSubmissionInFlight
	}
	replaced := s.attachment != nil
	s.attachment = &AttachedImageFile{File: f, DataURL: dataURL, Info: info}
	s.lastActive = s.now()

	log.Debug().
		Str("session_id", s.id).
		Str("name", f.Name).
		Int("size_bytes", len(f.Data)).
		Bool("replaced", replaced).
		Msg("Attachment set")
	return nil
}

// RemoveAttachment discards the pending attachment, if any.
func (s *Session) RemoveAttachment() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading {
		return ErrSubmissionInFlight
	}
	s.attachment = nil
	s.lastActive = s.now()
	return nil
}

// SetAspectRatio selects the aspect ratio used by the next generate-mode submission.
func (s *Session) SetAspectRatio(ratio string) error {
	if !slices.Contains(AspectRatios, ratio) {
		return fmt.Errorf("%w %q", ErrInvalidAspectRatio, ratio)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading {
		return ErrSubmissionInFlight
	}
	s.aspectRatio = ratio
	s.lastActive = s.now()
	return nil
}

// SetScale selects the output scale applied to the next submission's images.
func (s *Session) SetScale(scale float64) error {
	if !slices.ContainsFunc(Scales, func(o ScaleOption) bool { return o.Value == scale }) {
		return fmt.Errorf("%w %v", ErrInvalidScale, scale)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loading {
		return ErrSubmissionInFlight
	}
	s.scale = scale
	s.lastActive = s.now()
	return nil
}

// Submit sends prompt, together with the pending attachment, to the generator
// and blocks until the submission completes.
//
// The user message is appended before the call. On success a model message
// holding the results is appended; on failure only the error banner is set.
// Either way the attachment and the loading flag are cleared afterwards.
// ErrEmptySubmission and ErrSubmissionInFlight reject the submission without
// touching the transcript; any other returned error is the generation failure.
//
// The call is detached from ctx cancellation: once started it always runs to
// completion.
func (s *Session) Submit(ctx context.Context, prompt string) error {
	s.mu.Lock()
	if s.loading {
		s.mu.Unlock()
		return ErrSubmissionInFlight
	}
	if strings.TrimSpace(prompt) == "" && s.attachment == nil {
		s.mu.Unlock()
		return ErrEmptySubmission
	}

	s.errText = ""
	userMsg := Message{ID: newMessageID(RoleUser), Role: RoleUser, Text: prompt}
	req := chat.Request{Prompt: prompt, AspectRatio: s.aspectRatio, Scale: s.scale}
	if s.attachment != nil {
		userMsg.Images = []ImageContent{{URL: s.attachment.DataURL}}
		req.SourceImage = s.attachment.File
	}
	s.messages = append(s.messages, userMsg)
	s.loading = true
	s.lastActive = s.now()
	s.mu.Unlock()

	log.Info().
		Str("session_id", s.id).
		Bool("has_attachment", req.SourceImage != nil).
		Str("aspect_ratio", req.AspectRatio).
		Float64("scale", req.Scale).
		Msg("Submission started")

	results, err := s.generator.Generate(context.WithoutCancel(ctx), req)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.errText = ErrorText(err)
	} else {
		images := make([]ImageContent, 0, len(results))
		for _, r := range results {
			images = append(images, ImageContent{URL: r.URL, Text: r.Text})
		}
		s.messages = append(s.messages, Message{ID: newMessageID(RoleModel), Role: RoleModel, Images: images})
	}
	s.attachment = nil
	s.loading = false
	s.lastActive = s.now()

	log.Info().
		Str("session_id", s.id).
		Bool("success", err == nil).
		Int("messages", len(s.messages)).
		Msg("Submission finished")

	return err
}

// ErrorText converts a submission failure into the banner text shown to the user.
func ErrorText(err error) string {
	var genErr *chat.GenerationError
	switch {
	case errors.As(err, &genErr), filehandler.IsRescaleError(err), filehandler.IsIOError(err):
		if msg := err.Error(); msg != "" {
			return msg
		}
	}
	return GenericErrorText
}

// idleSince reports whether the session has been untouched since cutoff and
// is not running a submission.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.loading && s.lastActive.Before(cutoff)
}
