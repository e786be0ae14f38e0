package web

import (
	"errors"
	"fmt"
	"net/http"
	"slices"

	"github.com/fpang/gemini-image-chat/internal/conversation"
	"github.com/fpang/gemini-image-chat/internal/filehandler"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// uploadField is the multipart field carrying the attachment.
const uploadField = "image"

type optionsResponse struct {
	AspectRatios   []string                   `json:"aspectRatios"`
	Scales         []conversation.ScaleOption `json:"scales"`
	MaxUploadBytes int64                      `json:"maxUploadBytes"`
}

type createSessionResponse struct {
	SessionID string             `json:"sessionId"`
	State     conversation.State `json:"state"`
}

type settingsRequest struct {
	AspectRatio *string  `json:"aspectRatio"`
	Scale       *float64 `json:"scale"`
}

type submitRequest struct {
	Prompt string `json:"prompt"`
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *conversation.Session)

// withSession resolves the {id} path value to a live session.
func (s *Server) withSession(next sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}
		sess, err := s.store.Get(id)
		if err != nil {
			httpError(w, http.StatusNotFound, "session not found")
			return
		}
		next(w, r, sess)
	}
}

// sessionID validates the {id} path value. Session IDs are UUIDs.
func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		httpError(w, http.StatusBadRequest, "invalid session id")
		return "", false
	}
	return id, true
}

// GET /api/options
func (s *Server) handleOptions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, optionsResponse{
		AspectRatios:   conversation.AspectRatios,
		Scales:         conversation.Scales,
		MaxUploadBytes: s.maxUploadBytes,
	})
}

// POST /api/sessions
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sess := s.store.Create()
	respondJSON(w, http.StatusCreated, createSessionResponse{SessionID: sess.ID(), State: sess.State()})
}

// GET /api/sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request, sess *conversation.Session) {
	respondJSON(w, http.StatusOK, sess.State())
}

// DELETE /api/sessions/{id}
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	if !s.store.Delete(id) {
		httpError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// POST /api/sessions/{id}/attachment (multipart, field "image")
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request, sess *conversation.Session) {
	if r.ContentLength > s.maxUploadBytes {
		httpError(w, http.StatusRequestEntityTooLarge, uploadTooLargeMessage(s.maxUploadBytes))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes)

	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpError(w, http.StatusRequestEntityTooLarge, uploadTooLargeMessage(s.maxUploadBytes))
			return
		}
		httpError(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("missing %q file field", uploadField))
		return
	}
	defer file.Close()

	img, err := filehandler.ReadImageFile(header.Filename, header.Header.Get("Content-Type"), file)
	if err == nil {
		err = sess.Attach(img)
	}
	if err != nil {
		s.attachError(w, sess, err)
		return
	}

	log.Info().
		Str("session_id", sess.ID()).
		Str("name", header.Filename).
		Str("mime_type", img.MIMEType).
		Int("size_bytes", len(img.Data)).
		Msg("Attachment uploaded")

	respondJSON(w, http.StatusOK, sess.State())
}

func (s *Server) attachError(w http.ResponseWriter, sess *conversation.Session, err error) {
	switch {
	case errors.Is(err, conversation.ErrSubmissionInFlight):
		httpError(w, http.StatusConflict, err.Error())
	case errors.Is(err, filehandler.ErrUnsupportedImage):
		httpError(w, http.StatusUnsupportedMediaType, err.Error())
	case filehandler.IsIOError(err):
		httpError(w, http.StatusBadRequest, err.Error())
	default:
		httpError(w, http.StatusInternalServerError, "failed to attach image", sess.ID(), err.Error())
	}
}

func uploadTooLargeMessage(limit int64) string {
	return fmt.Sprintf("image exceeds the %d MB upload limit", limit>>20)
}

// DELETE /api/sessions/{id}/attachment
func (s *Server) handleRemoveAttachment(w http.ResponseWriter, r *http.Request, sess *conversation.Session) {
	if err := sess.RemoveAttachment(); err != nil {
		httpError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess.State())
}

// PUT /api/sessions/{id}/settings
// Body: {"aspectRatio": "16:9", "scale": 2}; either field may be omitted.
func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, sess *conversation.Session) {
	var req settingsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	// Both fields are validated before either is applied.
	if req.AspectRatio != nil && !validAspectRatio(*req.AspectRatio) {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("%v %q", conversation.ErrInvalidAspectRatio, *req.AspectRatio))
		return
	}
	if req.Scale != nil && !validScale(*req.Scale) {
		httpError(w, http.StatusBadRequest, fmt.Sprintf("%v %v", conversation.ErrInvalidScale, *req.Scale))
		return
	}

	if req.AspectRatio != nil {
		if err := sess.SetAspectRatio(*req.AspectRatio); err != nil {
			settingsError(w, err)
			return
		}
	}
	if req.Scale != nil {
		if err := sess.SetScale(*req.Scale); err != nil {
			settingsError(w, err)
			return
		}
	}
	respondJSON(w, http.StatusOK, sess.State())
}

func settingsError(w http.ResponseWriter, err error) {
	if errors.Is(err, conversation.ErrSubmissionInFlight) {
		httpError(w, http.StatusConflict, err.Error())
		return
	}
	httpError(w, http.StatusBadRequest, err.Error())
}

func validAspectRatio(ratio string) bool {
	return slices.Contains(conversation.AspectRatios, ratio)
}

func validScale(scale float64) bool {
	return slices.ContainsFunc(conversation.Scales, func(o conversation.ScaleOption) bool { return o.Value == scale })
}

// POST /api/sessions/{id}/messages
// Body: {"prompt": "..."}. Blocks until the submission completes. A failed
// generation still answers 200; the failure is in the returned state's banner.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request, sess *conversation.Session) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := sess.Submit(r.Context(), req.Prompt)
	switch {
	case errors.Is(err, conversation.ErrEmptySubmission):
		httpError(w, http.StatusBadRequest, "enter a prompt or attach an image")
		return
	case errors.Is(err, conversation.ErrSubmissionInFlight):
		httpError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		log.Warn().Err(err).Str("session_id", sess.ID()).Msg("Submission failed")
	}

	respondJSON(w, http.StatusOK, sess.State())
}
