// Package web serves the chat page and the JSON API behind it. The page is a
// single embedded HTML/CSS/JS bundle; all conversation state lives in the
// conversation store and every API response returns the session's full state
// for the page to render.
package web

import (
	"embed"
	"io/fs"
	"net/http"
	"strings"

	"github.com/fpang/gemini-image-chat/internal/conversation"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog/log"
)

//go:embed all:static
var staticFS embed.FS

const (
	// DefaultMaxUploadBytes caps attachment uploads.
	DefaultMaxUploadBytes = 20 << 20
	maxJSONBodyBytes      = 64 << 10
)

// Config configures the HTTP surface.
type Config struct {
	// MaxUploadBytes caps the attachment upload body. Zero selects DefaultMaxUploadBytes.
	MaxUploadBytes int64
}

// Server routes page and API requests to the conversation store.
type Server struct {
	store          *conversation.Store
	maxUploadBytes int64
	static         fs.FS
}

// NewServer creates a server over store.
func NewServer(store *conversation.Store, cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to access embedded frontend")
	}
	return &Server{
		store:          store,
		maxUploadBytes: cfg.MaxUploadBytes,
		static:         sub,
	}
}

// Handler returns the fully wrapped handler: logging and request metrics,
// localhost CORS, and gzip compression around the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("GET /api/options", s.handleOptions)
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.withSession(s.handleGetSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/attachment", s.withSession(s.handleAttach))
	mux.HandleFunc("DELETE /api/sessions/{id}/attachment", s.withSession(s.handleRemoveAttachment))
	mux.HandleFunc("PUT /api/sessions/{id}/settings", s.withSession(s.handleSettings))
	mux.HandleFunc("POST /api/sessions/{id}/messages", s.withSession(s.handleSubmit))
	mux.HandleFunc("GET /api/", func(w http.ResponseWriter, r *http.Request) {
		httpError(w, http.StatusNotFound, "not found")
	})

	// Frontend static files (SPA fallback)
	fileServer := http.FileServer(http.FS(s.static))
	mux.Handle("GET /", withSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path != "/" {
			f, err := s.static.Open(strings.TrimPrefix(path, "/"))
			if err != nil {
				r.URL.Path = "/"
			} else {
				f.Close()
			}
		}
		fileServer.ServeHTTP(w, r)
	})))

	return withLogging(withCORS(gzhttp.GzipHandler(mux)))
}
