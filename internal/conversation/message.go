package conversation

import (
	"github.com/fpang/gemini-image-chat/internal/filehandler"
	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// ImageContent is one image shown inside a message, with an optional caption.
type ImageContent struct {
	URL  string `json:"url"`
	Text string `json:"text,omitempty"`
}

// Message is one entry in the transcript. Messages are never modified after
// they are appended.
type Message struct {
	ID        string         `json:"id"`
	Role      Role           `json:"role"`
	Text      string         `json:"text,omitempty"`
	Images    []ImageContent `json:"images,omitempty"`
	IsLoading bool           `json:"isLoading,omitempty"`
}

// AttachedImageFile is the single pending attachment of a session, kept
// together with its preview data URL.
type AttachedImageFile struct {
	File    *filehandler.ImageFile
	DataURL string
	Info    *filehandler.ImageInfo
}

// newMessageID returns a unique ID prefixed with the author role, e.g. "user-<uuid>".
func newMessageID(role Role) string {
	return string(role) + "-" + uuid.NewString()
}
