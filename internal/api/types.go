package api

import "time"

// UploadResponse is returned by POST /upload-image.
type UploadResponse struct {
	ImageURL string `json:"image_url"`
}

// Project is the backend representation of a design project.
type Project struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	OriginalImageURL string `json:"original_image_url"`
	CurrentImageURL  string `json:"current_image_url"`
	Description      string `json:"description,omitempty"`
	RoomType         string `json:"room_type,omitempty"`
	StylePreference  string `json:"style_preference,omitempty"`
}

// CreateProjectRequest is the body of POST /projects.
type CreateProjectRequest struct {
	Name             string `json:"name"`
	OriginalImageURL string `json:"original_image_url"`
	Description      string `json:"description,omitempty"`
}

// ChatMessage is one turn in a conversation as the backend represents it.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation is returned by GET /conversations/{project_id}.
type Conversation struct {
	ID        string        `json:"id"`
	ProjectID string        `json:"project_id"`
	Messages  []ChatMessage `json:"messages"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	ProjectID      string `json:"project_id"`
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ResponseQueued marks a chat response whose outcome arrives on the event channel.
const ResponseQueued = "design_generation_queued"

// ChatResponse is the body of a successful POST /chat. Exactly one of three
// shapes comes back: an immediate assistant reply (optionally with ImageURL),
// a set of design options, or a queued acknowledgment (Type == ResponseQueued).
type ChatResponse struct {
	Type             string         `json:"type,omitempty"`
	Processing       bool           `json:"processing,omitempty"`
	ConversationID   string         `json:"conversation_id"`
	Message          ChatMessage    `json:"message"`
	ImageURL         string         `json:"image_url,omitempty"`
	Options          []DesignOption `json:"options,omitempty"`
	CreditsRemaining *int           `json:"credits_remaining,omitempty"`
}

// DesignOption is one discrete redesign proposal from the analyze endpoint
// or an options-shaped chat response.
type DesignOption struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	KeyChanges  []string `json:"key_changes"`
}

// AnalyzeRequest is the body of POST /analyze-image.
type AnalyzeRequest struct {
	ProjectID string `json:"project_id"`
}

// AnalyzeResponse is the body of a successful POST /analyze-image.
type AnalyzeResponse struct {
	Analysis string         `json:"analysis"`
	Options  []DesignOption `json:"options"`
}

// ErrorResponse is the backend's error body shape.
type ErrorResponse struct {
	Detail string `json:"detail"`
}
