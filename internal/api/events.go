package api

// Event types delivered on the per-project stream.
const (
	EventConnected      = "connected"
	EventDesignComplete = "design_generation_complete"
	EventDesignError    = "design_generation_error"
	EventKeepalive      = "keepalive"
)

// ProjectEvent is one JSON object from a data: line of the event stream.
// Unknown Type values must be tolerated.
type ProjectEvent struct {
	Type           string `json:"type"`
	ProjectID      string `json:"project_id"`
	NewImageURL    string `json:"new_image_url,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
	Timestamp      string `json:"timestamp,omitempty"`
}
