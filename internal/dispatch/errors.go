package dispatch

import "errors"

var (
	// ErrAuthRequired indicates the bearer credential is missing, expired or rejected.
	ErrAuthRequired = errors.New("authentication required")
	// ErrInsufficientCredits indicates the account has no credits left.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrContentPolicy indicates the backend rejected the message content.
	ErrContentPolicy = errors.New("content blocked by policy")
	// ErrProjectNotFound indicates the project does not exist on the backend.
	ErrProjectNotFound = errors.New("project not found")
	// ErrServer indicates a 5xx from the backend.
	ErrServer = errors.New("server error")
	// ErrNetwork indicates a transport-level failure before any response.
	ErrNetwork = errors.New("network failure")
	// ErrBlankMessage indicates an empty or whitespace-only chat message.
	ErrBlankMessage = errors.New("message is blank")
)
