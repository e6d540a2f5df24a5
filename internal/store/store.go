package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single chat message. Immutable once appended; ordering is
// insertion order.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	ImageURL  string    `json:"image_url,omitempty"`
}

// Project is the client's view of a design project.
type Project struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	OriginalImageURL string `json:"original_image_url"`
	CurrentImageURL  string `json:"current_image_url"`
	Description      string `json:"description,omitempty"`
}

// PendingJob marks one outstanding asynchronous generation for the current
// project. At most one exists per project at a time.
type PendingJob struct {
	ProjectID      string    `json:"project_id"`
	ConversationID string    `json:"conversation_id"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

// JobResult carries the outcome of a completed generation job.
type JobResult struct {
	ImageURL string
	Message  string
}

// Store is the authoritative, synchronously-readable state container. All
// mutation goes through its operations; the event channel never writes to it
// directly.
type Store struct {
	mu             sync.Mutex
	logger         *slog.Logger
	current        *Project
	conversationID string
	messages       []Message
	pending        *PendingJob
	credits        int
	creditsKnown   bool

	// last-known artifact per project id, including projects that are no
	// longer current. A completion that lands after local abandonment still
	// represents finished work.
	artifacts map[string]string

	now func() time.Time
}

// NewStore creates an empty store.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		logger:    logger,
		artifacts: make(map[string]string),
		now:       time.Now,
	}
}

// SetCurrentProject replaces the current project. The conversation is cleared
// unless conversationID and its history are supplied (resumption path). Any
// PendingJob for the previous project is discarded silently: the server may
// still finish it, but the user is no longer watching.
func (s *Store) SetCurrentProject(project Project, conversationID string, history []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending != nil {
		s.logger.Info("abandoning pending job on project switch",
			"project_id", s.pending.ProjectID)
	}
	s.pending = nil

	p := project
	s.current = &p
	s.artifacts[p.ID] = p.CurrentImageURL

	if conversationID != "" {
		s.conversationID = conversationID
		s.messages = append([]Message(nil), history...)
	} else {
		s.conversationID = ""
		s.messages = nil
	}

	s.logger.Info("selected project", "project_id", p.ID, "conversation_id", conversationID)
}

// ClearCurrentProject deselects the current project, abandoning any pending job.
func (s *Store) ClearCurrentProject() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.conversationID = ""
	s.messages = nil
	s.pending = nil
}

// CurrentProject returns a copy of the current project, if any.
func (s *Store) CurrentProject() (Project, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Project{}, false
	}
	return *s.current, true
}

// ConversationID returns the active conversation id, empty if none.
func (s *Store) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversationID
}

// SetConversationID records the conversation id once the backend assigns one.
func (s *Store) SetConversationID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversationID = id
}

// Messages returns a copy of the message log in append order.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.messages...)
}

// AppendMessage pushes a message to the end of the active conversation. An
// assistant message may open the conversation implicitly (the welcome turn);
// any other role requires an existing conversation.
func (s *Store) AppendMessage(role, content, imageURL string) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return Message{}, ErrNoProject
	}
	if s.conversationID == "" && len(s.messages) == 0 && role != RoleAssistant {
		return Message{}, ErrNoActiveConversation
	}

	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
		ImageURL:  imageURL,
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

// RemoveMessage deletes a message by id. Used to roll back an optimistic
// user message when the exchange did not happen.
func (s *Store) RemoveMessage(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, msg := range s.messages {
		if msg.ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return true
		}
	}
	return false
}

// BeginPendingJob creates the pending-job marker for the current project.
func (s *Store) BeginPendingJob() (PendingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return PendingJob{}, ErrNoProject
	}
	if s.pending != nil {
		return PendingJob{}, ErrJobAlreadyPending
	}

	job := PendingJob{
		ProjectID:      s.current.ID,
		ConversationID: s.conversationID,
		SubmittedAt:    s.now(),
	}
	s.pending = &job
	s.logger.Info("generation job queued", "project_id", job.ProjectID)
	return job, nil
}

// PendingJob returns the outstanding job, if any.
func (s *Store) PendingJob() (PendingJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return PendingJob{}, false
	}
	return *s.pending, true
}

// ResolvePendingJob clears the pending job and applies the result exactly
// once: the current artifact is replaced and an optional trailing assistant
// message appended. A call with no job pending is a no-op, which makes
// duplicate completion events harmless.
func (s *Store) ResolvePendingJob(result JobResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return
	}
	projectID := s.pending.ProjectID
	s.pending = nil

	if result.ImageURL != "" {
		s.artifacts[projectID] = result.ImageURL
		if s.current != nil && s.current.ID == projectID {
			s.current.CurrentImageURL = result.ImageURL
		}
	}
	if result.Message != "" {
		s.messages = append(s.messages, Message{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Content:   result.Message,
			Timestamp: s.now(),
			ImageURL:  result.ImageURL,
		})
	}
	s.logger.Info("generation job resolved", "project_id", projectID)
}

// FailPendingJob clears the pending job and appends an assistant error
// message. A call with no job pending is a no-op.
func (s *Store) FailPendingJob(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return
	}
	projectID := s.pending.ProjectID
	s.pending = nil

	s.messages = append(s.messages, Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Content:   "Sorry, that edit failed: " + reason,
		Timestamp: s.now(),
	})
	s.logger.Warn("generation job failed", "project_id", projectID, "reason", reason)
}

// RecordArtifact notes the latest known artifact for a project. The current
// display is only touched when the project is still the current one; a stale
// project's record is updated without disturbing the active view.
func (s *Store) RecordArtifact(projectID, imageURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if projectID == "" || imageURL == "" {
		return
	}
	s.artifacts[projectID] = imageURL
	if s.current != nil && s.current.ID == projectID {
		s.current.CurrentImageURL = imageURL
	}
}

// Artifact returns the last known artifact for a project id.
func (s *Store) Artifact(projectID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	url, ok := s.artifacts[projectID]
	return url, ok
}

// ResetToOriginal restores the current project's artifact to the original
// upload. Local only; the backend keeps every edit.
func (s *Store) ResetToOriginal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return false
	}
	s.current.CurrentImageURL = s.current.OriginalImageURL
	s.artifacts[s.current.ID] = s.current.OriginalImageURL
	return true
}

// Credits returns the last known credit balance and whether one was ever
// learned. An unknown balance must not trip the local submission guard; the
// server is the authority either way.
func (s *Store) Credits() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.credits, s.creditsKnown
}

// SetCredits records the last known credit balance.
func (s *Store) SetCredits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credits = n
	s.creditsKnown = true
}
