package store

import "errors"

var (
	// ErrNoProject indicates no project is currently selected.
	ErrNoProject = errors.New("no project selected")
	// ErrNoActiveConversation indicates no conversation exists to append to.
	ErrNoActiveConversation = errors.New("no active conversation")
	// ErrJobAlreadyPending indicates a generation job is already outstanding
	// for the current project.
	ErrJobAlreadyPending = errors.New("generation job already pending")
)
