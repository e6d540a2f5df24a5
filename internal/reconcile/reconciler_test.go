package reconcile_test

import (
	"testing"

	"DesignSync/internal/reconcile"
	"DesignSync/internal/store"

	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*store.Store, *reconcile.Reconciler) {
	t.Helper()
	s := store.NewStore(nil)
	s.SetCurrentProject(store.Project{
		ID:               "p1",
		Name:             "Living Room",
		OriginalImageURL: "https://cdn.example.com/orig.png",
		CurrentImageURL:  "https://cdn.example.com/orig.png",
	}, "c1", nil)
	return s, reconcile.New(s, nil, nil)
}

func TestQueuedJobThenCompletionEvent(t *testing.T) {
	s, r := setup(t)

	_, err := s.AppendMessage(store.RoleAssistant, "welcome", "")
	require.NoError(t, err)
	_, err = s.AppendMessage(store.RoleUser, "make it modern", "")
	require.NoError(t, err)
	_, err = s.BeginPendingJob()
	require.NoError(t, err)
	_, err = s.AppendMessage(store.RoleAssistant, "Working on it", "")
	require.NoError(t, err)

	msgs := s.Messages()
	require.Equal(t, "Working on it", msgs[len(msgs)-1].Content)

	r.ApplyCompletion("p1", "https://x/img.png", "c1")

	_, pending := s.PendingJob()
	require.False(t, pending)
	project, _ := s.CurrentProject()
	require.Equal(t, "https://x/img.png", project.CurrentImageURL)
}

func TestDuplicateCompletionIsHarmless(t *testing.T) {
	s, r := setup(t)
	_, err := s.BeginPendingJob()
	require.NoError(t, err)

	r.ApplyCompletion("p1", "https://x/img.png", "c1")
	countAfterFirst := len(s.Messages())

	r.ApplyCompletion("p1", "https://x/img.png", "c1")

	require.Len(t, s.Messages(), countAfterFirst)
	project, _ := s.CurrentProject()
	require.Equal(t, "https://x/img.png", project.CurrentImageURL)
}

func TestCompletionWithoutPendingJobStillRecordsArtifact(t *testing.T) {
	s, r := setup(t)

	r.ApplyCompletion("p1", "https://x/reloaded.png", "c1")

	require.Empty(t, s.Messages())
	project, _ := s.CurrentProject()
	require.Equal(t, "https://x/reloaded.png", project.CurrentImageURL)
}

func TestCompletionForStaleProjectLeavesActiveViewAlone(t *testing.T) {
	s, r := setup(t)
	_, err := s.BeginPendingJob()
	require.NoError(t, err)

	// User navigates to project B while A's job is still running.
	s.SetCurrentProject(store.Project{
		ID:              "p2",
		Name:            "Kitchen",
		CurrentImageURL: "https://cdn.example.com/kitchen.png",
	}, "c2", nil)

	r.ApplyCompletion("p1", "https://x/late.png", "c1")

	project, _ := s.CurrentProject()
	require.Equal(t, "https://cdn.example.com/kitchen.png", project.CurrentImageURL)
	require.Empty(t, s.Messages())

	url, ok := s.Artifact("p1")
	require.True(t, ok)
	require.Equal(t, "https://x/late.png", url)
}

func TestFailureAppendsAssistantErrorMessage(t *testing.T) {
	s, r := setup(t)
	_, err := s.BeginPendingJob()
	require.NoError(t, err)

	r.ApplyFailure("p1", "generation timed out")

	_, pending := s.PendingJob()
	require.False(t, pending)
	msgs := s.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, store.RoleAssistant, msgs[0].Role)
	require.Contains(t, msgs[0].Content, "generation timed out")
}

func TestStrayErrorEventsProduceNoMutations(t *testing.T) {
	s, r := setup(t)

	r.ApplyFailure("p1", "boom")
	r.ApplyFailure("p1", "boom again")

	require.Empty(t, s.Messages())
	_, pending := s.PendingJob()
	require.False(t, pending)
	project, _ := s.CurrentProject()
	require.Equal(t, "https://cdn.example.com/orig.png", project.CurrentImageURL)
}

func TestFailureForStaleProjectIsDropped(t *testing.T) {
	s, r := setup(t)
	_, err := s.BeginPendingJob()
	require.NoError(t, err)

	r.ApplyFailure("p2", "wrong project")

	// The current project's pending job must survive a stray failure.
	_, pending := s.PendingJob()
	require.True(t, pending)
	require.Empty(t, s.Messages())
}
