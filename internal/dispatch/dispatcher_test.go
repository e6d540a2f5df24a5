package dispatch_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"DesignSync/internal/api"
	"DesignSync/internal/auth"
	"DesignSync/internal/dispatch"
	"DesignSync/internal/store"

	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture returns a store with a selected project, an open conversation
// and a known credit balance, plus a dispatcher against the given handler.
func newFixture(t *testing.T, handler http.HandlerFunc) (*store.Store, *dispatch.Dispatcher) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	st := store.NewStore(quietLogger())
	st.SetCurrentProject(store.Project{
		ID:               "p1",
		Name:             "Living Room",
		OriginalImageURL: "https://cdn.example.com/orig.png",
		CurrentImageURL:  "https://cdn.example.com/orig.png",
	}, "c1", []store.Message{
		{ID: "m0", Role: store.RoleAssistant, Content: "welcome"},
	})
	st.SetCredits(5)

	d := dispatch.NewDispatcher(server.URL, auth.Static("test-token"), st, quietLogger(), nil, nil)
	return st, d
}

func writeJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestSubmitChatMessage_QueuedCreatesPendingJob(t *testing.T) {
	st, d := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var req api.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "p1", req.ProjectID)
		require.Equal(t, "make it modern", req.Message)
		require.Equal(t, "c1", req.ConversationID)

		writeJSON(t, w, http.StatusOK, map[string]any{
			"type":            api.ResponseQueued,
			"processing":      true,
			"conversation_id": "c1",
			"message":         map[string]any{"role": "assistant", "content": "Working on it"},
		})
	})

	outcome, err := d.SubmitChatMessage(context.Background(), "make it modern")
	require.NoError(t, err)
	require.Equal(t, dispatch.OutcomeQueued, outcome.Kind)

	job, pending := st.PendingJob()
	require.True(t, pending)
	require.Equal(t, "p1", job.ProjectID)

	msgs := st.Messages()
	require.Equal(t, "Working on it", msgs[len(msgs)-1].Content)
	require.Equal(t, store.RoleAssistant, msgs[len(msgs)-1].Role)
	require.Equal(t, "make it modern", msgs[len(msgs)-2].Content)
}

func TestSubmitChatMessage_ImmediateReplyWithArtifact(t *testing.T) {
	credits := 4
	st, d := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, api.ChatResponse{
			ConversationID:   "c1",
			Message:          api.ChatMessage{Role: "assistant", Content: "Done, walls are blue now"},
			ImageURL:         "https://x/blue.png",
			CreditsRemaining: &credits,
		})
	})

	outcome, err := d.SubmitChatMessage(context.Background(), "paint the walls blue")
	require.NoError(t, err)
	require.Equal(t, dispatch.OutcomeReplied, outcome.Kind)
	require.Equal(t, "https://x/blue.png", outcome.Message.ImageURL)

	_, pending := st.PendingJob()
	require.False(t, pending)

	project, _ := st.CurrentProject()
	require.Equal(t, "https://x/blue.png", project.CurrentImageURL)

	balance, known := st.Credits()
	require.True(t, known)
	require.Equal(t, 4, balance)
}

func TestSubmitChatMessage_OptionsOffered(t *testing.T) {
	st, d := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusOK, api.ChatResponse{
			ConversationID: "c1",
			Message:        api.ChatMessage{Role: "assistant", Content: "Here are some directions"},
			Options: []api.DesignOption{
				{Name: "Scandinavian", Description: "light and airy", KeyChanges: []string{"white walls"}},
				{Name: "Industrial", Description: "raw textures", KeyChanges: []string{"exposed brick"}},
			},
		})
	})

	outcome, err := d.SubmitChatMessage(context.Background(), "what styles would fit?")
	require.NoError(t, err)
	require.Equal(t, dispatch.OutcomeOptions, outcome.Kind)
	require.Len(t, outcome.Options, 2)

	_, pending := st.PendingJob()
	require.False(t, pending)
}

func TestSubmitChatMessage_RollsBackOptimisticMessageOnFailure(t *testing.T) {
	st, d := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusInternalServerError, api.ErrorResponse{Detail: "boom"})
	})
	before := len(st.Messages())

	_, err := d.SubmitChatMessage(context.Background(), "make it modern")
	require.ErrorIs(t, err, dispatch.ErrServer)
	require.Len(t, st.Messages(), before, "optimistic user message rolled back")
}

func TestSubmitChatMessage_AuthRejected(t *testing.T) {
	st, d := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusUnauthorized, api.ErrorResponse{Detail: "token expired"})
	})
	before := len(st.Messages())

	_, err := d.SubmitChatMessage(context.Background(), "make it modern")
	require.ErrorIs(t, err, dispatch.ErrAuthRequired)
	require.Len(t, st.Messages(), before)
}

func TestSubmitChatMessage_CreditDetailMapsToInsufficientCredits(t *testing.T) {
	_, d := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusBadRequest, api.ErrorResponse{Detail: "Insufficient credits"})
	})

	_, err := d.SubmitChatMessage(context.Background(), "make it modern")
	require.ErrorIs(t, err, dispatch.ErrInsufficientCredits)
}

func TestSubmitChatMessage_LocalCreditGuardSkipsNetwork(t *testing.T) {
	st, d := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected when the local guard trips")
	})
	st.SetCredits(0)
	before := len(st.Messages())

	_, err := d.SubmitChatMessage(context.Background(), "make it modern")
	require.ErrorIs(t, err, dispatch.ErrInsufficientCredits)
	require.Len(t, st.Messages(), before)
}

func TestSubmitChatMessage_RejectedWhileJobPending(t *testing.T) {
	st, d := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected while a job is pending")
	})
	_, err := st.BeginPendingJob()
	require.NoError(t, err)

	_, err = d.SubmitChatMessage(context.Background(), "one more thing")
	require.ErrorIs(t, err, store.ErrJobAlreadyPending)
}

func TestSubmitChatMessage_BlankMessage(t *testing.T) {
	_, d := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected for a blank message")
	})

	_, err := d.SubmitChatMessage(context.Background(), "   ")
	require.ErrorIs(t, err, dispatch.ErrBlankMessage)
}

func TestGetProject_NotFound(t *testing.T) {
	_, d := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, http.StatusNotFound, api.ErrorResponse{Detail: "Project not found"})
	})

	_, err := d.GetProject(context.Background(), "missing")
	require.ErrorIs(t, err, dispatch.ErrProjectNotFound)
}

func TestNetworkFailure(t *testing.T) {
	st := store.NewStore(quietLogger())
	st.SetCurrentProject(store.Project{ID: "p1"}, "c1", nil)
	st.SetCredits(1)

	// Nothing listens here.
	d := dispatch.NewDispatcher("http://127.0.0.1:1", auth.Static("test-token"), st, quietLogger(), nil, nil)

	_, err := d.SubmitChatMessage(context.Background(), "hello")
	require.ErrorIs(t, err, dispatch.ErrNetwork)
	require.Empty(t, st.Messages())
}

func TestUploadImage(t *testing.T) {
	_, d := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/upload-image", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		require.Equal(t, "room.png", header.Filename)

		data, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Equal(t, "fake image bytes", string(data))

		writeJSON(t, w, http.StatusOK, api.UploadResponse{ImageURL: "https://cdn.example.com/room.png"})
	})

	url, err := d.UploadImage(context.Background(), "room.png", strings.NewReader("fake image bytes"))
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/room.png", url)
}

func TestAnalyzeImage(t *testing.T) {
	_, d := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/analyze-image", r.URL.Path)
		var req api.AnalyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "p1", req.ProjectID)

		writeJSON(t, w, http.StatusOK, api.AnalyzeResponse{
			Analysis: "A bright living room with dated furniture.",
			Options: []api.DesignOption{
				{Name: "Modern", Description: "clean lines", KeyChanges: []string{"new sofa", "neutral palette"}},
			},
		})
	})

	analysis, err := d.AnalyzeImage(context.Background(), "p1")
	require.NoError(t, err)
	require.Len(t, analysis.Options, 1)
	require.Equal(t, "Modern", analysis.Options[0].Name)
}

func TestMissingCredential(t *testing.T) {
	st := store.NewStore(quietLogger())
	st.SetCurrentProject(store.Project{ID: "p1"}, "c1", nil)
	st.SetCredits(1)
	d := dispatch.NewDispatcher("http://127.0.0.1:1", auth.Static(""), st, quietLogger(), nil, nil)

	_, err := d.SubmitChatMessage(context.Background(), "hello")
	require.ErrorIs(t, err, dispatch.ErrAuthRequired)
	require.Empty(t, st.Messages(), "optimistic message rolled back when no credential")
}
