package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"DesignSync/internal/api"
	"DesignSync/internal/auth"
	"DesignSync/internal/store"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// ChatOutcomeKind categorizes a successful chat response.
type ChatOutcomeKind int

const (
	// OutcomeReplied is an immediate assistant reply, optionally with an artifact.
	OutcomeReplied ChatOutcomeKind = iota
	// OutcomeOptions is a set of discrete design options for the user to choose from.
	OutcomeOptions
	// OutcomeQueued means the terminal result arrives on the event channel.
	OutcomeQueued
)

// ChatOutcome is the interpreted result of a chat exchange.
type ChatOutcome struct {
	Kind    ChatOutcomeKind
	Message store.Message
	Options []api.DesignOption
}

// Dispatcher translates user intents into backend calls and interprets their
// result category. Failures come back as typed errors so the caller can
// render a precise message.
type Dispatcher struct {
	baseURL    string
	httpClient *http.Client
	tokens     auth.TokenProvider
	store      *store.Store
	logger     *slog.Logger
	tracer     trace.Tracer
	duration   metric.Float64Histogram
	jobsQueued metric.Int64Counter
}

// NewDispatcher creates a dispatcher against the given backend base URL.
func NewDispatcher(baseURL string, tokens auth.TokenProvider, st *store.Store, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if tracer == nil {
		tracer = tracenoop.NewTracerProvider().Tracer("dispatch")
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("dispatch")
	}

	duration, err := meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	)
	if err != nil {
		logger.Warn("failed to create duration histogram", "error", err)
	}
	jobsQueued, err := meter.Int64Counter(
		"designsync.jobs.queued",
		metric.WithDescription("Generation jobs deferred to the event channel"),
	)
	if err != nil {
		logger.Warn("failed to create queued counter", "error", err)
	}

	return &Dispatcher{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 60 * time.Second},
		tokens:     tokens,
		store:      st,
		logger:     logger,
		tracer:     tracer,
		duration:   duration,
		jobsQueued: jobsQueued,
	}
}

// SubmitChatMessage sends one chat turn for the current project. The user
// message is appended optimistically and rolled back if the exchange fails.
func (d *Dispatcher) SubmitChatMessage(ctx context.Context, text string) (ChatOutcome, error) {
	ctx, span := d.tracer.Start(ctx, "chat_request")
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return ChatOutcome{}, ErrBlankMessage
	}

	project, ok := d.store.CurrentProject()
	if !ok {
		return ChatOutcome{}, store.ErrNoProject
	}
	if _, pending := d.store.PendingJob(); pending {
		return ChatOutcome{}, store.ErrJobAlreadyPending
	}
	if credits, known := d.store.Credits(); known && credits <= 0 {
		return ChatOutcome{}, ErrInsufficientCredits
	}

	userMsg, err := d.store.AppendMessage(store.RoleUser, text, "")
	if err != nil {
		return ChatOutcome{}, err
	}

	req := api.ChatRequest{
		ProjectID:      project.ID,
		Message:        text,
		ConversationID: d.store.ConversationID(),
	}

	var resp api.ChatResponse
	if err := d.doJSON(ctx, http.MethodPost, "/chat", req, &resp); err != nil {
		// The exchange did not happen; the optimistic user message goes too.
		d.store.RemoveMessage(userMsg.ID)
		return ChatOutcome{}, err
	}

	if resp.ConversationID != "" {
		d.store.SetConversationID(resp.ConversationID)
	}
	if resp.CreditsRemaining != nil {
		d.store.SetCredits(*resp.CreditsRemaining)
	}

	switch {
	case resp.Type == api.ResponseQueued:
		if _, err := d.store.BeginPendingJob(); err != nil {
			d.store.RemoveMessage(userMsg.ID)
			return ChatOutcome{}, err
		}
		provisional, err := d.store.AppendMessage(store.RoleAssistant, resp.Message.Content, "")
		if err != nil {
			return ChatOutcome{}, err
		}
		if d.jobsQueued != nil {
			d.jobsQueued.Add(ctx, 1)
		}
		d.logger.Info("chat deferred to event channel", "project_id", project.ID)
		return ChatOutcome{Kind: OutcomeQueued, Message: provisional}, nil

	case len(resp.Options) > 0:
		var msg store.Message
		if resp.Message.Content != "" {
			msg, err = d.store.AppendMessage(store.RoleAssistant, resp.Message.Content, "")
			if err != nil {
				return ChatOutcome{}, err
			}
		}
		return ChatOutcome{Kind: OutcomeOptions, Message: msg, Options: resp.Options}, nil

	default:
		msg, err := d.store.AppendMessage(store.RoleAssistant, resp.Message.Content, resp.ImageURL)
		if err != nil {
			return ChatOutcome{}, err
		}
		if resp.ImageURL != "" {
			d.store.RecordArtifact(project.ID, resp.ImageURL)
		}
		return ChatOutcome{Kind: OutcomeReplied, Message: msg}, nil
	}
}

// UploadImage uploads a local image and returns its hosted URL.
func (d *Dispatcher) UploadImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	ctx, span := d.tracer.Start(ctx, "upload_image")
	defer span.End()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to finish upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/upload-image", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if err := d.authorize(req); err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if d.duration != nil {
		d.duration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}

	if resp.StatusCode != http.StatusOK {
		return "", statusError(resp.StatusCode, body)
	}

	var uploaded api.UploadResponse
	if err := json.Unmarshal(body, &uploaded); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return uploaded.ImageURL, nil
}

// CreateProject creates a project from an uploaded image URL.
func (d *Dispatcher) CreateProject(ctx context.Context, req api.CreateProjectRequest) (api.Project, error) {
	ctx, span := d.tracer.Start(ctx, "create_project")
	defer span.End()

	var project api.Project
	if err := d.doJSON(ctx, http.MethodPost, "/projects", req, &project); err != nil {
		return api.Project{}, err
	}
	return project, nil
}

// ListProjects returns the caller's projects.
func (d *Dispatcher) ListProjects(ctx context.Context) ([]api.Project, error) {
	ctx, span := d.tracer.Start(ctx, "list_projects")
	defer span.End()

	var projects []api.Project
	if err := d.doJSON(ctx, http.MethodGet, "/projects", nil, &projects); err != nil {
		return nil, err
	}
	return projects, nil
}

// GetProject fetches one project by id.
func (d *Dispatcher) GetProject(ctx context.Context, id string) (api.Project, error) {
	ctx, span := d.tracer.Start(ctx, "get_project")
	defer span.End()

	var project api.Project
	if err := d.doJSON(ctx, http.MethodGet, "/projects/"+id, nil, &project); err != nil {
		return api.Project{}, err
	}
	return project, nil
}

// DeleteProject removes a project on the backend.
func (d *Dispatcher) DeleteProject(ctx context.Context, id string) error {
	ctx, span := d.tracer.Start(ctx, "delete_project")
	defer span.End()

	return d.doJSON(ctx, http.MethodDelete, "/projects/"+id, nil, nil)
}

// ListConversations returns a project's conversations, newest-updated first.
func (d *Dispatcher) ListConversations(ctx context.Context, projectID string) ([]api.Conversation, error) {
	ctx, span := d.tracer.Start(ctx, "list_conversations")
	defer span.End()

	var conversations []api.Conversation
	if err := d.doJSON(ctx, http.MethodGet, "/conversations/"+projectID, nil, &conversations); err != nil {
		return nil, err
	}
	return conversations, nil
}

// AnalyzeImage asks the backend for redesign options for a project's image.
func (d *Dispatcher) AnalyzeImage(ctx context.Context, projectID string) (api.AnalyzeResponse, error) {
	ctx, span := d.tracer.Start(ctx, "analyze_image")
	defer span.End()

	var analysis api.AnalyzeResponse
	req := api.AnalyzeRequest{ProjectID: projectID}
	if err := d.doJSON(ctx, http.MethodPost, "/analyze-image", req, &analysis); err != nil {
		return api.AnalyzeResponse{}, err
	}
	return analysis, nil
}

func (d *Dispatcher) authorize(req *http.Request) error {
	token, err := d.tokens()
	if err != nil || token == "" {
		return fmt.Errorf("%w: no credential", ErrAuthRequired)
	}
	if auth.Expired(token, time.Now()) {
		return fmt.Errorf("%w: token expired", ErrAuthRequired)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (d *Dispatcher) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("content-type", "application/json")
	}
	if err := d.authorize(req); err != nil {
		return err
	}

	start := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	if d.duration != nil {
		d.duration.Record(ctx, float64(time.Since(start).Milliseconds()))
	}

	if resp.StatusCode != http.StatusOK {
		return statusError(resp.StatusCode, data)
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

// statusError maps a non-200 response to the error taxonomy.
func statusError(status int, body []byte) error {
	var er api.ErrorResponse
	_ = json.Unmarshal(body, &er)
	detail := er.Detail
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}

	lower := strings.ToLower(detail)
	switch {
	case status == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", ErrAuthRequired, detail)
	case status == http.StatusPaymentRequired:
		return fmt.Errorf("%w: %s", ErrInsufficientCredits, detail)
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrProjectNotFound, detail)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d: %s", ErrServer, status, detail)
	case strings.Contains(lower, "credit"):
		return fmt.Errorf("%w: %s", ErrInsufficientCredits, detail)
	case strings.Contains(lower, "policy") || strings.Contains(lower, "blocked") ||
		strings.Contains(lower, "unsafe"):
		return fmt.Errorf("%w: %s", ErrContentPolicy, detail)
	default:
		return fmt.Errorf("%w: status %d: %s", ErrServer, status, detail)
	}
}
