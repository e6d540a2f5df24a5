package designer

import (
	"bufio"
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"DesignSync/internal/api"
	"DesignSync/internal/auth"
	"DesignSync/internal/config"
	"DesignSync/internal/dispatch"
	"DesignSync/internal/events"
	"DesignSync/internal/reconcile"
	"DesignSync/internal/store"
	"DesignSync/internal/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const welcomeMessage = "Great! I can see your space. What would you like to change or improve? " +
	"I can help you with interior design, colors, furniture placement, lighting, and more!"

// Designer wires the session store, request dispatcher, event channel and
// reconciler behind an interactive terminal loop.
type Designer struct {
	config     config.Config
	db         *sql.DB
	logger     *slog.Logger
	tracer     trace.Tracer
	meter      metric.Meter
	cleanup    func()
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	channel    *events.Channel
	reconciler *reconcile.Reconciler

	// Analyze results are deterministic per (project, image); generation
	// responses are not and are never cached.
	analyses sync.Map

	mu      sync.Mutex
	options []api.DesignOption
}

// New creates a Designer from configuration.
func New(cfg config.Config) (*Designer, error) {
	logger, err := telemetry.InitLogger(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx := context.Background()
	tracer, meter, cleanup, err := telemetry.InitTelemetry(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	db, err := telemetry.InitDB(cfg.CacheDB)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if cfg.Debug {
		logger.Info("Debug mode enabled")
	}

	tokens := auth.Static(cfg.AccessToken)
	st := store.NewStore(logger)

	d := &Designer{
		config:     cfg,
		db:         db,
		logger:     logger,
		tracer:     tracer,
		meter:      meter,
		cleanup:    cleanup,
		store:      st,
		dispatcher: dispatch.NewDispatcher(cfg.APIBaseURL, tokens, st, logger, tracer, meter),
		reconciler: reconcile.New(st, logger, meter),
	}

	d.channel = events.NewChannel(events.Options{
		BaseURL: cfg.APIBaseURL,
		Tokens:  tokens,
		Logger:  logger,
		Meter:   meter,
		Callbacks: events.Callbacks{
			OnConnected:      d.onConnected,
			OnDesignComplete: d.onDesignComplete,
			OnDesignError:    d.onDesignError,
			OnExhausted:      d.onExhausted,
		},
	})

	if cfg.ProjectID != "" {
		if err := d.selectProject(ctx, cfg.ProjectID); err != nil {
			logger.Warn("failed to resume project", "project_id", cfg.ProjectID, "error", err)
			fmt.Printf("Could not resume project %s: %v\n", cfg.ProjectID, err)
		}
	}

	return d, nil
}

func (d *Designer) onConnected(projectID string) {
	d.logger.Info("event stream confirmed", "project_id", projectID)
}

func (d *Designer) onDesignComplete(projectID, imageURL, conversationID string) {
	d.reconciler.ApplyCompletion(projectID, imageURL, conversationID)
	if current, ok := d.store.CurrentProject(); ok && current.ID == projectID {
		if err := d.store.SaveSnapshot(d.db); err != nil {
			d.logger.Warn("failed to save snapshot", "error", err)
		}
		fmt.Printf("\n[design ready] %s\nYou: ", imageURL)
	}
}

func (d *Designer) onDesignError(projectID, reason string) {
	d.reconciler.ApplyFailure(projectID, reason)
	if current, ok := d.store.CurrentProject(); ok && current.ID == projectID {
		fmt.Printf("\n[design failed] %s\nYou: ", reason)
	}
}

func (d *Designer) onExhausted(projectID string, err error) {
	fmt.Printf("\n[connection lost] live updates are off; /select %s to reconnect\nYou: ", projectID)
}

// uploadImage uploads a local file, creates a project around it and opens
// the conversation with the assistant welcome turn.
func (d *Designer) uploadImage(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	imageURL, err := d.dispatcher.UploadImage(ctx, filepath.Base(path), f)
	if err != nil {
		return err
	}

	project, err := d.dispatcher.CreateProject(ctx, api.CreateProjectRequest{
		Name:             fmt.Sprintf("New Project - %s", time.Now().Format("2006-01-02")),
		OriginalImageURL: imageURL,
		Description:      "Uploaded via DesignSync",
	})
	if err != nil {
		return err
	}

	d.store.SetCurrentProject(toStoreProject(project), "", nil)
	if _, err := d.store.AppendMessage(store.RoleAssistant, welcomeMessage, ""); err != nil {
		d.logger.Warn("failed to append welcome message", "error", err)
	}
	d.channel.Connect(project.ID)

	fmt.Printf("Project created: %s (%s)\n", project.Name, project.ID)
	fmt.Printf("Bot: %s\n\n", welcomeMessage)
	return nil
}

// selectProject loads a project by id and resumes its most recent
// conversation, falling back to the local snapshot when the conversation
// listing is unavailable.
func (d *Designer) selectProject(ctx context.Context, id string) error {
	project, err := d.dispatcher.GetProject(ctx, id)
	if err != nil {
		return err
	}

	conversationID := ""
	var history []store.Message

	conversations, err := d.dispatcher.ListConversations(ctx, id)
	if err != nil {
		d.logger.Warn("failed to list conversations, using local snapshot", "error", err)
		conversationID, history, err = store.LoadSnapshot(d.db, id)
		if err != nil {
			d.logger.Warn("failed to load snapshot", "error", err)
		}
	} else if len(conversations) > 0 {
		latest := conversations[0]
		conversationID = latest.ID
		history = toStoreMessages(latest.Messages)
	}

	d.store.SetCurrentProject(toStoreProject(project), conversationID, history)
	d.channel.Connect(project.ID)

	fmt.Printf("Selected project: %s (%s)\n", project.Name, project.ID)
	if len(history) > 0 {
		fmt.Printf("Resumed conversation with %d messages\n", len(history))
	}
	return nil
}

// sendMessage submits one chat turn and renders its outcome.
func (d *Designer) sendMessage(ctx context.Context, text string) error {
	outcome, err := d.dispatcher.SubmitChatMessage(ctx, text)
	if err != nil {
		return err
	}

	switch outcome.Kind {
	case dispatch.OutcomeQueued:
		fmt.Printf("Bot: %s\n(generating, 30-60s; you'll be notified here)\n\n", outcome.Message.Content)
	case dispatch.OutcomeOptions:
		d.mu.Lock()
		d.options = outcome.Options
		d.mu.Unlock()
		if outcome.Message.Content != "" {
			fmt.Printf("Bot: %s\n", outcome.Message.Content)
		}
		printOptions(outcome.Options)
	default:
		fmt.Printf("Bot: %s\n", outcome.Message.Content)
		if outcome.Message.ImageURL != "" {
			fmt.Printf("     %s\n", outcome.Message.ImageURL)
		}
		fmt.Println()
	}

	if err := d.store.SaveSnapshot(d.db); err != nil {
		d.logger.Warn("failed to save snapshot", "error", err)
	}
	return nil
}

// analyze fetches (or replays) redesign options for the current image.
func (d *Designer) analyze(ctx context.Context) error {
	project, ok := d.store.CurrentProject()
	if !ok {
		return store.ErrNoProject
	}

	key := analysisKey(project.ID, project.CurrentImageURL)
	if cached, ok := d.analyses.Load(key); ok {
		d.logger.Info("analysis cache hit", "key", key[:16])
		d.showAnalysis(cached.(api.AnalyzeResponse))
		return nil
	}

	analysis, err := d.dispatcher.AnalyzeImage(ctx, project.ID)
	if err != nil {
		return err
	}
	d.analyses.Store(key, analysis)
	d.showAnalysis(analysis)
	return nil
}

func (d *Designer) showAnalysis(analysis api.AnalyzeResponse) {
	d.mu.Lock()
	d.options = analysis.Options
	d.mu.Unlock()

	fmt.Printf("\n%s\n", analysis.Analysis)
	printOptions(analysis.Options)
}

// choose submits a previously offered design option as a chat message.
func (d *Designer) choose(ctx context.Context, n int) error {
	d.mu.Lock()
	options := d.options
	d.mu.Unlock()

	if n < 1 || n > len(options) {
		return fmt.Errorf("no option %d; run /analyze first", n)
	}
	opt := options[n-1]

	text := fmt.Sprintf("Apply the %q option: %s", opt.Name, strings.Join(opt.KeyChanges, ", "))
	return d.sendMessage(ctx, text)
}

// analysisKey derives a cache key for an analyze result.
func analysisKey(projectID, imageURL string) string {
	h := sha256.New()
	h.Write([]byte(projectID))
	h.Write([]byte(imageURL))
	return fmt.Sprintf("%x", h.Sum(nil))
}

func printOptions(options []api.DesignOption) {
	for i, opt := range options {
		fmt.Printf("%d. %s - %s\n", i+1, opt.Name, opt.Description)
		for _, change := range opt.KeyChanges {
			fmt.Printf("   - %s\n", change)
		}
	}
	fmt.Println("Pick one with /choose <n>")
	fmt.Println()
}

// handleCommand handles slash commands. Returns true to quit.
func (d *Designer) handleCommand(ctx context.Context, cmd string) (bool, error) {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false, nil
	}

	switch parts[0] {
	case "/quit", "/exit":
		return true, nil

	case "/upload":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /upload <image-path>")
		}
		return false, d.uploadImage(ctx, parts[1])

	case "/projects":
		projects, err := d.dispatcher.ListProjects(ctx)
		if err != nil {
			return false, err
		}
		if len(projects) == 0 {
			fmt.Println("No projects yet. /upload an image to start.")
			return false, nil
		}
		fmt.Println("\nYour projects:")
		current, hasCurrent := d.store.CurrentProject()
		for i, p := range projects {
			marker := ""
			if hasCurrent && p.ID == current.ID {
				marker = " (current)"
			}
			fmt.Printf("%d. %s [%s]%s\n", i+1, p.Name, p.ID, marker)
		}
		fmt.Println()
		return false, nil

	case "/select":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /select <project-id>")
		}
		return false, d.selectProject(ctx, parts[1])

	case "/close":
		if _, ok := d.store.CurrentProject(); !ok {
			fmt.Println("No project selected.")
			return false, nil
		}
		d.saveQuietly()
		d.channel.Disconnect()
		d.store.ClearCurrentProject()
		fmt.Println("Project closed. Any running generation continues server-side.")
		return false, nil

	case "/delete":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /delete <project-id>")
		}
		if err := d.dispatcher.DeleteProject(ctx, parts[1]); err != nil {
			return false, err
		}
		if current, ok := d.store.CurrentProject(); ok && current.ID == parts[1] {
			d.channel.Disconnect()
			d.store.ClearCurrentProject()
		}
		fmt.Println("Project deleted.")
		return false, nil

	case "/analyze":
		return false, d.analyze(ctx)

	case "/choose":
		if len(parts) < 2 {
			return false, fmt.Errorf("usage: /choose <option-number>")
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			return false, fmt.Errorf("usage: /choose <option-number>")
		}
		return false, d.choose(ctx, n)

	case "/reset":
		if !d.store.ResetToOriginal() {
			fmt.Println("No project selected.")
			return false, nil
		}
		project, _ := d.store.CurrentProject()
		fmt.Printf("Reset to original image: %s\n", project.CurrentImageURL)
		return false, nil

	case "/status":
		d.printStatus()
		return false, nil

	case "/credits":
		if credits, known := d.store.Credits(); known {
			fmt.Printf("Credits: %d\n", credits)
		} else {
			fmt.Println("Credits: unknown (send a message to refresh)")
		}
		return false, nil

	case "/help":
		fmt.Println("Available commands:")
		fmt.Println("  /upload <path>      - Upload a room photo and start a project")
		fmt.Println("  /projects           - List your projects")
		fmt.Println("  /select <id>        - Switch to a project (resumes its chat)")
		fmt.Println("  /close              - Deselect the current project")
		fmt.Println("  /delete <id>        - Delete a project")
		fmt.Println("  /analyze            - Get redesign options for the current image")
		fmt.Println("  /choose <n>         - Apply one of the offered options")
		fmt.Println("  /reset              - Show the original image again")
		fmt.Println("  /status             - Project, conversation and stream status")
		fmt.Println("  /credits            - Show last known credit balance")
		fmt.Println("  /quit, /exit        - Exit")
		return false, nil

	default:
		return false, nil
	}
}

func (d *Designer) printStatus() {
	project, ok := d.store.CurrentProject()
	if !ok {
		fmt.Println("No project selected.")
		return
	}
	fmt.Printf("Project:       %s (%s)\n", project.Name, project.ID)
	fmt.Printf("Current image: %s\n", project.CurrentImageURL)
	if id := d.store.ConversationID(); id != "" {
		fmt.Printf("Conversation:  %s (%d messages)\n", id, len(d.store.Messages()))
	} else {
		fmt.Printf("Conversation:  not started (%d messages)\n", len(d.store.Messages()))
	}
	if job, pending := d.store.PendingJob(); pending {
		fmt.Printf("Generation:    in progress since %s\n", job.SubmittedAt.Format(time.Kitchen))
	}
	fmt.Printf("Event stream:  %s\n", d.channel.State())
}

func (d *Designer) saveQuietly() {
	if _, ok := d.store.CurrentProject(); !ok {
		return
	}
	if err := d.store.SaveSnapshot(d.db); err != nil {
		d.logger.Warn("failed to save snapshot", "error", err)
	}
}

// friendlyError translates the error taxonomy into a user-facing line.
func friendlyError(err error) string {
	switch {
	case errors.Is(err, dispatch.ErrAuthRequired):
		return "You need to log in again (token missing or expired)."
	case errors.Is(err, dispatch.ErrInsufficientCredits):
		return "Insufficient credits. Please upgrade your plan."
	case errors.Is(err, dispatch.ErrContentPolicy):
		return "That request was blocked by the content policy."
	case errors.Is(err, dispatch.ErrProjectNotFound):
		return "Project not found. It may have been deleted."
	case errors.Is(err, dispatch.ErrNetwork):
		return "Network problem - your message was not sent. Check your connection and retry."
	case errors.Is(err, dispatch.ErrServer):
		return "The server had a problem. Please try again."
	case errors.Is(err, store.ErrJobAlreadyPending):
		return "A design is still generating; wait for it to finish."
	case errors.Is(err, store.ErrNoProject):
		return "Select or /upload a project first."
	case errors.Is(err, store.ErrNoActiveConversation):
		return "No conversation yet; /upload or /select a project first."
	case errors.Is(err, dispatch.ErrBlankMessage):
		return "Type a message first."
	default:
		return err.Error()
	}
}

// Run starts the interactive loop.
func (d *Designer) Run() error {
	defer d.db.Close()
	defer d.cleanup()
	defer d.channel.Disconnect()

	fmt.Println("=== DesignSync ===")
	if project, ok := d.store.CurrentProject(); ok {
		fmt.Printf("Project: %s\n", project.Name)
	} else {
		fmt.Println("No project selected - /upload an image or /select a project")
	}
	fmt.Println("Type /help for commands, /quit to exit")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	ctx := context.Background()

	for {
		fmt.Print("You: ")
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			shouldQuit, err := d.handleCommand(ctx, input)
			if err != nil {
				fmt.Printf("Error: %s\n", friendlyError(err))
				d.logger.Error("command error", "error", err)
			}
			if shouldQuit {
				break
			}
			continue
		}

		if err := d.sendMessage(ctx, input); err != nil {
			fmt.Printf("Error: %s\n", friendlyError(err))
			d.logger.Error("failed to send message", "error", err)
			continue
		}
	}

	d.saveQuietly()
	fmt.Println("Goodbye!")
	return nil
}

func toStoreProject(p api.Project) store.Project {
	return store.Project{
		ID:               p.ID,
		Name:             p.Name,
		OriginalImageURL: p.OriginalImageURL,
		CurrentImageURL:  p.CurrentImageURL,
		Description:      p.Description,
	}
}

func toStoreMessages(msgs []api.ChatMessage) []store.Message {
	out := make([]store.Message, len(msgs))
	for i, m := range msgs {
		out[i] = store.Message{
			ID:        uuid.NewString(),
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp,
		}
	}
	return out
}
