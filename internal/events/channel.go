package events

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"DesignSync/internal/api"
	"DesignSync/internal/auth"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

// ErrStreamExhausted indicates all reconnect attempts failed; a manual
// reconnect (reselecting the project) is required.
var ErrStreamExhausted = errors.New("event stream reconnect attempts exhausted")

// State of the channel for the current project.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "disconnected"
	}
}

const (
	maxReconnectAttempts = 5
	baseReconnectDelay   = time.Second
	maxReconnectDelay    = 30 * time.Second
)

// backoffDelay returns the wait before reconnect attempt n (0-based).
func backoffDelay(attempt int) time.Duration {
	delay := baseReconnectDelay << attempt
	if delay > maxReconnectDelay || delay <= 0 {
		return maxReconnectDelay
	}
	return delay
}

// Dialer opens the raw event stream for a URL. The returned reader yields
// server-sent-event frames.
type Dialer func(ctx context.Context, rawURL string) (io.ReadCloser, error)

// NewHTTPDialer returns a Dialer over the given client. The client must not
// carry a request timeout; the stream stays open across jobs.
func NewHTTPDialer(client *http.Client) Dialer {
	return func(ctx context.Context, rawURL string) (io.ReadCloser, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("Cache-Control", "no-cache")

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to connect: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("event stream rejected: %s", resp.Status)
		}
		return resp.Body, nil
	}
}

// Callbacks receive typed signals parsed off the stream. They are invoked
// from the channel's reader goroutine and must not call back into Channel.
type Callbacks struct {
	OnConnected      func(projectID string)
	OnDesignComplete func(projectID, imageURL, conversationID string)
	OnDesignError    func(projectID, reason string)
	OnExhausted      func(projectID string, err error)
}

// Options configure a Channel.
type Options struct {
	// BaseURL is the backend root; the stream lives at /events/{project_id}.
	BaseURL   string
	Tokens    auth.TokenProvider
	Callbacks Callbacks
	Logger    *slog.Logger
	Meter     metric.Meter
	Dialer    Dialer
	Scheduler Scheduler
}

// Channel owns the per-project event subscription: connect, parse, dispatch,
// reconnect with exponential backoff. Never more than one live connection at
// a time; switching projects tears the old transport down synchronously.
type Channel struct {
	baseURL    string
	tokens     auth.TokenProvider
	callbacks  Callbacks
	logger     *slog.Logger
	dial       Dialer
	sched      Scheduler
	reconnects metric.Int64Counter

	mu        sync.Mutex
	projectID string
	state     State
	attempts  int
	gen       int
	stream    io.ReadCloser
	timer     Timer
}

// NewChannel creates a disconnected channel.
func NewChannel(opts Options) *Channel {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dial := opts.Dialer
	if dial == nil {
		dial = NewHTTPDialer(&http.Client{})
	}
	sched := opts.Scheduler
	if sched == nil {
		sched = NewScheduler()
	}
	meter := opts.Meter
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("events")
	}

	reconnects, err := meter.Int64Counter(
		"designsync.events.reconnects",
		metric.WithDescription("Event stream reconnect attempts"),
	)
	if err != nil {
		logger.Warn("failed to create reconnect counter", "error", err)
	}

	return &Channel{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		tokens:     opts.Tokens,
		callbacks:  opts.Callbacks,
		logger:     logger,
		dial:       dial,
		sched:      sched,
		reconnects: reconnects,
	}
}

// Connect subscribes to a project's event stream, replacing any existing
// subscription. Without a credential it stays disconnected; there is no
// retry that could ever succeed without one.
func (c *Channel) Connect(projectID string) {
	c.Disconnect()

	c.mu.Lock()
	c.projectID = projectID
	c.attempts = 0
	c.mu.Unlock()

	c.connect()
}

// Disconnect tears the subscription down, closing the transport before
// returning. Pending reconnect timers are cancelled and in-flight readers
// invalidated.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
	c.state = StateDisconnected
	c.attempts = 0
	c.projectID = ""
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ProjectID returns the project the channel is bound to, empty when torn down.
func (c *Channel) ProjectID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.projectID
}

func (c *Channel) connect() {
	c.mu.Lock()
	projectID := c.projectID
	if projectID == "" {
		c.mu.Unlock()
		return
	}

	token, err := c.tokens()
	if err != nil || token == "" {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.logger.Warn("no auth token available for event stream", "project_id", projectID)
		return
	}

	c.state = StateConnecting
	c.gen++
	gen := c.gen
	streamURL := fmt.Sprintf("%s/events/%s?token=%s", c.baseURL, projectID, url.QueryEscape(token))
	c.mu.Unlock()

	body, err := c.dial(context.Background(), streamURL)

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if body != nil {
			body.Close()
		}
		return
	}
	if err != nil {
		exhausted := c.scheduleReconnectLocked()
		c.mu.Unlock()
		c.logger.Warn("event stream connect failed", "project_id", projectID, "error", err)
		if exhausted {
			c.notifyExhausted(projectID)
		}
		return
	}

	c.state = StateOpen
	c.attempts = 0
	c.stream = body
	c.mu.Unlock()

	c.logger.Info("event stream open", "project_id", projectID)
	go c.readLoop(gen, projectID, body)
}

func (c *Channel) readLoop(gen int, projectID string, body io.ReadCloser) {
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var ev api.ProjectEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			c.logger.Warn("unparseable event", "error", err)
			continue
		}
		if ev.ProjectID == "" {
			ev.ProjectID = projectID
		}

		c.mu.Lock()
		stale := gen != c.gen
		c.mu.Unlock()
		if stale {
			return
		}

		c.dispatch(ev)
	}

	c.streamClosed(gen, projectID, scanner.Err())
}

func (c *Channel) dispatch(ev api.ProjectEvent) {
	switch ev.Type {
	case api.EventConnected:
		if c.callbacks.OnConnected != nil {
			c.callbacks.OnConnected(ev.ProjectID)
		}
	case api.EventDesignComplete:
		if ev.NewImageURL == "" || ev.ConversationID == "" {
			c.logger.Warn("completion event missing fields", "project_id", ev.ProjectID)
			return
		}
		if c.callbacks.OnDesignComplete != nil {
			c.callbacks.OnDesignComplete(ev.ProjectID, ev.NewImageURL, ev.ConversationID)
		}
	case api.EventDesignError:
		reason := ev.Error
		if reason == "" {
			reason = "unknown error occurred"
		}
		if c.callbacks.OnDesignError != nil {
			c.callbacks.OnDesignError(ev.ProjectID, reason)
		}
	case api.EventKeepalive:
		// nothing to do
	default:
		c.logger.Info("unhandled event type", "type", ev.Type)
	}
}

func (c *Channel) streamClosed(gen int, projectID string, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}
	c.state = StateDisconnected
	exhausted := c.scheduleReconnectLocked()
	c.mu.Unlock()

	c.logger.Warn("event stream closed", "project_id", projectID, "error", err)
	if exhausted {
		c.notifyExhausted(projectID)
	}
}

// scheduleReconnectLocked arms the next reconnect timer, or flips to Failed
// once attempts are spent. Returns true on exhaustion. Caller holds mu.
func (c *Channel) scheduleReconnectLocked() bool {
	if c.attempts >= maxReconnectAttempts {
		c.state = StateFailed
		return true
	}

	delay := backoffDelay(c.attempts)
	c.attempts++
	c.state = StateReconnecting
	if c.reconnects != nil {
		c.reconnects.Add(context.Background(), 1)
	}
	c.logger.Info("scheduling event stream reconnect",
		"project_id", c.projectID, "attempt", c.attempts, "delay", delay)

	gen := c.gen
	c.timer = c.sched.AfterFunc(delay, func() {
		c.mu.Lock()
		stale := gen != c.gen
		c.mu.Unlock()
		if !stale {
			c.connect()
		}
	})
	return false
}

func (c *Channel) notifyExhausted(projectID string) {
	c.logger.Error("event stream reconnect attempts exhausted", "project_id", projectID)
	if c.callbacks.OnExhausted != nil {
		c.callbacks.OnExhausted(projectID, ErrStreamExhausted)
	}
}
