package reconcile

import (
	"context"
	"log/slog"

	"DesignSync/internal/store"

	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
)

// Reconciler applies event-channel signals to the session store. It is pure
// state transition logic: no network calls, safe under duplicate and late
// events, and it never touches a project that is no longer current.
type Reconciler struct {
	store         *store.Store
	logger        *slog.Logger
	jobsCompleted metric.Int64Counter
	jobsFailed    metric.Int64Counter
}

// New creates a reconciler over the given store.
func New(st *store.Store, logger *slog.Logger, meter metric.Meter) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if meter == nil {
		meter = metricnoop.NewMeterProvider().Meter("reconcile")
	}

	completed, err := meter.Int64Counter(
		"designsync.jobs.completed",
		metric.WithDescription("Generation jobs resolved from the event channel"),
	)
	if err != nil {
		logger.Warn("failed to create completed counter", "error", err)
	}
	failed, err := meter.Int64Counter(
		"designsync.jobs.failed",
		metric.WithDescription("Generation jobs failed from the event channel"),
	)
	if err != nil {
		logger.Warn("failed to create failed counter", "error", err)
	}

	return &Reconciler{
		store:         st,
		logger:        logger,
		jobsCompleted: completed,
		jobsFailed:    failed,
	}
}

// ApplyCompletion merges a design_generation_complete signal. With a pending
// job on the matching current project it resolves exactly once. Without one
// (late event, duplicate, or a job queued before a reload) the artifact is
// still recorded as latest known: the backend finished real work and the
// user should not lose it. A different current project is left untouched
// beyond the stale project's own record.
func (r *Reconciler) ApplyCompletion(projectID, imageURL, conversationID string) {
	current, ok := r.store.CurrentProject()
	if !ok || current.ID != projectID {
		r.logger.Info("completion for non-current project recorded only",
			"project_id", projectID)
		r.store.RecordArtifact(projectID, imageURL)
		return
	}

	if job, pending := r.store.PendingJob(); pending && job.ProjectID == projectID {
		r.store.ResolvePendingJob(store.JobResult{
			ImageURL: imageURL,
			Message:  "Your updated design is ready!",
		})
		if r.jobsCompleted != nil {
			r.jobsCompleted.Add(context.Background(), 1)
		}
		r.logger.Info("design generation complete",
			"project_id", projectID, "conversation_id", conversationID)
		return
	}

	// No pending marker; keep the artifact for passive display.
	r.store.RecordArtifact(projectID, imageURL)
	r.logger.Info("completion without pending job applied as artifact update",
		"project_id", projectID)
}

// ApplyFailure merges a design_generation_error signal. Errors for a project
// with no pending job are dropped entirely: a failure for an abandoned or
// already-resolved job is not actionable.
func (r *Reconciler) ApplyFailure(projectID, reason string) {
	current, ok := r.store.CurrentProject()
	if !ok || current.ID != projectID {
		r.logger.Info("error for non-current project dropped", "project_id", projectID)
		return
	}

	job, pending := r.store.PendingJob()
	if !pending || job.ProjectID != projectID {
		r.logger.Info("error without pending job dropped", "project_id", projectID)
		return
	}

	r.store.FailPendingJob(reason)
	if r.jobsFailed != nil {
		r.jobsFailed.Add(context.Background(), 1)
	}
}
