package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wandertune/api/internal/client"
	"github.com/wandertune/api/internal/model"
	"github.com/wandertune/api/internal/service"
	"github.com/wandertune/api/internal/store"
	ws "github.com/wandertune/api/internal/websocket"
)

const (
	// maxPollAttempts bounds the reconciliation loop; with the default
	// interval the worst case is about ten minutes.
	maxPollAttempts     = 30
	defaultPollInterval = 20 * time.Second
)

// progressByState maps a non-terminal provider state to task progress.
var progressByState = map[model.ProviderState]int{
	model.ProviderStatePending:      70,
	model.ProviderStateTextReady:    80,
	model.ProviderStatePreviewReady: 90,
}

// PollWorker advances a submitted external job to a terminal state. Each
// task:poll delivery performs exactly one status query and, when the job is
// still in flight, schedules the next attempt through the queue instead of
// sleeping in a dedicated goroutine.
type PollWorker struct {
	store    store.TaskStore
	synth    client.MusicSynthesizer
	enqueuer service.TaskEnqueuer
	hub      *ws.Hub

	// Interval between attempts; overridable in tests.
	Interval time.Duration
}

// NewPollWorker creates a new reconciliation poller.
func NewPollWorker(st store.TaskStore, synth client.MusicSynthesizer, enqueuer service.TaskEnqueuer, hub *ws.Hub) *PollWorker {
	return &PollWorker{
		store:    st,
		synth:    synth,
		enqueuer: enqueuer,
		hub:      hub,
		Interval: defaultPollInterval,
	}
}

// ProcessTask handles one task:poll delivery.
func (w *PollWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload service.PollPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal poll payload: %w", err)
	}

	task, err := w.store.Get(ctx, payload.TaskID)
	if err != nil {
		if err == store.ErrTaskNotFound {
			return nil
		}
		return err
	}
	// Some other path already finished the task; stop polling.
	if task.Status.IsTerminal() {
		return nil
	}

	log.Printf("Poll attempt %d/%d for task %s (external job %s)",
		payload.Attempt, maxPollAttempts, payload.TaskID, payload.ExternalJobID)

	status, err := w.synth.FetchStatus(ctx, payload.ExternalJobID)
	if err != nil {
		if client.IsAuthError(err) {
			// Credential problems cannot resolve within the attempt
			// budget; fail immediately.
			w.failTask(ctx, payload.TaskID, fmt.Sprintf("Authentication error: %v", err))
			return nil
		}
		// Soft failure: the attempt is spent, the loop continues.
		log.Printf("Poll error for task %s: %v", payload.TaskID, err)
		return w.scheduleNext(ctx, payload)
	}

	switch {
	case status.State == model.ProviderStateSuccess:
		return w.complete(ctx, payload.TaskID, status)

	case status.State.IsFailure():
		w.failTask(ctx, payload.TaskID, providerFailureMessage(status))
		return nil

	default:
		w.recordProgress(ctx, task, status)
		return w.scheduleNext(ctx, payload)
	}
}

// complete is the single terminal success path.
func (w *PollWorker) complete(ctx context.Context, taskID string, status *client.JobStatus) error {
	if len(status.ResultURLs) == 0 {
		w.failTask(ctx, taskID, "no valid audio URLs received")
		return nil
	}

	urlsJSON, err := json.Marshal(status.ResultURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal result urls: %w", err)
	}

	now := time.Now().UTC()
	fields := map[string]interface{}{
		"status":             model.TaskStatusCompleted,
		"progress":           100,
		"result_urls":        urlsJSON,
		"primary_result_url": status.ResultURLs[0],
		"completed_at":       now,
	}
	if status.Title != "" {
		fields["title"] = status.Title
	}
	if status.DurationSeconds != nil {
		fields["duration_seconds"] = *status.DurationSeconds
	}
	if len(status.Raw) > 0 {
		fields["external_job_snapshot"] = []byte(status.Raw)
	}

	if err := w.store.Update(ctx, taskID, fields); err != nil {
		return err
	}

	if w.hub != nil {
		var title *string
		if status.Title != "" {
			title = &status.Title
		}
		w.hub.BroadcastComplete(taskID, status.ResultURLs[0], title)
	}
	log.Printf("Task %s completed with %d track(s)", taskID, len(status.ResultURLs))
	return nil
}

// recordProgress persists the latest snapshot and maps the provider state
// to progress. Progress never moves backwards on a live task.
func (w *PollWorker) recordProgress(ctx context.Context, task *model.Task, status *client.JobStatus) {
	fields := map[string]interface{}{}
	if len(status.Raw) > 0 {
		fields["external_job_snapshot"] = []byte(status.Raw)
	}

	progress, ok := progressByState[status.State]
	if ok && progress > task.Progress {
		fields["progress"] = progress
	} else {
		progress = task.Progress
	}

	if len(fields) == 0 {
		return
	}
	if err := w.store.Update(ctx, task.ID, fields); err != nil {
		log.Printf("Failed to record poll progress for task %s: %v", task.ID, err)
		return
	}
	if w.hub != nil {
		w.hub.BroadcastProgress(task.ID, model.TaskStatusGenerating, progress, string(status.State))
	}
}

// scheduleNext queues the following attempt, or fails the task when the
// attempt budget is exhausted.
func (w *PollWorker) scheduleNext(ctx context.Context, payload service.PollPayload) error {
	if payload.Attempt >= maxPollAttempts {
		w.failTask(ctx, payload.TaskID, fmt.Sprintf(
			"Polling timeout: task took too long to complete after %d attempts", maxPollAttempts))
		return nil
	}

	next, err := json.Marshal(service.PollPayload{
		TaskID:        payload.TaskID,
		ExternalJobID: payload.ExternalJobID,
		Attempt:       payload.Attempt + 1,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal poll payload: %w", err)
	}

	_, err = w.enqueuer.Enqueue(asynq.NewTask(service.TaskTypePoll, next),
		asynq.Queue(service.QueuePoll),
		asynq.MaxRetry(0),
		asynq.ProcessIn(w.Interval),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule next poll: %w", err)
	}
	return nil
}

func providerFailureMessage(status *client.JobStatus) string {
	msg := status.ErrorMessage
	if msg == "" {
		msg = fmt.Sprintf("Task failed with status: %s", status.State)
	}
	if status.ErrorCode != 0 {
		msg = fmt.Sprintf("Error %d: %s", status.ErrorCode, msg)
	}
	return msg
}

func (w *PollWorker) failTask(ctx context.Context, taskID, errMsg string) {
	if err := w.store.Update(ctx, taskID, map[string]interface{}{
		"status":        model.TaskStatusFailed,
		"progress":      0,
		"error_message": errMsg,
	}); err != nil {
		log.Printf("Failed to mark task %s as failed: %v", taskID, err)
	}
	if w.hub != nil {
		w.hub.BroadcastError(taskID, errMsg)
	}
	log.Printf("Task %s failed: %s", taskID, errMsg)
}
