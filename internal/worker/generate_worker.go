package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/wandertune/api/internal/client"
	"github.com/wandertune/api/internal/model"
	"github.com/wandertune/api/internal/service"
	"github.com/wandertune/api/internal/store"
	ws "github.com/wandertune/api/internal/websocket"
)

// defaultSongTitle is used on submission when no better title exists.
const defaultSongTitle = "AI Generated Song"

// GenerateWorker drives one task through the analysis → description →
// submission sequence. It owns every transition out of pending, analyzing
// and generating.
type GenerateWorker struct {
	store       store.TaskStore
	analyzer    service.Analyzer
	synth       client.MusicSynthesizer
	enqueuer    service.TaskEnqueuer
	hub         *ws.Hub
	callbackURL string
}

// NewGenerateWorker creates a new generation worker.
func NewGenerateWorker(st store.TaskStore, analyzer service.Analyzer, synth client.MusicSynthesizer, enqueuer service.TaskEnqueuer, hub *ws.Hub, callbackURL string) *GenerateWorker {
	return &GenerateWorker{
		store:       st,
		analyzer:    analyzer,
		synth:       synth,
		enqueuer:    enqueuer,
		hub:         hub,
		callbackURL: callbackURL,
	}
}

// ProcessTask handles one task:generate delivery. Any fault, including a
// panic in the pipeline, is converted into a failed task so no task is
// left stuck in a non-terminal state.
func (w *GenerateWorker) ProcessTask(ctx context.Context, t *asynq.Task) (err error) {
	var payload service.GeneratePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal generate payload: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			log.Printf("Generate worker panic for task %s: %v", payload.TaskID, r)
			w.failTask(ctx, payload.TaskID, fmt.Sprintf("internal error: %v", r))
			err = fmt.Errorf("panic in generate worker: %v", r)
		}
	}()

	log.Printf("Starting generation for task: %s", payload.TaskID)
	return w.run(ctx, payload.TaskID)
}

func (w *GenerateWorker) run(ctx context.Context, taskID string) error {
	task, err := w.store.Get(ctx, taskID)
	if err != nil {
		if err == store.ErrTaskNotFound {
			log.Printf("Task %s no longer exists, skipping", taskID)
			return nil
		}
		return err
	}
	if task.Status.IsTerminal() {
		return nil
	}

	// Step 1: validate image files still exist
	w.setProgress(ctx, taskID, model.TaskStatusAnalyzing, 10, "Validating images...")

	var validPaths []string
	for _, path := range task.ImagePathList() {
		if _, statErr := os.Stat(path); statErr == nil {
			validPaths = append(validPaths, path)
		} else {
			log.Printf("Image file not found for task %s: %s", taskID, path)
		}
	}
	if len(validPaths) == 0 {
		w.failTask(ctx, taskID, "no valid image files")
		return nil
	}

	// Step 2: vision analysis
	w.setProgress(ctx, taskID, model.TaskStatusAnalyzing, 30, "Analyzing images and location...")

	analysis, err := w.analyzer.Analyze(ctx, validPaths, task.Location)
	if err != nil {
		w.failTask(ctx, taskID, fmt.Sprintf("Analysis failed: %v", err))
		return nil
	}

	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		w.failTask(ctx, taskID, fmt.Sprintf("Analysis failed: %v", err))
		return nil
	}
	if err := w.store.Update(ctx, taskID, map[string]interface{}{
		"analysis_result": analysisJSON,
		"progress":        50,
	}); err != nil {
		return err
	}
	w.broadcast(taskID, model.TaskStatusAnalyzing, 50, "Analysis complete")

	// Step 3: lyrics and style description
	lyrics, err := w.analyzer.WriteLyrics(ctx, analysis)
	if err != nil {
		w.failTask(ctx, taskID, fmt.Sprintf("Lyrics generation failed: %v", err))
		return nil
	}
	style, err := w.analyzer.DescribeStyle(ctx, analysis)
	if err != nil {
		w.failTask(ctx, taskID, fmt.Sprintf("Style description failed: %v", err))
		return nil
	}

	if err := w.store.Update(ctx, taskID, map[string]interface{}{
		"lyrics":            lyrics,
		"music_description": style,
		"status":            model.TaskStatusGenerating,
		"progress":          70,
	}); err != nil {
		return err
	}
	w.broadcast(taskID, model.TaskStatusGenerating, 70, "Submitting to music synthesis...")

	// Step 4: submit to the synthesis provider
	result, err := w.synth.Submit(ctx, &client.SubmitRequest{
		Lyrics:      lyrics,
		Style:       style,
		Title:       defaultSongTitle,
		CallbackURL: w.callbackURL,
	})
	if err != nil {
		w.failTask(ctx, taskID, fmt.Sprintf("Music generation failed: %v", err))
		return nil
	}

	if result.Mock {
		return w.completeMock(ctx, taskID)
	}

	fields := map[string]interface{}{
		"external_job_id": result.JobID,
		"progress":        70,
	}
	if len(result.Raw) > 0 {
		fields["external_job_snapshot"] = []byte(result.Raw)
	}
	if err := w.store.Update(ctx, taskID, fields); err != nil {
		return err
	}

	// Hand off to the reconciliation poller
	pollPayload, err := json.Marshal(service.PollPayload{
		TaskID:        taskID,
		ExternalJobID: result.JobID,
		Attempt:       1,
	})
	if err != nil {
		w.failTask(ctx, taskID, fmt.Sprintf("Music generation failed: %v", err))
		return nil
	}
	_, err = w.enqueuer.Enqueue(asynq.NewTask(service.TaskTypePoll, pollPayload),
		asynq.Queue(service.QueuePoll),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		w.failTask(ctx, taskID, fmt.Sprintf("Failed to schedule status polling: %v", err))
		return nil
	}

	log.Printf("Task %s submitted, polling external job %s", taskID, result.JobID)
	return nil
}

// completeMock finishes the task directly with the placeholder result;
// there is no external job to poll.
func (w *GenerateWorker) completeMock(ctx context.Context, taskID string) error {
	urls, _ := json.Marshal([]string{model.MockResultURL})
	now := time.Now().UTC()
	if err := w.store.Update(ctx, taskID, map[string]interface{}{
		"status":             model.TaskStatusCompleted,
		"progress":           100,
		"result_urls":        urls,
		"primary_result_url": model.MockResultURL,
		"title":              model.MockResultTitle,
		"completed_at":       now,
	}); err != nil {
		return err
	}

	title := model.MockResultTitle
	if w.hub != nil {
		w.hub.BroadcastComplete(taskID, model.MockResultURL, &title)
	}
	log.Printf("Task %s completed (mock)", taskID)
	return nil
}

func (w *GenerateWorker) setProgress(ctx context.Context, taskID string, status model.TaskStatus, progress int, step string) {
	if err := w.store.Update(ctx, taskID, map[string]interface{}{
		"status":   status,
		"progress": progress,
	}); err != nil {
		log.Printf("Failed to update progress for task %s: %v", taskID, err)
	}
	w.broadcast(taskID, status, progress, step)
}

func (w *GenerateWorker) broadcast(taskID string, status model.TaskStatus, progress int, step string) {
	if w.hub != nil {
		w.hub.BroadcastProgress(taskID, status, progress, step)
	}
}

func (w *GenerateWorker) failTask(ctx context.Context, taskID, errMsg string) {
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
