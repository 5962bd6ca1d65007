package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/wandertune/api/internal/model"
	"github.com/wandertune/api/internal/store"
)

// Asynq task types.
const (
	TaskTypeGenerate = "task:generate"
	TaskTypePoll     = "task:poll"
)

// Asynq queues.
const (
	QueueGenerate = "generate"
	QueuePoll     = "poll"
)

// GeneratePayload is the asynq payload for the orchestrator.
type GeneratePayload struct {
	TaskID string `json:"taskId"`
}

// PollPayload is the asynq payload for one reconciliation attempt.
type PollPayload struct {
	TaskID        string `json:"taskId"`
	ExternalJobID string `json:"externalJobId"`
	Attempt       int    `json:"attempt"`
}

// TaskEnqueuer is the slice of asynq.Client the service depends on.
type TaskEnqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// TaskService owns task creation, queries and deletion. Background
// processing is handed off to the worker pool through the enqueuer.
type TaskService struct {
	store     store.TaskStore
	enqueuer  TaskEnqueuer
	uploadDir string
}

// NewTaskService creates a new task service.
func NewTaskService(st store.TaskStore, enqueuer TaskEnqueuer, uploadDir string) *TaskService {
	return &TaskService{
		store:     st,
		enqueuer:  enqueuer,
		uploadDir: uploadDir,
	}
}

// Create validates the referenced files, persists a pending task and
// enqueues the generation work. It never blocks on the pipeline itself.
func (s *TaskService) Create(ctx context.Context, req *model.CreateTaskRequest) (*model.Task, error) {
	for _, path := range req.ImagePaths {
		if _, err := os.Stat(path); err != nil {
			return nil, &ValidationError{Message: fmt.Sprintf("image file not found: %s", path)}
		}
	}

	pathsJSON, err := json.Marshal(req.ImagePaths)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image paths: %w", err)
	}

	task := &model.Task{
		ID:         uuid.New().String(),
		Location:   req.Location,
		ImagePaths: pathsJSON,
		Status:     model.TaskStatusPending,
		Progress:   0,
	}
	if req.UserID != "" {
		task.UserID = &req.UserID
	}

	if err := s.store.Create(ctx, task); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(GeneratePayload{TaskID: task.ID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}

	// MaxRetry(0): the state machine owns failure handling; a re-run of a
	// half-finished pipeline would violate the set-once fields.
	_, err = s.enqueuer.Enqueue(asynq.NewTask(TaskTypeGenerate, payload),
		asynq.Queue(QueueGenerate),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}

	return task, nil
}

// Get loads a single task.
func (s *TaskService) Get(ctx context.Context, id string) (*model.Task, error) {
	return s.store.Get(ctx, id)
}

// List returns task summaries, newest first.
func (s *TaskService) List(ctx context.Context, filter store.ListFilter, limit, offset int) (*model.ListTasksResponse, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	tasks, total, err := s.store.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, err
	}

	summaries := make([]model.TaskSummary, 0, len(tasks))
	for i := range tasks {
		summaries = append(summaries, tasks[i].Summary())
	}

	return &model.ListTasksResponse{
		Tasks:  summaries,
		Total:  total,
		Offset: offset,
		Limit:  limit,
	}, nil
}

// Delete removes the task, its callback logs and its image files. No
// orphaned side-storage may remain.
func (s *TaskService) Delete(ctx context.Context, id string) error {
	task, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}

	for _, path := range task.ImagePathList() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			log.Printf("Failed to delete image file %s: %v", path, err)
		}
	}

	return s.store.Delete(ctx, id)
}

// AppendCallback records a provider callback payload for a task (debug
// sink).
func (s *TaskService) AppendCallback(ctx context.Context, taskID, cbType string, payload []byte) error {
	if _, err := s.store.Get(ctx, taskID); err != nil {
		return err
	}
	if cbType == "" {
		cbType = "unknown"
	}
	return s.store.AppendCallback(ctx, &model.CallbackLog{
		TaskID:  taskID,
		Type:    cbType,
		Payload: payload,
	})
}

// CleanupOrphanedFiles deletes uploaded files no task references anymore.
// Batch maintenance only; not part of the task state machine.
func (s *TaskService) CleanupOrphanedFiles(ctx context.Context) (*model.CleanupFilesResponse, error) {
	used, err := s.store.AllImagePaths(ctx)
	if err != nil {
		return nil, err
	}
	usedSet := make(map[string]bool, len(used))
	for _, p := range used {
		usedSet[p] = true
	}

	entries, err := os.ReadDir(s.uploadDir)
	if err != nil {
		if os.IsNotExist(err) {
			return &model.CleanupFilesResponse{UsedFiles: len(usedSet)}, nil
		}
		return nil, fmt.Errorf("failed to read upload dir: %w", err)
	}

	total := 0
	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		total++
		path := filepath.Join(s.uploadDir, entry.Name())
		if usedSet[path] {
			continue
		}
		if err := os.Remove(path); err != nil {
			log.Printf("Failed to delete orphaned file %s: %v", path, err)
			continue
		}
		deleted++
	}

	return &model.CleanupFilesResponse{
		DeletedCount: deleted,
		TotalFiles:   total,
		UsedFiles:    len(usedSet),
	}, nil
}

// ValidationError marks a caller mistake that should surface as a 400, not
// as a failed task.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
