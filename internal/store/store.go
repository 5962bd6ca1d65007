package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/wandertune/api/internal/model"
)

// ErrTaskNotFound is returned when a task id has no row.
var ErrTaskNotFound = errors.New("task not found")

// ListFilter narrows List results. Zero values mean "any".
type ListFilter struct {
	UserID string
	Status string
}

// TaskStore is the durable record of task identity, status, progress and
// results. Mutations are applied as single atomic updates; readers may race
// writers and always observe a consistent row.
type TaskStore interface {
	Create(ctx context.Context, task *model.Task) error
	Get(ctx context.Context, id string) (*model.Task, error)
	Update(ctx context.Context, id string, fields map[string]interface{}) error
	List(ctx context.Context, filter ListFilter, limit, offset int) ([]model.Task, int64, error)
	Delete(ctx context.Context, id string) error

	AppendCallback(ctx context.Context, entry *model.CallbackLog) error
	AllImagePaths(ctx context.Context) ([]string, error)
	FailStuck(ctx context.Context, olderThan time.Duration) (int64, error)

	Ping(ctx context.Context) error
}

// Store implements TaskStore on a GORM database handle.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the sqlite database at path and migrates the
// schema. Use a "file::memory:?cache=shared" style path for tests.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite allows one writer; a single connection avoids SQLITE_BUSY
	// under concurrent worker updates.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access database pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&model.Task{}, &model.CallbackLog{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing GORM handle (used by tests).
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new task row.
func (s *Store) Create(ctx context.Context, task *model.Task) error {
	if err := s.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// Get loads a task by id.
func (s *Store) Get(ctx context.Context, id string) (*model.Task, error) {
	var task model.Task
	err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to load task: %w", err)
	}
	return &task, nil
}

// Update applies the given column values as a single UPDATE statement.
// updated_at is always refreshed.
func (s *Store) Update(ctx context.Context, id string, fields map[string]interface{}) error {
	fields["updated_at"] = time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&model.Task{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// List returns tasks newest-first with the total count for the filter.
func (s *Store) List(ctx context.Context, filter ListFilter, limit, offset int) ([]model.Task, int64, error) {
	q := s.db.WithContext(ctx).Model(&model.Task{})
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	var tasks []model.Task
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&tasks).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, total, nil
}

// Delete removes a task and its callback log entries.
func (s *Store) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("task_id = ?", id).Delete(&model.CallbackLog{}).Error; err != nil {
			return fmt.Errorf("failed to delete callback logs: %w", err)
		}
		res := tx.Delete(&model.Task{}, "id = ?", id)
		if res.Error != nil {
			return fmt.Errorf("failed to delete task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrTaskNotFound
		}
		return nil
	})
}

// AppendCallback records a provider callback payload.
func (s *Store) AppendCallback(ctx context.Context, entry *model.CallbackLog) error {
	if entry.ReceivedAt.IsZero() {
		entry.ReceivedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append callback log: %w", err)
	}
	return nil
}

// CallbackLogs returns the log entries for a task, oldest first.
func (s *Store) CallbackLogs(ctx context.Context, taskID string) ([]model.CallbackLog, error) {
	var logs []model.CallbackLog
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).
		Order("received_at ASC").Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load callback logs: %w", err)
	}
	return logs, nil
}

// AllImagePaths returns every image path referenced by any task.
func (s *Store) AllImagePaths(ctx context.Context) ([]string, error) {
	var tasks []model.Task
	if err := s.db.WithContext(ctx).Select("image_paths").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to scan image paths: %w", err)
	}
	var paths []string
	for i := range tasks {
		paths = append(paths, tasks[i].ImagePathList()...)
	}
	return paths, nil
}

// FailStuck sweeps tasks left in a non-terminal state longer than olderThan
// into failed. Called at startup: a restart abandons in-flight background
// work, so the abandoned rows must not stay non-terminal forever.
func (s *Store) FailStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("status IN ?", []model.TaskStatus{
			model.TaskStatusPending, model.TaskStatusAnalyzing, model.TaskStatusGenerating,
		}).
		Where("updated_at < ?", cutoff).
		Updates(map[string]interface{}{
			"status":        model.TaskStatusFailed,
			"progress":      0,
			"error_message": "interrupted by restart",
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to sweep stuck tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Ping verifies store connectivity.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
