package model

import "time"

// CreateTaskRequest is the body of POST /api/tasks.
type CreateTaskRequest struct {
	ImagePaths []string `json:"imagePaths" validate:"required,min=1,dive,required"`
	Location   string   `json:"location" validate:"required,max=200"`
	UserID     string   `json:"userId,omitempty" validate:"omitempty,max=100"`
}

// CreateTaskResponse acknowledges task creation.
type CreateTaskResponse struct {
	ID       string     `json:"id"`
	Status   TaskStatus `json:"status"`
	Progress int        `json:"progress"`
}

// TaskSummary is the list-view shape of a task.
type TaskSummary struct {
	ID        string     `json:"id"`
	UserID    *string    `json:"userId,omitempty"`
	Location  string     `json:"location"`
	Status    TaskStatus `json:"status"`
	Progress  int        `json:"progress"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// ListTasksResponse is the body of GET /api/tasks.
type ListTasksResponse struct {
	Tasks  []TaskSummary `json:"tasks"`
	Total  int64         `json:"total"`
	Offset int           `json:"offset"`
	Limit  int           `json:"limit"`
}

// UploadImagesResponse is the body of POST /api/uploads/images.
type UploadImagesResponse struct {
	ImagePaths []string `json:"imagePaths"`
	Count      int      `json:"count"`
}

// CleanupFilesResponse reports the outcome of the orphan-file sweep.
type CleanupFilesResponse struct {
	DeletedCount int `json:"deletedCount"`
	TotalFiles   int `json:"totalFiles"`
	UsedFiles    int `json:"usedFiles"`
}

// WebSocket message types pushed by the progress hub.
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSMessage is the minimal envelope read from clients.
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage is pushed on every status or progress change.
type WSProgressMessage struct {
	Type     string     `json:"type"`
	TaskID   string     `json:"taskId"`
	Status   TaskStatus `json:"status"`
	Progress int        `json:"progress"`
	Step     string     `json:"step,omitempty"`
}

// WSCompleteMessage is pushed once when a task completes.
type WSCompleteMessage struct {
	Type      string  `json:"type"`
	TaskID    string  `json:"taskId"`
	ResultURL string  `json:"resultUrl"`
	Title     *string `json:"title,omitempty"`
}

// WSErrorMessage is pushed once when a task fails.
type WSErrorMessage struct {
	Type    string `json:"type"`
	TaskID  string `json:"taskId"`
	Message string `json:"message"`
}
