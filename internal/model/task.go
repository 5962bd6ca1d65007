package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Task is one end-to-end request to turn images plus a location into a
// generated music result, tracked through the status lifecycle.
type Task struct {
	ID       string  `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID   *string `json:"userId,omitempty" gorm:"type:varchar(100);index"`
	Location string  `json:"location" gorm:"type:varchar(200);not null"`

	// ImagePaths is the ordered list of uploaded files, fixed at creation.
	ImagePaths datatypes.JSON `json:"imagePaths" gorm:"not null"`

	Status   TaskStatus `json:"status" gorm:"type:varchar(20);index;default:pending"`
	Progress int        `json:"progress" gorm:"default:0"`

	AnalysisResult   datatypes.JSON `json:"analysis,omitempty"`
	MusicDescription *string        `json:"musicDescription,omitempty"`
	Lyrics           *string        `json:"lyrics,omitempty"`

	ExternalJobID *string `json:"externalJobId,omitempty" gorm:"type:varchar(100);index"`
	// ExternalJobSnapshot holds the last raw provider payload, overwritten
	// on every poll.
	ExternalJobSnapshot datatypes.JSON `json:"externalJobSnapshot,omitempty"`

	ResultURLs       datatypes.JSON `json:"resultUrls,omitempty"`
	PrimaryResultURL *string        `json:"resultUrl,omitempty" gorm:"type:varchar(500)"`
	Title            *string        `json:"title,omitempty" gorm:"type:varchar(200)"`
	DurationSeconds  *int           `json:"durationSeconds,omitempty"`

	ErrorMessage *string `json:"errorMessage,omitempty"`

	CreatedAt   time.Time  `json:"createdAt" gorm:"index"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// TableName overrides the table name.
func (Task) TableName() string {
	return "tasks"
}

// ImagePathList decodes the stored image path list.
func (t *Task) ImagePathList() []string {
	var paths []string
	if len(t.ImagePaths) > 0 {
		_ = json.Unmarshal(t.ImagePaths, &paths)
	}
	return paths
}

// ResultURLList decodes the stored result URL list.
func (t *Task) ResultURLList() []string {
	var urls []string
	if len(t.ResultURLs) > 0 {
		_ = json.Unmarshal(t.ResultURLs, &urls)
	}
	return urls
}

// Summary is the list-view projection of a task.
func (t *Task) Summary() TaskSummary {
	return TaskSummary{
		ID:        t.ID,
		UserID:    t.UserID,
		Location:  t.Location,
		Status:    t.Status,
		Progress:  t.Progress,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

// CallbackLog is an append-only record of a provider callback, kept for
// debugging. Rows are removed only when the owning task is deleted.
type CallbackLog struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	TaskID     string         `json:"taskId" gorm:"type:varchar(36);index;not null"`
	Type       string         `json:"type" gorm:"type:varchar(50);not null"`
	Payload    datatypes.JSON `json:"payload" gorm:"not null"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

// TableName overrides the table name.
func (CallbackLog) TableName() string {
	return "callback_logs"
}

// MockResultURL is the placeholder audio URL used when the synthesis
// provider has no credential configured.
const MockResultURL = "https://example.com/mock-music.mp3"

// MockResultTitle is the placeholder title for mock results.
const MockResultTitle = "Generated Music"
