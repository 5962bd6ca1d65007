package model

// TaskStatus is the lifecycle state of a generation task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusAnalyzing  TaskStatus = "analyzing"
	TaskStatusGenerating TaskStatus = "generating"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

var ValidTaskStatuses = []TaskStatus{
	TaskStatusPending, TaskStatusAnalyzing, TaskStatusGenerating,
	TaskStatusCompleted, TaskStatusFailed,
}

// IsTerminal reports whether no further transitions can leave the status.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// IsValidTaskStatus reports whether s is a known lifecycle state.
func IsValidTaskStatus(s string) bool {
	for _, v := range ValidTaskStatuses {
		if string(v) == s {
			return true
		}
	}
	return false
}

// ProviderState is the normalized state of an external synthesis job.
type ProviderState string

const (
	ProviderStatePending           ProviderState = "pending"
	ProviderStateTextReady         ProviderState = "text_ready"
	ProviderStatePreviewReady      ProviderState = "preview_ready"
	ProviderStateSuccess           ProviderState = "success"
	ProviderStateCreateFailed      ProviderState = "create_failed"
	ProviderStateGenerateFailed    ProviderState = "generate_failed"
	ProviderStateCallbackException ProviderState = "callback_exception"
	ProviderStateRejectedContent   ProviderState = "rejected_content"
)

// IsFailure reports whether the provider state is a terminal failure.
func (s ProviderState) IsFailure() bool {
	switch s {
	case ProviderStateCreateFailed, ProviderStateGenerateFailed,
		ProviderStateCallbackException, ProviderStateRejectedContent:
		return true
	}
	return false
}

// providerStateByWire maps the provider's wire values to normalized states.
var providerStateByWire = map[string]ProviderState{
	"PENDING":               ProviderStatePending,
	"TEXT_SUCCESS":          ProviderStateTextReady,
	"FIRST_SUCCESS":         ProviderStatePreviewReady,
	"SUCCESS":               ProviderStateSuccess,
	"CREATE_TASK_FAILED":    ProviderStateCreateFailed,
	"GENERATE_AUDIO_FAILED": ProviderStateGenerateFailed,
	"CALLBACK_EXCEPTION":    ProviderStateCallbackException,
	"SENSITIVE_WORD_ERROR":  ProviderStateRejectedContent,
}

// ParseProviderState normalizes a wire status value. Unknown values are
// treated as pending so an unexpected intermediate state stays soft.
func ParseProviderState(wire string) ProviderState {
	if s, ok := providerStateByWire[wire]; ok {
		return s
	}
	return ProviderStatePending
}
