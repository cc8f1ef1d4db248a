package queue

import (
	"path/filepath"
	"strings"
	"time"
)

// Status represents the lifecycle of a translation task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusPaused,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// activeStatuses are the states that hold a claim on (file_path, language):
// a second task for the same pair is refused while one of these exists.
var activeStatuses = []Status{StatusPending, StatusProcessing, StatusPaused}

// retryableStatuses are the states a task may be re-enqueued from.
var retryableStatuses = map[Status]struct{}{
	StatusFailed:    {},
	StatusCancelled: {},
	StatusPaused:    {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsActiveStatus reports whether a status holds the (path, language) claim.
func IsActiveStatus(status Status) bool {
	for _, active := range activeStatuses {
		if status == active {
			return true
		}
	}
	return false
}

// IsRetryableStatus reports whether a task in this status may be retried.
func IsRetryableStatus(status Status) bool {
	_, ok := retryableStatuses[status]
	return ok
}

// IsTerminalStatus reports whether a status ends the task lifecycle
// (until an explicit retry).
func IsTerminalStatus(status Status) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task represents one unit of translation work persisted in SQLite.
type Task struct {
	ID             int64
	FilePath       string
	FileName       string
	Status         Status
	Progress       int
	SourceLanguage string // empty means auto-detect
	TargetLanguage string
	LLMProvider    string
	SubtitleTrack  *int // nil selects automatically
	ForceOverride  bool
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// IsActive reports whether the task holds the (path, language) claim.
func (t *Task) IsActive() bool {
	return IsActiveStatus(t.Status)
}

// DisplayName returns the stored file name, deriving it from the path when
// the row predates the column being filled.
func (t *Task) DisplayName() string {
	if t.FileName != "" {
		return t.FileName
	}
	return filepath.Base(t.FilePath)
}

// Watcher is a persistent directive to ingest new files from a directory.
type Watcher struct {
	ID             int64
	Path           string
	Enabled        bool
	TargetLanguage string
	LLMProvider    string
	CreatedAt      time.Time
}

// HistoryRecord marks a (file, language) pair as already translated.
type HistoryRecord struct {
	ID             int64
	FilePath       string
	TargetLanguage string
	OutputPath     string
	TranslatedAt   time.Time
}
