package api

import (
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"subtrans/internal/logging"
	"subtrans/internal/queue"
	"subtrans/internal/scheduler"
	"subtrans/internal/services"
	"subtrans/internal/skip"
)

type taskView struct {
	ID             int64      `json:"id"`
	FilePath       string     `json:"file_path"`
	FileName       string     `json:"file_name"`
	Status         string     `json:"status"`
	Progress       int        `json:"progress"`
	SourceLanguage string     `json:"source_language,omitempty"`
	TargetLanguage string     `json:"target_language"`
	LLMProvider    string     `json:"llm_provider"`
	SubtitleTrack  *int       `json:"subtitle_track,omitempty"`
	ForceOverride  bool       `json:"force_override"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

func viewOf(task *queue.Task) taskView {
	return taskView{
		ID:             task.ID,
		FilePath:       task.FilePath,
		FileName:       task.DisplayName(),
		Status:         string(task.Status),
		Progress:       task.Progress,
		SourceLanguage: task.SourceLanguage,
		TargetLanguage: task.TargetLanguage,
		LLMProvider:    task.LLMProvider,
		SubtitleTrack:  task.SubtitleTrack,
		ForceOverride:  task.ForceOverride,
		ErrorMessage:   task.ErrorMessage,
		CreatedAt:      task.CreatedAt,
		UpdatedAt:      task.UpdatedAt,
		CompletedAt:    task.CompletedAt,
	}
}

const defaultPageSize = 50

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := queue.TaskFilter{Limit: defaultPageSize}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := queue.ParseStatus(raw)
		if !ok {
			writeErrorStatus(w, http.StatusBadRequest, "unknown status "+strconv.Quote(raw))
			return
		}
		filter.Status = status
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeErrorStatus(w, http.StatusBadRequest, "invalid limit")
			return
		}
		filter.Limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeErrorStatus(w, http.StatusBadRequest, "invalid offset")
			return
		}
		filter.Offset = n
	}

	tasks, total, err := s.store.ListTasks(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		views = append(views, viewOf(task))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks":  views,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (s *Server) handleTaskStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.TaskStats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make(map[string]int, len(queue.AllStatuses())+1)
	total := 0
	for _, status := range queue.AllStatuses() {
		out[string(status)] = stats[status]
		total += stats[status]
	}
	out["total"] = total
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) taskID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if task == nil {
		writeErrorStatus(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(task))
}

type createTaskRequest struct {
	FilePath       string `json:"file_path"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	LLMProvider    string `json:"llm_provider"`
	SubtitleTrack  *int   `json:"subtitle_track"`
	ForceOverride  bool   `json:"force_override"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.FilePath) == "" {
		writeErrorStatus(w, http.StatusBadRequest, "file_path is required")
		return
	}

	task, decision, err := s.scheduler.Submit(r.Context(), scheduler.SubmitRequest{
		FilePath:       req.FilePath,
		SourceLanguage: req.SourceLanguage,
		TargetLanguage: req.TargetLanguage,
		LLMProvider:    req.LLMProvider,
		SubtitleTrack:  req.SubtitleTrack,
		ForceOverride:  req.ForceOverride,
		Source:         "api",
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if decision.Skip {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":       "file skipped",
			"skip_reason": decision.Reason,
		})
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(task))
}

type createDirectoryRequest struct {
	DirectoryPath  string `json:"directory_path"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	LLMProvider    string `json:"llm_provider"`
	Recursive      bool   `json:"recursive"`
	ForceOverride  bool   `json:"force_override"`
}

func (s *Server) handleCreateDirectory(w http.ResponseWriter, r *http.Request) {
	var req createDirectoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	dir, err := expandPath(req.DirectoryPath)
	if err != nil {
		writeError(w, err)
		return
	}
	info, err := os.Stat(dir)
	if err != nil {
		writeErrorStatus(w, http.StatusNotFound, "directory not found: "+dir)
		return
	}
	if !info.IsDir() {
		writeErrorStatus(w, http.StatusBadRequest, "not a directory: "+dir)
		return
	}

	candidates, err := collectCandidates(dir, req.Recursive)
	if err != nil {
		writeError(w, err)
		return
	}

	var taskIDs []int64
	var skipped []string
	for _, path := range candidates {
		task, decision, err := s.scheduler.Submit(r.Context(), scheduler.SubmitRequest{
			FilePath:       path,
			SourceLanguage: req.SourceLanguage,
			TargetLanguage: req.TargetLanguage,
			LLMProvider:    req.LLMProvider,
			ForceOverride:  req.ForceOverride,
			Source:         "api",
		})
		switch {
		case err != nil:
			s.logger.Warn("directory submit failed", logging.String("file", filepath.Base(path)), logging.Error(err))
			skipped = append(skipped, path)
		case decision.Skip:
			skipped = append(skipped, path)
		default:
			taskIDs = append(taskIDs, task.ID)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"created_count": len(taskIDs),
		"skipped_count": len(skipped),
		"task_ids":      taskIDs,
		"skipped_files": skipped,
	})
}

var translatableExtensions = map[string]struct{}{
	".mkv": {},
	".srt": {},
	".ass": {},
}

// collectCandidates enumerates translatable files, filtering out generated
// artifacts. Unreadable subdirectories are skipped, not fatal.
func collectCandidates(dir string, recursive bool) ([]string, error) {
	var out []string
	if !recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, services.Wrap(services.ErrUser, "api", "directory", "read directory", err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if isCandidate(path) {
				out = append(out, path)
			}
		}
		return out, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if isCandidate(path) {
			out = append(out, path)
		}
		return nil
	})
	if err != nil {
		return nil, services.Wrap(services.ErrUser, "api", "directory", "walk directory", err)
	}
	return out, nil
}

func isCandidate(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if _, ok := translatableExtensions[strings.ToLower(filepath.Ext(path))]; !ok {
		return false
	}
	return !skip.IsGeneratedOutput(path)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	cancelled, err := s.scheduler.Delete(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{
		"deleted":   !cancelled,
		"cancelled": cancelled,
	})
}

func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	if err := s.scheduler.Retry(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil || task == nil {
		writeErrorStatus(w, http.StatusInternalServerError, "task vanished during retry")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(task))
}

func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	if err := s.scheduler.Pause(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pausing"})
}

func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	id, ok := s.taskID(w, r)
	if !ok {
		return
	}
	if err := s.scheduler.Resume(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pending"})
}

func (s *Server) handlePauseAll(w http.ResponseWriter, r *http.Request) {
	count, err := s.scheduler.PauseAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"paused_count": count})
}

type taskIDsRequest struct {
	TaskIDs []int64 `json:"task_ids"`
}

func (s *Server) handlePauseSelected(w http.ResponseWriter, r *http.Request) {
	var req taskIDsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	count, err := s.scheduler.PauseSelected(r.Context(), req.TaskIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"paused_count": count})
}

func (s *Server) handleDeleteAll(w http.ResponseWriter, r *http.Request) {
	cancelled, deleted, err := s.scheduler.DeleteAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"cancelled_count": cancelled,
		"deleted_count":   deleted,
	})
}

func (s *Server) handleDeleteSelected(w http.ResponseWriter, r *http.Request) {
	var req taskIDsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cancelled, deleted, err := s.scheduler.DeleteSelected(r.Context(), req.TaskIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{
		"cancelled_count": cancelled,
		"deleted_count":   deleted,
	})
}
