package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"subtrans/internal/queue"
)

type watcherView struct {
	ID             int64     `json:"id"`
	Path           string    `json:"path"`
	Enabled        bool      `json:"enabled"`
	TargetLanguage string    `json:"target_language"`
	LLMProvider    string    `json:"llm_provider"`
	CreatedAt      time.Time `json:"created_at"`
}

func watcherViewOf(w *queue.Watcher) watcherView {
	return watcherView{
		ID:             w.ID,
		Path:           w.Path,
		Enabled:        w.Enabled,
		TargetLanguage: w.TargetLanguage,
		LLMProvider:    w.LLMProvider,
		CreatedAt:      w.CreatedAt,
	}
}

func (s *Server) handleListWatchers(w http.ResponseWriter, r *http.Request) {
	watchers, err := s.store.ListWatchers(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]watcherView, 0, len(watchers))
	for _, item := range watchers {
		views = append(views, watcherViewOf(item))
	}
	writeJSON(w, http.StatusOK, map[string]any{"watchers": views})
}

type createWatcherRequest struct {
	Path           string `json:"path"`
	TargetLanguage string `json:"target_language"`
	LLMProvider    string `json:"llm_provider"`
}

func (s *Server) handleCreateWatcher(w http.ResponseWriter, r *http.Request) {
	var req createWatcherRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		writeErrorStatus(w, http.StatusBadRequest, "path is required")
		return
	}
	path, err := expandPath(req.Path)
	if err != nil {
		writeError(w, err)
		return
	}

	snap := s.settings.Snapshot()
	target := req.TargetLanguage
	if target == "" {
		target = snap.TargetLanguage()
	}
	provider := req.LLMProvider
	if provider == "" {
		provider = snap.DefaultLLM()
	}
	if _, err := snap.Provider(provider); err != nil {
		writeError(w, err)
		return
	}

	created, err := s.watchers.AddWatcher(r.Context(), path, target, provider)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, watcherViewOf(created))
}

func (s *Server) watcherID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "invalid watcher id")
		return 0, false
	}
	return id, true
}

func (s *Server) handleDeleteWatcher(w http.ResponseWriter, r *http.Request) {
	id, ok := s.watcherID(w, r)
	if !ok {
		return
	}
	if err := s.watchers.RemoveWatcher(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleScanWatcher(w http.ResponseWriter, r *http.Request) {
	id, ok := s.watcherID(w, r)
	if !ok {
		return
	}
	if err := s.watchers.ScanNow(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"scanned": true})
}

func (s *Server) handleToggleWatcher(w http.ResponseWriter, r *http.Request) {
	id, ok := s.watcherID(w, r)
	if !ok {
		return
	}
	current, err := s.store.GetWatcher(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if current == nil {
		writeErrorStatus(w, http.StatusNotFound, "watcher not found")
		return
	}
	toggled, err := s.watchers.SetEnabled(r.Context(), id, !current.Enabled)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": toggled.Enabled})
}
