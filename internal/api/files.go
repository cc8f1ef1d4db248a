package api

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"subtrans/internal/config"
	"subtrans/internal/services"
)

type browseItem struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

func expandPath(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", services.Wrap(services.ErrUser, "api", "browse", "path is required", nil)
	}
	expanded, err := config.ExpandPath(raw)
	if err != nil {
		return "", services.Wrap(services.ErrUser, "api", "browse", "expand path", err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", services.Wrap(services.ErrUser, "api", "browse", "resolve path", err)
	}
	return abs, nil
}

func (s *Server) handleBrowse(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("path")
	if raw == "" {
		raw = "~"
	}
	dir, err := expandPath(raw)
	if err != nil {
		writeError(w, err)
		return
	}

	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		writeErrorStatus(w, http.StatusNotFound, "path not found: "+dir)
		return
	case os.IsPermission(err):
		writeErrorStatus(w, http.StatusForbidden, "permission denied: "+dir)
		return
	case err != nil:
		writeError(w, err)
		return
	case !info.IsDir():
		writeErrorStatus(w, http.StatusBadRequest, "not a directory: "+dir)
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsPermission(err) {
			writeErrorStatus(w, http.StatusForbidden, "permission denied: "+dir)
			return
		}
		writeError(w, err)
		return
	}

	items := make([]browseItem, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		if !entry.IsDir() {
			if _, ok := translatableExtensions[strings.ToLower(filepath.Ext(name))]; !ok {
				continue
			}
		}
		// Per-entry stat errors drop the entry rather than failing the listing.
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		items = append(items, browseItem{
			Name:  name,
			Path:  filepath.Join(dir, name),
			IsDir: entry.IsDir(),
			Size:  fi.Size(),
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].IsDir != items[j].IsDir {
			return items[i].IsDir
		}
		return strings.ToLower(items[i].Name) < strings.ToLower(items[j].Name)
	})

	parent := filepath.Dir(dir)
	if parent == dir {
		parent = ""
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"current_path": dir,
		"parent_path":  parent,
		"items":        items,
	})
}

type trackView struct {
	Index     int    `json:"index"`
	Codec     string `json:"codec"`
	Language  string `json:"language"`
	Title     string `json:"title"`
	TextBased bool   `json:"text_based"`
}

func (s *Server) handleSubtitleTracks(w http.ResponseWriter, r *http.Request) {
	path, err := expandPath(r.URL.Query().Get("file_path"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !strings.EqualFold(filepath.Ext(path), ".mkv") {
		writeErrorStatus(w, http.StatusBadRequest, "subtitle tracks require an MKV container")
		return
	}
	if _, err := os.Stat(path); err != nil {
		writeErrorStatus(w, http.StatusNotFound, "file not found: "+path)
		return
	}

	tracks, err := s.toolbox.ListTracks(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]trackView, 0, len(tracks))
	for _, track := range tracks {
		views = append(views, trackView{
			Index:     track.RelativeIndex,
			Codec:     track.Codec,
			Language:  track.Language,
			Title:     track.Title,
			TextBased: track.TextBased(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tracks": views})
}
