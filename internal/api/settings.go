package api

import (
	"errors"
	"net/http"
	"strings"

	"subtrans/internal/language"
	"subtrans/internal/llm"
	"subtrans/internal/services"
	"subtrans/internal/settings"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	snap := s.settings.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  snap.Version,
		"settings": snap.Values(),
	})
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var changes map[string]any
	if err := decodeJSON(r, &changes); err != nil {
		writeError(w, err)
		return
	}
	snap, err := s.settings.Apply(r.Context(), changes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"version":  snap.Version,
		"settings": snap.Values(),
	})
}

func (s *Server) handleLLMProviders(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"providers": llm.Profiles()})
}

func (s *Server) handleLanguages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"languages": language.All()})
}

type testLLMRequest struct {
	Provider string `json:"provider"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
}

// handleTestLLM runs a one-shot completion against a provider. Masked or
// omitted keys fall back to the stored credential so the UI can test saved
// settings without re-entering secrets.
func (s *Server) handleTestLLM(w http.ResponseWriter, r *http.Request) {
	var req testLLMRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	snap := s.settings.Snapshot()
	stored, err := snap.Provider(req.Provider)
	if err != nil {
		writeError(w, err)
		return
	}

	creds := settings.ProviderCredentials{
		Provider: req.Provider,
		APIKey:   strings.TrimSpace(req.APIKey),
		Model:    req.Model,
		BaseURL:  req.BaseURL,
	}
	if creds.APIKey == "" || settings.IsMaskedSecret(creds.APIKey) {
		creds.APIKey = stored.APIKey
	}
	if creds.Model == "" {
		creds.Model = stored.Model
	}
	if creds.BaseURL == "" {
		creds.BaseURL = stored.BaseURL
	}
	if creds.APIKey == "" {
		writeErrorStatus(w, http.StatusBadRequest, "no API key configured for "+req.Provider)
		return
	}

	client, err := llm.NewClient(creds, llm.WithMaxAttempts(1))
	if err != nil {
		if errors.Is(err, services.ErrUser) || errors.Is(err, services.ErrAuth) {
			writeErrorStatus(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, err)
		return
	}
	if err := client.Healthcheck(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"provider": client.Provider(),
		"model":    client.Model(),
	})
}
