package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/catchup-hq/catchup/internal/llm"
	"github.com/catchup-hq/catchup/internal/secrets"
	"github.com/catchup-hq/catchup/internal/slack"
	"github.com/catchup-hq/catchup/internal/unread"
)

var newLLMProvider = llm.NewProvider

func (s *Server) getUnread(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	if snap, ok := s.loads.Snapshot(slug); ok {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
		return
	}

	workspace, err := s.store.GetWorkspace(r.Context(), slug)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if workspace == nil {
		http.Error(w, "workspace not found", http.StatusNotFound)
		return
	}

	// Known workspace, no cycle has published yet.
	snap := unread.Snapshot{Loading: s.loads.Loading(slug), Streams: []slack.UnreadStream{}}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snap)
}

func (s *Server) reloadUnread(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")

	workspace, err := s.store.GetWorkspace(r.Context(), slug)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if workspace == nil {
		http.Error(w, "workspace not found", http.StatusNotFound)
		return
	}

	cookies, err := s.workspaceCookies(workspace)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := s.loads.StartLoad(r.Context(), slug, cookies, s.buildSummarizer(r)); err != nil {
		if errors.Is(err, unread.ErrLoadInFlight) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, map[string]string{"status": "loading"}, http.StatusAccepted)
}

// buildSummarizer assembles the enrichment provider from stored settings
// layered over the environment defaults. A missing or broken configuration
// disables enrichment rather than blocking the load.
func (s *Server) buildSummarizer(r *http.Request) *unread.Summarizer {
	cfg := llm.Config{
		Provider: s.cfg.LLMProvider,
		Model:    s.cfg.LLMModel,
		BaseURL:  s.cfg.LLMBaseURL,
		APIKey:   s.cfg.OpenAIAPIKey,
		Org:      s.cfg.OpenAIOrg,
	}

	if settings, err := s.store.GetLLMSettings(r.Context()); err == nil && settings != nil {
		if settings.Provider != "" {
			cfg.Provider = settings.Provider
		}
		if settings.Model != "" {
			cfg.Model = settings.Model
		}
		if settings.BaseURL != "" {
			cfg.BaseURL = settings.BaseURL
		}
		if settings.Org != "" {
			cfg.Org = settings.Org
		}
		if settings.APIKeyEnc != "" && s.cfg.SecretsKey != "" {
			if key, err := secrets.ParseKey(s.cfg.SecretsKey); err == nil {
				if apiKey, err := secrets.Decrypt(key, settings.APIKeyEnc); err == nil {
					cfg.APIKey = apiKey
				}
			}
		}
	}

	if cfg.APIKey == "" {
		return nil
	}
	provider, err := newLLMProvider(cfg)
	if err != nil {
		log.Printf("summarization disabled: %v", err)
		return nil
	}
	return unread.NewSummarizer(provider, s.cfg.SummaryTokens)
}
