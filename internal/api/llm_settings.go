package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/catchup-hq/catchup/internal/llm"
	"github.com/catchup-hq/catchup/internal/secrets"
	"github.com/catchup-hq/catchup/internal/store"
)

var encryptLLMSecret = secrets.Encrypt

type llmSettingsRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	Org      string `json:"org"`
	APIKey   string `json:"api_key"`
}

type llmSettingsResponse struct {
	Configured bool   `json:"configured"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	BaseURL    string `json:"base_url"`
	Org        string `json:"org,omitempty"`
	HasAPIKey  bool   `json:"has_api_key"`
	APIKeyHint string `json:"api_key_hint,omitempty"`
}

func (s *Server) getLLMSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetLLMSettings(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := llmSettingsResponse{
		Configured: false,
		Provider:   s.cfg.LLMProvider,
		Model:      s.cfg.LLMModel,
		BaseURL:    s.cfg.LLMBaseURL,
	}
	if settings != nil {
		response.Configured = true
		response.Provider = settings.Provider
		response.Model = settings.Model
		response.BaseURL = settings.BaseURL
		response.Org = settings.Org
		response.HasAPIKey = settings.APIKeyEnc != ""
		if settings.APIKeyEnc != "" && s.cfg.SecretsKey != "" {
			if key, err := secrets.ParseKey(s.cfg.SecretsKey); err == nil {
				if apiKey, err := secrets.Decrypt(key, settings.APIKeyEnc); err == nil {
					if len(apiKey) >= 4 {
						response.APIKeyHint = apiKey[len(apiKey)-4:]
					}
				}
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(response)
}

func (s *Server) updateLLMSettings(w http.ResponseWriter, r *http.Request) {
	var req llmSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	settings, err := s.store.GetLLMSettings(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	provider := firstNonEmpty(req.Provider, s.cfg.LLMProvider)
	model := firstNonEmpty(req.Model, s.cfg.LLMModel)
	baseURL := firstNonEmpty(req.BaseURL, s.cfg.LLMBaseURL)
	org := firstNonEmpty(req.Org, s.cfg.OpenAIOrg)
	if settings != nil {
		provider = firstNonEmpty(req.Provider, settings.Provider)
		model = firstNonEmpty(req.Model, settings.Model)
		baseURL = firstNonEmpty(req.BaseURL, settings.BaseURL)
		org = firstNonEmpty(req.Org, settings.Org)
	}

	apiKeyEnc := ""
	if settings != nil {
		apiKeyEnc = settings.APIKeyEnc
	}
	if req.APIKey != "" {
		key, err := secrets.ParseKey(s.cfg.SecretsKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ciphertext, err := encryptLLMSecret(key, req.APIKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		apiKeyEnc = ciphertext
	}
	if apiKeyEnc == "" && s.cfg.OpenAIAPIKey == "" {
		http.Error(w, "API key required for provider", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	createdAt := now
	if settings != nil && settings.CreatedAt != "" {
		createdAt = settings.CreatedAt
	}
	newSettings := store.LLMSettings{
		Provider:  provider,
		Model:     model,
		BaseURL:   baseURL,
		Org:       org,
		APIKeyEnc: apiKeyEnc,
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	if err := s.store.UpsertLLMSettings(r.Context(), newSettings); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.getLLMSettings(w, r)
}

// testLLMSettings round-trips a tiny completion through the configured
// provider so the UI can verify credentials before saving them.
func (s *Server) testLLMSettings(w http.ResponseWriter, r *http.Request) {
	var req llmSettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	providerConfig, err := s.buildLLMConfig(r.Context(), req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	provider, err := newLLMProvider(providerConfig)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()
	_, err = provider.Complete(ctx, llm.Request{PromptParts: []string{"ping"}, MaxOutputTokens: 4})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "Connected"})
}

func (s *Server) buildLLMConfig(ctx context.Context, req llmSettingsRequest) (llm.Config, error) {
	provider := firstNonEmpty(req.Provider, s.cfg.LLMProvider)
	model := firstNonEmpty(req.Model, s.cfg.LLMModel)
	baseURL := firstNonEmpty(req.BaseURL, s.cfg.LLMBaseURL)
	org := firstNonEmpty(req.Org, s.cfg.OpenAIOrg)

	apiKey := req.APIKey
	if apiKey == "" {
		if settings, err := s.store.GetLLMSettings(ctx); err == nil && settings != nil && settings.APIKeyEnc != "" {
			key, err := secrets.ParseKey(s.cfg.SecretsKey)
			if err != nil {
				return llm.Config{}, err
			}
			decrypted, err := secrets.Decrypt(key, settings.APIKeyEnc)
			if err != nil {
				return llm.Config{}, err
			}
			apiKey = decrypted
		}
	}
	if apiKey == "" {
		apiKey = s.cfg.OpenAIAPIKey
	}

	return llm.Config{
		Provider: provider,
		Model:    model,
		BaseURL:  baseURL,
		APIKey:   apiKey,
		Org:      org,
	}, nil
}

func firstNonEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
