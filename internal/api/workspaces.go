package api

import (
	"encoding/json"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/catchup-hq/catchup/internal/browser"
	"github.com/catchup-hq/catchup/internal/secrets"
	"github.com/catchup-hq/catchup/internal/store"
)

var encryptSecret = secrets.Encrypt
var decryptSecret = secrets.Decrypt

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type workspaceRequest struct {
	Slug     string           `json:"slug"`
	TeamName string           `json:"team_name"`
	Cookies  []browser.Cookie `json:"cookies"`
}

type workspaceResponse struct {
	Slug       string `json:"slug"`
	TeamName   string `json:"team_name"`
	HasCookies bool   `json:"has_cookies"`
	Loading    bool   `json:"loading"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

func (s *Server) listWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := s.store.ListWorkspaces(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	response := make([]workspaceResponse, 0, len(workspaces))
	for _, workspace := range workspaces {
		response = append(response, s.toWorkspaceResponse(workspace))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"workspaces": response})
}

func (s *Server) createWorkspace(w http.ResponseWriter, r *http.Request) {
	var req workspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	if !slugPattern.MatchString(req.Slug) {
		http.Error(w, "slug must be lowercase letters, digits and hyphens", http.StatusBadRequest)
		return
	}
	if len(req.Cookies) == 0 {
		http.Error(w, "session cookies required", http.StatusBadRequest)
		return
	}

	key, err := secrets.ParseKey(s.cfg.SecretsKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	plaintext, err := json.Marshal(req.Cookies)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ciphertext, err := encryptSecret(key, string(plaintext))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	createdAt := now
	if existing, err := s.store.GetWorkspace(r.Context(), req.Slug); err == nil && existing != nil {
		createdAt = existing.CreatedAt
	}
	workspace := store.Workspace{
		Slug:       req.Slug,
		TeamName:   req.TeamName,
		CookiesEnc: ciphertext,
		CreatedAt:  createdAt,
		UpdatedAt:  now,
	}
	if err := s.store.UpsertWorkspace(r.Context(), workspace); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, s.toWorkspaceResponse(workspace), http.StatusCreated)
}

func (s *Server) deleteWorkspace(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	s.loads.Teardown(slug)
	if err := s.store.DeleteWorkspace(r.Context(), slug); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toWorkspaceResponse(workspace store.Workspace) workspaceResponse {
	return workspaceResponse{
		Slug:       workspace.Slug,
		TeamName:   workspace.TeamName,
		HasCookies: workspace.CookiesEnc != "",
		Loading:    s.loads.Loading(workspace.Slug),
		CreatedAt:  workspace.CreatedAt,
		UpdatedAt:  workspace.UpdatedAt,
	}
}

// workspaceCookies decrypts the stored session cookies for a load cycle.
func (s *Server) workspaceCookies(workspace *store.Workspace) ([]browser.Cookie, error) {
	key, err := secrets.ParseKey(s.cfg.SecretsKey)
	if err != nil {
		return nil, err
	}
	plaintext, err := decryptSecret(key, workspace.CookiesEnc)
	if err != nil {
		return nil, err
	}
	var cookies []browser.Cookie
	if err := json.Unmarshal([]byte(plaintext), &cookies); err != nil {
		return nil, err
	}
	return cookies, nil
}
