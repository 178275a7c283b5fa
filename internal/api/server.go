package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/catchup-hq/catchup/internal/browser"
	"github.com/catchup-hq/catchup/internal/config"
	"github.com/catchup-hq/catchup/internal/events"
	"github.com/catchup-hq/catchup/internal/store"
	"github.com/catchup-hq/catchup/internal/unread"
)

type Server struct {
	store  store.Store
	broker Broker
	loads  LoadService
	cfg    config.Config
}

type Broker interface {
	Publish(event events.SnapshotEvent)
	Subscribe(ctx context.Context, slug string) <-chan events.SnapshotEvent
}

// LoadService is the load-cycle registry as the handlers see it.
type LoadService interface {
	StartLoad(ctx context.Context, slug string, cookies []browser.Cookie, summarizer *unread.Summarizer) error
	Snapshot(slug string) (unread.Snapshot, bool)
	Loading(slug string) bool
	Teardown(slug string)
}

func NewServer(store store.Store, broker Broker, loads LoadService, cfg config.Config) *Server {
	return &Server{
		store:  store,
		broker: broker,
		loads:  loads,
		cfg:    cfg,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(quietRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/workspaces", s.listWorkspaces)
	r.Post("/workspaces", s.createWorkspace)
	r.Delete("/workspaces/{slug}", s.deleteWorkspace)
	r.Get("/unread/{slug}", s.getUnread)
	r.Post("/unread/{slug}/reload", s.reloadUnread)
	r.Get("/unread/{slug}/events", s.streamEvents)
	r.Get("/settings/llm", s.getLLMSettings)
	r.Post("/settings/llm", s.updateLLMSettings)
	r.Post("/settings/llm/test", s.testLLMSettings)
	r.Get("/health", s.health)
	r.Get("/ready", s.ready)

	return r
}

func quietRequestLogger(next http.Handler) http.Handler {
	logged := middleware.Logger(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if shouldSuppressRequestLog(r.Method, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		logged.ServeHTTP(w, r)
	})
}

func shouldSuppressRequestLog(method string, path string) bool {
	cleanPath := strings.TrimSpace(path)
	if method == http.MethodGet && strings.HasSuffix(cleanPath, "/events") {
		return true
	}
	if method == http.MethodGet && (strings.HasPrefix(cleanPath, "/unread/") || strings.HasPrefix(cleanPath, "/settings/")) {
		return true
	}
	if method == http.MethodOptions {
		return true
	}
	return false
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type subsystemStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

type readinessResponse struct {
	Status     string                     `json:"status"`
	Subsystems map[string]subsystemStatus `json:"subsystems"`
}

func (s *Server) ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	subsystems := map[string]subsystemStatus{}
	overall := http.StatusOK

	if _, err := s.store.ListWorkspaces(ctx); err != nil {
		subsystems["store"] = subsystemStatus{Status: "error", Error: err.Error()}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["store"] = subsystemStatus{Status: "ok"}
	}

	if s.cfg.SecretsKey == "" {
		subsystems["secrets"] = subsystemStatus{Status: "error", Error: "CATCHUP_SECRETS_KEY not configured"}
		overall = http.StatusServiceUnavailable
	} else {
		subsystems["secrets"] = subsystemStatus{Status: "ok"}
	}

	status := "ok"
	if overall != http.StatusOK {
		status = "degraded"
	}
	writeJSONStatus(w, readinessResponse{Status: status, Subsystems: subsystems}, overall)
}

func writeJSONStatus(w http.ResponseWriter, value any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()

	// New subscribers get the current snapshot immediately so they never
	// render from nothing while a cycle is mid-flight.
	if snap, ok := s.loads.Snapshot(slug); ok {
		sendSSE(w, events.SnapshotEvent{
			Slug:     slug,
			Ts:       time.Now().UTC().Format(time.RFC3339Nano),
			Snapshot: snap,
		})
		flusher.Flush()
	}

	eventsChan := s.broker.Subscribe(ctx, slug)
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-eventsChan:
			if !ok {
				return
			}
			sendSSE(w, event)
			flusher.Flush()
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": keep-alive\n\n"))
			flusher.Flush()
		case <-ctx.Done():
			return
		}
	}
}

func sendSSE(w http.ResponseWriter, event events.SnapshotEvent) {
	payload, _ := json.Marshal(event)
	_, _ = w.Write([]byte("id: " + event.Slug + "\n"))
	_, _ = w.Write([]byte("event: snapshot\n"))
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(payload)
	_, _ = w.Write([]byte("\n\n"))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:    addr,
		Handler: s.Router(),
	}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	return server.ListenAndServe()
}
