package unread

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/catchup-hq/catchup/internal/browser"
	"github.com/catchup-hq/catchup/internal/events"
	"github.com/catchup-hq/catchup/internal/slack"
)

// ErrLoadInFlight is returned when a load is requested for a workspace that
// is already loading. Loads are exclusive per slug, never queued.
var ErrLoadInFlight = errors.New("a load is already running for this workspace")

// PageFactory opens a fresh browser page for one load cycle.
type PageFactory func(ctx context.Context) (browser.Page, error)

// Registry tracks the live load state of every workspace: the latest
// snapshot, whether a cycle is in flight, and the browser session backing
// it. A session is established on the first load for a slug and reused by
// every later cycle until teardown, so boot data and the user directory
// carry over. Each cycle gets a monotonic token; snapshots published by a
// superseded cycle are discarded so a stale load can never overwrite a
// newer one.
type Registry struct {
	newPage    PageFactory
	cfg        LoaderConfig
	broker     *events.Broker
	captureDir string

	mu        sync.Mutex
	nextToken uint64
	tokens    map[string]uint64
	cycles    map[string]string
	inflight  map[string]bool
	sessions  map[string]*session
	snapshots map[string]Snapshot
}

type session struct {
	page   browser.Page
	loader *Loader
	cancel context.CancelFunc
}

func (s *session) close() {
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.page.Close(); err != nil {
		log.Printf("close browser page: %v", err)
	}
}

func NewRegistry(newPage PageFactory, cfg LoaderConfig, broker *events.Broker, captureDir string) *Registry {
	return &Registry{
		newPage:    newPage,
		cfg:        cfg,
		broker:     broker,
		captureDir: captureDir,
		tokens:     map[string]uint64{},
		cycles:     map[string]string{},
		inflight:   map[string]bool{},
		sessions:   map[string]*session{},
		snapshots:  map[string]Snapshot{},
	}
}

// StartLoad begins a load cycle for slug in the background, reusing the
// slug's browser session when one exists and establishing it otherwise.
// Pending snapshots from an earlier cycle are invalidated by the token bump.
// A nil summarizer leaves streams marked as unconfigured.
func (r *Registry) StartLoad(ctx context.Context, slug string, cookies []browser.Cookie, summarizer *Summarizer) error {
	r.mu.Lock()
	if r.inflight[slug] {
		r.mu.Unlock()
		return ErrLoadInFlight
	}
	r.inflight[slug] = true
	r.nextToken++
	token := r.nextToken
	r.tokens[slug] = token
	r.cycles[slug] = uuid.New().String()
	sess := r.sessions[slug]
	r.mu.Unlock()

	if sess == nil {
		page, err := r.newPage(ctx)
		if err != nil {
			r.mu.Lock()
			delete(r.inflight, slug)
			r.mu.Unlock()
			return err
		}
		data := slack.NewPageData(slug, slack.NewCapture(r.captureDir, slug))
		sess = &session{page: page, loader: NewLoader(slug, page, data, r.cfg)}
		r.mu.Lock()
		r.sessions[slug] = sess
		r.mu.Unlock()
	}

	// The cycle outlives the request that started it; cancellation comes
	// from teardown, not from the caller's context.
	loadCtx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	sess.cancel = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			r.mu.Lock()
			delete(r.inflight, slug)
			r.mu.Unlock()
		}()
		publish := func(snap Snapshot) { r.publishSnapshot(slug, token, snap) }
		if _, err := sess.loader.Run(loadCtx, cookies, summarizer, publish); err != nil {
			log.Printf("[%s] load cycle failed: %v", slug, err)
		}
	}()
	return nil
}

func (r *Registry) publishSnapshot(slug string, token uint64, snap Snapshot) {
	r.mu.Lock()
	if r.tokens[slug] != token {
		r.mu.Unlock()
		log.Printf("[%s] discarding snapshot from superseded load cycle", slug)
		return
	}
	r.snapshots[slug] = snap
	cycle := r.cycles[slug]
	r.mu.Unlock()

	if r.broker != nil {
		r.broker.Publish(events.SnapshotEvent{
			Slug:     slug,
			Ts:       time.Now().UTC().Format(time.RFC3339Nano),
			Cycle:    cycle,
			Snapshot: snap,
		})
	}
}

// Snapshot returns the latest snapshot for slug, if any cycle has published
// one since the workspace was registered or last torn down.
func (r *Registry) Snapshot(slug string) (Snapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok := r.snapshots[slug]
	return snap, ok
}

func (r *Registry) Loading(slug string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inflight[slug]
}

// Teardown invalidates any in-flight cycle for slug, closes its browser
// session and forgets its snapshot. Used when a workspace is deleted.
func (r *Registry) Teardown(slug string) {
	r.mu.Lock()
	r.nextToken++
	r.tokens[slug] = r.nextToken
	sess := r.sessions[slug]
	delete(r.sessions, slug)
	delete(r.snapshots, slug)
	delete(r.cycles, slug)
	delete(r.inflight, slug)
	r.mu.Unlock()

	if sess != nil {
		sess.close()
	}
}

// Close tears down every live session. Called on server shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for slug, sess := range r.sessions {
		sessions = append(sessions, sess)
		delete(r.sessions, slug)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}
