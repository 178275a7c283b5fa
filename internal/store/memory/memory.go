package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/catchup-hq/catchup/internal/store"
)

// MemoryStore keeps everything in process memory. Used by tests and by the
// no-database mode where workspaces do not survive a restart.
type MemoryStore struct {
	mu         sync.RWMutex
	workspaces map[string]store.Workspace
	settings   *store.LLMSettings
}

func New() *MemoryStore {
	return &MemoryStore{
		workspaces: map[string]store.Workspace{},
	}
}

func (m *MemoryStore) ListWorkspaces(ctx context.Context) ([]store.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	results := make([]store.Workspace, 0, len(m.workspaces))
	for _, workspace := range m.workspaces {
		results = append(results, workspace)
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Slug < results[j].Slug
	})
	return results, nil
}

func (m *MemoryStore) GetWorkspace(ctx context.Context, slug string) (*store.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	workspace, ok := m.workspaces[slug]
	if !ok {
		return nil, nil
	}
	cloned := workspace
	return &cloned, nil
}

func (m *MemoryStore) UpsertWorkspace(ctx context.Context, workspace store.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.workspaces[workspace.Slug]; ok && workspace.CreatedAt == "" {
		workspace.CreatedAt = existing.CreatedAt
	}
	m.workspaces[workspace.Slug] = workspace
	return nil
}

func (m *MemoryStore) DeleteWorkspace(ctx context.Context, slug string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workspaces, slug)
	return nil
}

func (m *MemoryStore) GetLLMSettings(ctx context.Context) (*store.LLMSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settings == nil {
		return nil, nil
	}
	cloned := *m.settings
	return &cloned, nil
}

func (m *MemoryStore) UpsertLLMSettings(ctx context.Context, settings store.LLMSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settings != nil && settings.CreatedAt == "" {
		settings.CreatedAt = m.settings.CreatedAt
	}
	m.settings = &settings
	return nil
}
