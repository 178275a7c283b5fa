package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/mock"

	"github.com/catchup-hq/catchup/internal/browser"
	"github.com/catchup-hq/catchup/internal/config"
	"github.com/catchup-hq/catchup/internal/events"
	"github.com/catchup-hq/catchup/internal/llm"
	"github.com/catchup-hq/catchup/internal/store"
	"github.com/catchup-hq/catchup/internal/unread"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListWorkspaces(ctx context.Context) ([]store.Workspace, error) {
	args := m.Called(ctx)
	var result []store.Workspace
	if value := args.Get(0); value != nil {
		result = value.([]store.Workspace)
	}
	return result, args.Error(1)
}

func (m *MockStore) GetWorkspace(ctx context.Context, slug string) (*store.Workspace, error) {
	args := m.Called(ctx, slug)
	if value := args.Get(0); value != nil {
		return value.(*store.Workspace), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) UpsertWorkspace(ctx context.Context, workspace store.Workspace) error {
	args := m.Called(ctx, workspace)
	return args.Error(0)
}

func (m *MockStore) DeleteWorkspace(ctx context.Context, slug string) error {
	args := m.Called(ctx, slug)
	return args.Error(0)
}

func (m *MockStore) GetLLMSettings(ctx context.Context) (*store.LLMSettings, error) {
	args := m.Called(ctx)
	if value := args.Get(0); value != nil {
		return value.(*store.LLMSettings), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockStore) UpsertLLMSettings(ctx context.Context, settings store.LLMSettings) error {
	args := m.Called(ctx, settings)
	return args.Error(0)
}

type MockBroker struct {
	mock.Mock
}

func (m *MockBroker) Publish(event events.SnapshotEvent) {
	m.Called(event)
}

func (m *MockBroker) Subscribe(ctx context.Context, slug string) <-chan events.SnapshotEvent {
	args := m.Called(ctx, slug)
	if value := args.Get(0); value != nil {
		if ch, ok := value.(chan events.SnapshotEvent); ok {
			return ch
		}
		if ch, ok := value.(<-chan events.SnapshotEvent); ok {
			return ch
		}
	}
	return nil
}

type MockLoadService struct {
	mock.Mock
}

func (m *MockLoadService) StartLoad(ctx context.Context, slug string, cookies []browser.Cookie, summarizer *unread.Summarizer) error {
	args := m.Called(ctx, slug, cookies, summarizer)
	return args.Error(0)
}

func (m *MockLoadService) Snapshot(slug string) (unread.Snapshot, bool) {
	args := m.Called(slug)
	var snap unread.Snapshot
	if value := args.Get(0); value != nil {
		snap = value.(unread.Snapshot)
	}
	return snap, args.Bool(1)
}

func (m *MockLoadService) Loading(slug string) bool {
	args := m.Called(slug)
	return args.Bool(0)
}

func (m *MockLoadService) Teardown(slug string) {
	m.Called(slug)
}

type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Complete(ctx context.Context, req llm.Request) (llm.Completion, error) {
	args := m.Called(ctx, req)
	var completion llm.Completion
	if value := args.Get(0); value != nil {
		completion = value.(llm.Completion)
	}
	return completion, args.Error(1)
}

func newTestServer(t *testing.T, store store.Store, broker Broker, loads LoadService, cfg config.Config) *httptest.Server {
	t.Helper()
	server := NewServer(store, broker, loads, cfg)
	return httptest.NewServer(server.Router())
}
