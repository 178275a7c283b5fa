package memory

import (
	"context"
	"testing"

	"github.com/catchup-hq/catchup/internal/store"
)

func TestWorkspaces_UpsertGetList(t *testing.T) {
	m := New()
	ctx := context.Background()

	if err := m.UpsertWorkspace(ctx, store.Workspace{Slug: "beta", CookiesEnc: "b", CreatedAt: "t1", UpdatedAt: "t1"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := m.UpsertWorkspace(ctx, store.Workspace{Slug: "alpha", CookiesEnc: "a", CreatedAt: "t2", UpdatedAt: "t2"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	workspace, err := m.GetWorkspace(ctx, "beta")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if workspace == nil || workspace.CookiesEnc != "b" {
		t.Fatalf("unexpected workspace: %+v", workspace)
	}

	list, err := m.ListWorkspaces(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 workspaces, got %d", len(list))
	}
	if list[0].Slug != "alpha" || list[1].Slug != "beta" {
		t.Fatalf("expected slug-sorted list, got %v, %v", list[0].Slug, list[1].Slug)
	}
}

func TestWorkspaces_UpsertKeepsCreatedAt(t *testing.T) {
	m := New()
	ctx := context.Background()

	if err := m.UpsertWorkspace(ctx, store.Workspace{Slug: "team", CookiesEnc: "v1", CreatedAt: "t1", UpdatedAt: "t1"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := m.UpsertWorkspace(ctx, store.Workspace{Slug: "team", CookiesEnc: "v2", UpdatedAt: "t2"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	workspace, err := m.GetWorkspace(ctx, "team")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if workspace.CookiesEnc != "v2" {
		t.Fatalf("expected updated cookies, got %q", workspace.CookiesEnc)
	}
	if workspace.CreatedAt != "t1" {
		t.Fatalf("expected original CreatedAt, got %q", workspace.CreatedAt)
	}
}

func TestWorkspaces_GetMissing(t *testing.T) {
	m := New()

	workspace, err := m.GetWorkspace(context.Background(), "nope")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if workspace != nil {
		t.Fatalf("expected nil workspace, got %+v", workspace)
	}
}

func TestWorkspaces_Delete(t *testing.T) {
	m := New()
	ctx := context.Background()

	if err := m.UpsertWorkspace(ctx, store.Workspace{Slug: "team"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := m.DeleteWorkspace(ctx, "team"); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	workspace, err := m.GetWorkspace(ctx, "team")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if workspace != nil {
		t.Fatalf("expected workspace to be deleted, got %+v", workspace)
	}
}

func TestLLMSettings_RoundTrip(t *testing.T) {
	m := New()
	ctx := context.Background()

	settings, err := m.GetLLMSettings(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if settings != nil {
		t.Fatalf("expected nil settings, got %+v", settings)
	}

	if err := m.UpsertLLMSettings(ctx, store.LLMSettings{Provider: "openai", Model: "gpt-4o-mini", CreatedAt: "t1", UpdatedAt: "t1"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if err := m.UpsertLLMSettings(ctx, store.LLMSettings{Provider: "openai", Model: "gpt-4o", UpdatedAt: "t2"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	settings, err = m.GetLLMSettings(ctx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if settings.Model != "gpt-4o" {
		t.Fatalf("expected updated model, got %q", settings.Model)
	}
	if settings.CreatedAt != "t1" {
		t.Fatalf("expected original CreatedAt, got %q", settings.CreatedAt)
	}
}
