package store

import "context"

// Workspace is one Slack team the user has connected. CookiesEnc holds the
// browser session cookies as an AES-GCM ciphertext produced by the secrets
// package; the plaintext never touches the database.
type Workspace struct {
	Slug       string
	TeamName   string
	CookiesEnc string
	CreatedAt  string
	UpdatedAt  string
}

type LLMSettings struct {
	Provider  string
	Model     string
	BaseURL   string
	Org       string
	APIKeyEnc string
	CreatedAt string
	UpdatedAt string
}

type Store interface {
	ListWorkspaces(ctx context.Context) ([]Workspace, error)
	GetWorkspace(ctx context.Context, slug string) (*Workspace, error)
	UpsertWorkspace(ctx context.Context, workspace Workspace) error
	DeleteWorkspace(ctx context.Context, slug string) error
	GetLLMSettings(ctx context.Context) (*LLMSettings, error)
	UpsertLLMSettings(ctx context.Context, settings LLMSettings) error
}
