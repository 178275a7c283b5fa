package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/catchup-hq/catchup/internal/store"
)

type PostgresStore struct {
	db *sql.DB
}

var openDB = sql.Open

func New(conn string) (*PostgresStore, error) {
	db, err := openDB("pgx", conn)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := verifySchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func verifySchema(ctx context.Context, db *sql.DB) error {
	required := []string{
		"workspaces",
		"llm_settings",
	}
	for _, table := range required {
		var regclass sql.NullString
		if err := db.QueryRowContext(ctx, "SELECT to_regclass($1)", fmt.Sprintf("public.%s", table)).Scan(&regclass); err != nil {
			return err
		}
		if !regclass.Valid {
			return fmt.Errorf("database schema missing: %s table not found (run migrations/001_init.sql)", table)
		}
	}
	return nil
}

func (p *PostgresStore) ListWorkspaces(ctx context.Context) ([]store.Workspace, error) {
	const query = `
		SELECT slug, team_name, cookies_enc, created_at, updated_at
		FROM workspaces
		ORDER BY slug
	`
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []store.Workspace
	for rows.Next() {
		var workspace store.Workspace
		var teamName sql.NullString
		if err := rows.Scan(&workspace.Slug, &teamName, &workspace.CookiesEnc, &workspace.CreatedAt, &workspace.UpdatedAt); err != nil {
			return nil, err
		}
		workspace.TeamName = teamName.String
		results = append(results, workspace)
	}
	return results, rows.Err()
}

func (p *PostgresStore) GetWorkspace(ctx context.Context, slug string) (*store.Workspace, error) {
	const query = `
		SELECT slug, team_name, cookies_enc, created_at, updated_at
		FROM workspaces
		WHERE slug = $1
	`
	var workspace store.Workspace
	var teamName sql.NullString
	err := p.db.QueryRowContext(ctx, query, slug).Scan(&workspace.Slug, &teamName, &workspace.CookiesEnc, &workspace.CreatedAt, &workspace.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	workspace.TeamName = teamName.String
	return &workspace, nil
}

func (p *PostgresStore) UpsertWorkspace(ctx context.Context, workspace store.Workspace) error {
	const query = `
		INSERT INTO workspaces (slug, team_name, cookies_enc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (slug) DO UPDATE SET
			team_name = EXCLUDED.team_name,
			cookies_enc = EXCLUDED.cookies_enc,
			updated_at = EXCLUDED.updated_at
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		workspace.Slug,
		nullString(workspace.TeamName),
		workspace.CookiesEnc,
		workspace.CreatedAt,
		workspace.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) DeleteWorkspace(ctx context.Context, slug string) error {
	_, err := p.db.ExecContext(ctx, "DELETE FROM workspaces WHERE slug = $1", slug)
	return err
}

func (p *PostgresStore) GetLLMSettings(ctx context.Context) (*store.LLMSettings, error) {
	const query = `
		SELECT provider, model, base_url, org, api_key_enc, created_at, updated_at
		FROM llm_settings
		WHERE id = 1
	`
	var settings store.LLMSettings
	var baseURL, org, apiKeyEnc sql.NullString
	err := p.db.QueryRowContext(ctx, query).Scan(&settings.Provider, &settings.Model, &baseURL, &org, &apiKeyEnc, &settings.CreatedAt, &settings.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	settings.BaseURL = baseURL.String
	settings.Org = org.String
	settings.APIKeyEnc = apiKeyEnc.String
	return &settings, nil
}

func (p *PostgresStore) UpsertLLMSettings(ctx context.Context, settings store.LLMSettings) error {
	const query = `
		INSERT INTO llm_settings (id, provider, model, base_url, org, api_key_enc, created_at, updated_at)
		VALUES (1, $1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			base_url = EXCLUDED.base_url,
			org = EXCLUDED.org,
			api_key_enc = EXCLUDED.api_key_enc,
			updated_at = EXCLUDED.updated_at
	`
	_, err := p.db.ExecContext(
		ctx,
		query,
		settings.Provider,
		settings.Model,
		nullString(settings.BaseURL),
		nullString(settings.Org),
		nullString(settings.APIKeyEnc),
		settings.CreatedAt,
		settings.UpdatedAt,
	)
	return err
}

func nullString(value string) sql.NullString {
	if value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: value, Valid: true}
}
