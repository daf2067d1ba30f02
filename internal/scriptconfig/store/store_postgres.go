package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"cookieconsent/internal/scriptconfig/models"
	id "cookieconsent/pkg/domain"
	"cookieconsent/pkg/platform/sentinel"
)

// PostgresStore reads script configurations from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed script configuration store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save upserts a configuration keyed by script ID.
func (s *PostgresStore) Save(ctx context.Context, cfg *models.ScriptConfig) error {
	categories, err := json.Marshal(cfg.Categories)
	if err != nil {
		return fmt.Errorf("marshal script categories: %w", err)
	}
	banner, err := json.Marshal(cfg.BannerConfig)
	if err != nil {
		return fmt.Errorf("marshal banner config: %w", err)
	}
	query := `
		INSERT INTO script_configs (
			script_id, tenant_id, domain, categories, banner_config, default_language,
			supported_languages, cookie_policy_url, webhook_url, external_tool_url,
			is_active, is_published, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (script_id) DO UPDATE SET
			domain = EXCLUDED.domain,
			categories = EXCLUDED.categories,
			banner_config = EXCLUDED.banner_config,
			default_language = EXCLUDED.default_language,
			supported_languages = EXCLUDED.supported_languages,
			cookie_policy_url = EXCLUDED.cookie_policy_url,
			webhook_url = EXCLUDED.webhook_url,
			external_tool_url = EXCLUDED.external_tool_url,
			is_active = EXCLUDED.is_active,
			is_published = EXCLUDED.is_published,
			updated_at = EXCLUDED.updated_at
		WHERE script_configs.tenant_id = EXCLUDED.tenant_id
	`
	res, err := s.db.ExecContext(ctx, query,
		cfg.ScriptID, uuid.UUID(cfg.TenantID), cfg.Domain, categories, banner, cfg.DefaultLanguage,
		pq.Array(cfg.SupportedLanguages), nullString(cfg.CookiePolicyURL), nullString(cfg.WebhookURL),
		nullString(cfg.ExternalToolURL), cfg.IsActive, cfg.IsPublished, cfg.CreatedAt, cfg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save script config: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		// script id taken by another tenant
		return sentinel.ErrConflict
	}
	return nil
}

// FindByScriptID returns the configuration regardless of owner or status.
func (s *PostgresStore) FindByScriptID(ctx context.Context, scriptID string) (*models.ScriptConfig, error) {
	query := `
		SELECT script_id, tenant_id, domain, categories, banner_config, default_language,
			supported_languages, cookie_policy_url, webhook_url, external_tool_url,
			is_active, is_published, created_at, updated_at
		FROM script_configs
		WHERE script_id = $1
	`
	var (
		cfg                                  models.ScriptConfig
		tenantID                             uuid.UUID
		categories, banner                   []byte
		policyURL, webhookURL, externalTool sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, scriptID).Scan(
		&cfg.ScriptID, &tenantID, &cfg.Domain, &categories, &banner, &cfg.DefaultLanguage,
		pq.Array(&cfg.SupportedLanguages), &policyURL, &webhookURL, &externalTool,
		&cfg.IsActive, &cfg.IsPublished, &cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find script config: %w", err)
	}
	if err := json.Unmarshal(categories, &cfg.Categories); err != nil {
		return nil, fmt.Errorf("decode script categories: %w", err)
	}
	if err := json.Unmarshal(banner, &cfg.BannerConfig); err != nil {
		return nil, fmt.Errorf("decode banner config: %w", err)
	}
	cfg.TenantID = id.TenantID(tenantID)
	cfg.CookiePolicyURL = policyURL.String
	cfg.WebhookURL = webhookURL.String
	cfg.ExternalToolURL = externalTool.String
	return &cfg, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
