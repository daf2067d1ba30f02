package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"cookieconsent/internal/tenant/models"
	id "cookieconsent/pkg/domain"
	"cookieconsent/pkg/platform/sentinel"
)

// PostgresStore persists API keys in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed API key store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create stores a new key.
func (s *PostgresStore) Create(ctx context.Context, key *models.APIKey) error {
	query := `
		INSERT INTO api_keys (tenant_id, key_id, key_digest, customer_name, customer_email, is_active, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		uuid.UUID(key.TenantID), key.KeyID, key.KeyDigest, key.CustomerName,
		sql.NullString{String: key.CustomerEmail, Valid: key.CustomerEmail != ""},
		key.IsActive, key.CreatedAt, key.ExpiresAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// FindByKeyID looks a key up by its public identifier.
func (s *PostgresStore) FindByKeyID(ctx context.Context, keyID string) (*models.APIKey, error) {
	query := `
		SELECT tenant_id, key_id, key_digest, customer_name, customer_email, is_active, created_at, expires_at
		FROM api_keys
		WHERE key_id = $1
	`
	var (
		key       models.APIKey
		tenantID  uuid.UUID
		email     sql.NullString
		expiresAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, keyID).Scan(
		&tenantID, &key.KeyID, &key.KeyDigest, &key.CustomerName, &email, &key.IsActive, &key.CreatedAt, &expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find api key: %w", err)
	}
	key.TenantID = id.TenantID(tenantID)
	key.CustomerEmail = email.String
	if expiresAt.Valid {
		t := expiresAt.Time
		key.ExpiresAt = &t
	}
	return &key, nil
}
