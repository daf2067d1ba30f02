package consent

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"cookieconsent/internal/consent/models"
	id "cookieconsent/pkg/domain"
	"cookieconsent/pkg/platform/sentinel"
	txcontext "cookieconsent/pkg/platform/tx"
)

// PostgresStore persists consents in PostgreSQL. When a transaction is present
// in the context all statements run inside it.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed consent store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const consentColumns = `id, tenant_id, session_id, user_id, script_id, consent_categories,
	ip_address, user_agent, status, created_at, updated_at, expires_at, revoked_at`

// Create inserts a new consent.
func (s *PostgresStore) Create(ctx context.Context, c *models.Consent) error {
	query := `
		INSERT INTO consents (` + consentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID), uuid.UUID(c.TenantID), c.SessionID,
		nullString(c.UserID), nullString(c.ScriptID), c.Categories,
		nullString(c.IPAddress), nullString(c.UserAgent), string(c.Status),
		c.CreatedAt, c.UpdatedAt, c.ExpiresAt, c.RevokedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("create consent: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("create consent: %w", err)
	}
	return nil
}

// Update overwrites a consent's mutable fields. The tenant predicate keeps a
// cross-tenant write from matching any row.
func (s *PostgresStore) Update(ctx context.Context, c *models.Consent) error {
	query := `
		UPDATE consents
		SET consent_categories = $3, ip_address = $4, user_agent = $5, status = $6,
			updated_at = $7, expires_at = $8, revoked_at = $9
		WHERE id = $1 AND tenant_id = $2
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(c.ID), uuid.UUID(c.TenantID), c.Categories,
		nullString(c.IPAddress), nullString(c.UserAgent), string(c.Status),
		c.UpdatedAt, c.ExpiresAt, c.RevokedAt,
	)
	if err != nil {
		return fmt.Errorf("update consent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update consent rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// FindByID returns the consent only if it belongs to the tenant. Inside a
// transaction the row stays locked until commit so read-modify-write units on
// one consent run one after another.
func (s *PostgresStore) FindByID(ctx context.Context, tenantID id.TenantID, consentID id.ConsentID) (*models.Consent, error) {
	query := `SELECT ` + consentColumns + ` FROM consents WHERE id = $1 AND tenant_id = $2`
	if _, inTx := txcontext.From(ctx); inTx {
		query += ` FOR UPDATE`
	}
	c, err := scanConsent(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(consentID), uuid.UUID(tenantID)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find consent by id: %w", err)
	}
	return c, nil
}

// FindLatestActive returns the most recently created active consent for the
// tenant's session. Consent IDs are UUIDv7, so id DESC breaks created_at ties
// in insert order.
func (s *PostgresStore) FindLatestActive(ctx context.Context, tenantID id.TenantID, sessionID, scriptID string) (*models.Consent, error) {
	query := `
		SELECT ` + consentColumns + `
		FROM consents
		WHERE tenant_id = $1 AND session_id = $2 AND status = 'active'
			AND ($3::text = '' OR script_id = $3)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	c, err := scanConsent(s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(tenantID), sessionID, scriptID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find latest active consent: %w", err)
	}
	return c, nil
}

func scanConsent(row *sql.Row) (*models.Consent, error) {
	var (
		c                                     models.Consent
		consentID, tenantID                   uuid.UUID
		userID, scriptID, ipAddress, userAgnt sql.NullString
		status                                string
		expiresAt, revokedAt                  sql.NullTime
	)
	if err := row.Scan(&consentID, &tenantID, &c.SessionID, &userID, &scriptID, &c.Categories,
		&ipAddress, &userAgnt, &status, &c.CreatedAt, &c.UpdatedAt, &expiresAt, &revokedAt); err != nil {
		return nil, err
	}
	c.ID = id.ConsentID(consentID)
	c.TenantID = id.TenantID(tenantID)
	c.UserID = userID.String
	c.ScriptID = scriptID.String
	c.IPAddress = ipAddress.String
	c.UserAgent = userAgnt.String
	c.Status = models.Status(status)
	if expiresAt.Valid {
		t := expiresAt.Time
		c.ExpiresAt = &t
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		c.RevokedAt = &t
	}
	return &c, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
