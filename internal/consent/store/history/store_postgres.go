package history

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

// PostgresStore is the PostgreSQL history log. It only ever inserts.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed history log.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts one history entry.
func (s *PostgresStore) Append(ctx context.Context, e *models.HistoryEntry) error {
	query := `
		INSERT INTO consent_history (
			id, consent_id, tenant_id, session_id, action, previous_categories,
			new_categories, ip_address, user_agent, metadata, timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(e.ID), uuid.UUID(e.ConsentID), uuid.UUID(e.TenantID), e.SessionID, e.Action,
		e.PreviousCategories, e.NewCategories, nullString(e.IPAddress), nullString(e.UserAgent),
		models.Categories(e.Metadata), e.Timestamp,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("append consent history: %w", sentinel.ErrConflict)
		}
		return fmt.Errorf("append consent history: %w", err)
	}
	return nil
}

const historyColumns = `id, consent_id, tenant_id, session_id, action, previous_categories,
	new_categories, ip_address, user_agent, metadata, timestamp`

// ListByConsent returns the tenant's entries for one consent, oldest first.
func (s *PostgresStore) ListByConsent(ctx context.Context, tenantID id.TenantID, consentID id.ConsentID) ([]*models.HistoryEntry, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM consent_history
		WHERE tenant_id = $1 AND consent_id = $2
		ORDER BY timestamp ASC, id ASC
	`
	return s.list(ctx, query, uuid.UUID(tenantID), uuid.UUID(consentID))
}

// ListBySession returns the tenant's entries for one session, oldest first.
func (s *PostgresStore) ListBySession(ctx context.Context, tenantID id.TenantID, sessionID string) ([]*models.HistoryEntry, error) {
	query := `
		SELECT ` + historyColumns + `
		FROM consent_history
		WHERE tenant_id = $1 AND session_id = $2
		ORDER BY timestamp ASC, id ASC
	`
	return s.list(ctx, query, uuid.UUID(tenantID), sessionID)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*models.HistoryEntry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list consent history: %w", err)
	}
	defer rows.Close()

	out := make([]*models.HistoryEntry, 0)
	for rows.Next() {
		var (
			e                             models.HistoryEntry
			entryID, consentID, tenantID  uuid.UUID
			ipAddress, userAgent          sql.NullString
			metadata                      models.Categories
		)
		if err := rows.Scan(&entryID, &consentID, &tenantID, &e.SessionID, &e.Action,
			&e.PreviousCategories, &e.NewCategories, &ipAddress, &userAgent, &metadata, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan consent history: %w", err)
		}
		e.ID = id.HistoryEntryID(entryID)
		e.ConsentID = id.ConsentID(consentID)
		e.TenantID = id.TenantID(tenantID)
		e.IPAddress = ipAddress.String
		e.UserAgent = userAgent.String
		e.Metadata = metadata
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate consent history: %w", err)
	}
	return out, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
