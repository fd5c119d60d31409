package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jsonfox/draft-league-bot/internal/audit"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS audit_log (
    id          UUID PRIMARY KEY,
    level       TEXT NOT NULL,
    title       TEXT NOT NULL,
    description TEXT NOT NULL,
    fields      JSONB NOT NULL DEFAULT '[]',
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_log_created_at_idx ON audit_log (created_at DESC);
`

const insertSQL = `
INSERT INTO audit_log (id, level, title, description, fields, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`

// execer is the subset of *pgxpool.Pool the store uses.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type storedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// AuditStore writes audit entries to the audit_log table. It implements
// audit.Sink.
type AuditStore struct {
	db execer
}

// NewAuditStore creates a store on db, typically a *pgxpool.Pool.
func NewAuditStore(db execer) *AuditStore {
	return &AuditStore{db: db}
}

// EnsureSchema creates the audit_log table if it does not exist.
func (s *AuditStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

// Write inserts one entry. Entries are keyed by ID so a retried write is a
// no-op.
func (s *AuditStore) Write(ctx context.Context, e audit.Entry) error {
	fields := make([]storedField, len(e.Fields))
	for i, f := range e.Fields {
		fields[i] = storedField{Name: f.Name, Value: f.Value, Inline: f.Inline}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	_, err = s.db.Exec(ctx, insertSQL, e.ID, string(e.Level), e.Title, e.Description, data, e.Timestamp)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
