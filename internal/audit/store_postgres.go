package audit

import (
	"context"
	"database/sql"
	"fmt"

	id "ruletrace/pkg/domain"
)

// PostgresStore persists audit events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed audit sink.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the audit schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS trace_audit_events (
			id         TEXT PRIMARY KEY,
			ts         TIMESTAMPTZ NOT NULL,
			action     TEXT NOT NULL,
			rule_id    TEXT NOT NULL DEFAULT '',
			case_id    TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT '',
			detail     TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_trace_audit_rule ON trace_audit_events (rule_id);
		CREATE INDEX IF NOT EXISTS idx_trace_audit_ts ON trace_audit_events (ts);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trace_audit_events (id, ts, action, rule_id, case_id, request_id, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.ID, event.Timestamp, string(event.Action), event.RuleID.String(),
		event.CaseID.String(), event.RequestID, event.Detail)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByRule(ctx context.Context, ruleID id.RuleID) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, action, rule_id, case_id, request_id, detail
		FROM trace_audit_events WHERE rule_id = $1 ORDER BY ts ASC
	`, ruleID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events by rule: %w", err)
	}
	return collectEvents(rows)
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, ts, action, rule_id, case_id, request_id, detail
		FROM trace_audit_events ORDER BY ts DESC LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent audit events: %w", err)
	}
	return collectEvents(rows)
}

func collectEvents(rows *sql.Rows) ([]Event, error) {
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event  Event
			action string
			ruleID string
			caseID string
		)
		if err := rows.Scan(&event.ID, &event.Timestamp, &action, &ruleID,
			&caseID, &event.RequestID, &event.Detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		event.Action = Action(action)
		event.RuleID = id.RuleID(ruleID)
		event.CaseID = id.CaseID(caseID)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
