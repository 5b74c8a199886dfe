package rulegraph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	id "ruletrace/pkg/domain"
	"ruletrace/pkg/platform/sentinel"
	ptx "ruletrace/pkg/platform/tx"
)

// querier is satisfied by *sql.DB and *sql.Tx, letting reads and writes run
// against either the pool or an ambient transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresStore persists the rule graph in PostgreSQL. Nodes live in rules,
// the concept and source-case edges in side tables with cascading deletes.
// base_id carries the version-lineage prefix so history queries stay indexed.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed rule graph store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the rule-graph schema if it does not exist yet.
func Migrate(ctx context.Context, db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS rules (
			rule_id          TEXT PRIMARY KEY,
			base_id          TEXT NOT NULL,
			rule_text        TEXT NOT NULL,
			confidence_score DOUBLE PRECISION NOT NULL,
			version          INTEGER NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_rules_base ON rules (base_id);

		CREATE TABLE IF NOT EXISTS rule_concepts (
			rule_id TEXT NOT NULL REFERENCES rules (rule_id) ON DELETE CASCADE,
			concept TEXT NOT NULL,
			PRIMARY KEY (rule_id, concept)
		);
		CREATE INDEX IF NOT EXISTS idx_rule_concepts_concept ON rule_concepts (concept);

		CREATE TABLE IF NOT EXISTS rule_sources (
			rule_id TEXT NOT NULL REFERENCES rules (rule_id) ON DELETE CASCADE,
			case_id TEXT NOT NULL,
			PRIMARY KEY (rule_id, case_id)
		);
		CREATE INDEX IF NOT EXISTS idx_rule_sources_case ON rule_sources (case_id);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate rule graph schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, rule *Rule) (*Rule, error) {
	incoming := *rule
	incoming.Normalize()

	// An ambient transaction in the context takes over the write; the caller
	// owns commit and rollback.
	if ambient, ok := ptx.From(ctx); ok {
		if err := upsertRule(ctx, ambient, &incoming); err != nil {
			return nil, err
		}
		return getRule(ctx, ambient, incoming.RuleID)
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() { _ = dbtx.Rollback() }()

	if err := upsertRule(ctx, dbtx, &incoming); err != nil {
		return nil, err
	}
	if err := dbtx.Commit(); err != nil {
		return nil, fmt.Errorf("commit upsert: %w", err)
	}
	return s.Get(ctx, incoming.RuleID)
}

func upsertRule(ctx context.Context, q querier, incoming *Rule) error {
	// created_at survives from the first write; everything scalar overwrites.
	_, err := q.ExecContext(ctx, `
		INSERT INTO rules (rule_id, base_id, rule_text, confidence_score, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (rule_id) DO UPDATE SET
			rule_text        = EXCLUDED.rule_text,
			confidence_score = EXCLUDED.confidence_score,
			version          = EXCLUDED.version,
			updated_at       = EXCLUDED.updated_at
	`, incoming.RuleID.String(), incoming.RuleID.Base().String(), incoming.RuleText,
		incoming.ConfidenceScore, incoming.Version, incoming.CreatedAt, incoming.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert rule: %w", err)
	}

	// Relationship sets merge: inserts are additive, never destructive.
	for _, concept := range incoming.RelatedConcepts {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO rule_concepts (rule_id, concept) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, incoming.RuleID.String(), concept); err != nil {
			return fmt.Errorf("upsert rule concept: %w", err)
		}
	}
	for _, caseID := range incoming.SourceCases {
		if _, err := q.ExecContext(ctx, `
			INSERT INTO rule_sources (rule_id, case_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, incoming.RuleID.String(), caseID.String()); err != nil {
			return fmt.Errorf("upsert rule source: %w", err)
		}
	}
	return nil
}

// ruleSelect aggregates the edge tables into comma-joined strings so one row
// carries a whole node. Concepts and case IDs are underscore-alphanumeric, so
// the comma separator is safe.
const ruleSelect = `
	SELECT r.rule_id, r.rule_text, r.confidence_score, r.version, r.created_at, r.updated_at,
	       COALESCE(string_agg(DISTINCT c.concept, ','), ''),
	       COALESCE(string_agg(DISTINCT s.case_id, ','), '')
	FROM rules r
	LEFT JOIN rule_concepts c ON c.rule_id = r.rule_id
	LEFT JOIN rule_sources  s ON s.rule_id = r.rule_id
`

func scanRule(row interface{ Scan(...any) error }) (*Rule, error) {
	var (
		rule     Rule
		ruleID   string
		concepts string
		cases    string
	)
	err := row.Scan(&ruleID, &rule.RuleText, &rule.ConfidenceScore, &rule.Version,
		&rule.CreatedAt, &rule.UpdatedAt, &concepts, &cases)
	if err != nil {
		return nil, err
	}
	rule.RuleID = id.RuleID(ruleID)
	if concepts != "" {
		rule.RelatedConcepts = strings.Split(concepts, ",")
	} else {
		rule.RelatedConcepts = []string{}
	}
	rule.SourceCases = []id.CaseID{}
	if cases != "" {
		for _, c := range strings.Split(cases, ",") {
			rule.SourceCases = append(rule.SourceCases, id.CaseID(c))
		}
	}
	return &rule, nil
}

func (s *PostgresStore) queryRules(ctx context.Context, where string, order string, limit int, args ...any) ([]*Rule, error) {
	query := ruleSelect
	if where != "" {
		query += " WHERE " + where
	}
	query += " GROUP BY r.rule_id"
	if order != "" {
		query += " ORDER BY " + order
	}
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

func (s *PostgresStore) Get(ctx context.Context, ruleID id.RuleID) (*Rule, error) {
	return getRule(ctx, s.db, ruleID)
}

func getRule(ctx context.Context, q querier, ruleID id.RuleID) (*Rule, error) {
	row := q.QueryRowContext(ctx, ruleSelect+" WHERE r.rule_id = $1 GROUP BY r.rule_id", ruleID.String())
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

const searchOrder = "r.confidence_score DESC, r.updated_at DESC, r.rule_id"

func (s *PostgresStore) Search(ctx context.Context, query SearchQuery) ([]*Rule, error) {
	var (
		clauses []string
		args    []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if query.Policy != "" {
		clauses = append(clauses, "split_part(r.rule_id, '_', 1) = "+arg(strings.ToUpper(query.Policy)))
	}
	for _, keyword := range query.Keywords {
		clauses = append(clauses, "r.rule_text ILIKE "+arg("%"+strings.TrimSpace(keyword)+"%"))
	}
	if len(query.Concepts) > 0 {
		placeholders := make([]string, 0, len(query.Concepts))
		for _, concept := range query.Concepts {
			placeholders = append(placeholders, arg(strings.ToLower(strings.TrimSpace(concept))))
		}
		clauses = append(clauses, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM rule_concepts cc WHERE cc.rule_id = r.rule_id AND cc.concept IN (%s))",
			strings.Join(placeholders, ", ")))
	}

	return s.queryRules(ctx, strings.Join(clauses, " AND "), searchOrder, query.Limit, args...)
}

func (s *PostgresStore) RulesBySourceCase(ctx context.Context, caseID id.CaseID) ([]*Rule, error) {
	where := "EXISTS (SELECT 1 FROM rule_sources ss WHERE ss.rule_id = r.rule_id AND ss.case_id = $1)"
	return s.queryRules(ctx, where, searchOrder, 0, caseID.String())
}

func (s *PostgresStore) VersionHistory(ctx context.Context, ruleID id.RuleID) ([]*Rule, error) {
	return s.queryRules(ctx, "r.base_id = $1", "r.version ASC", 0, ruleID.Base().String())
}

func (s *PostgresStore) MaxVersion(ctx context.Context, ruleID id.RuleID) (int, error) {
	var max int
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM rules WHERE base_id = $1`,
		ruleID.Base().String()).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max rule version: %w", err)
	}
	return max, nil
}

func (s *PostgresStore) Delete(ctx context.Context, ruleID id.RuleID) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM rules WHERE rule_id = $1`, ruleID.String())
	if err != nil {
		return false, fmt.Errorf("delete rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete rule: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) All(ctx context.Context) ([]*Rule, error) {
	return s.queryRules(ctx, "", "r.rule_id", 0)
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op: the pool lifecycle is managed externally.
func (s *PostgresStore) Close() error { return nil }
