package rules

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRuleStore implements RuleStore backed by PostgreSQL. Registration
// order is kept by the serial seq column.
type PostgresRuleStore struct {
	db *sql.DB
}

// NewPostgresRuleStore creates a new PostgreSQL-backed RuleStore
func NewPostgresRuleStore(db *sql.DB) *PostgresRuleStore {
	return &PostgresRuleStore{db: db}
}

const ruleColumns = `id, name, rule_type, parameters, active, severity, created_at, updated_at`

// Add inserts a new rule into the database
func (s *PostgresRuleStore) Add(rule *Rule) error {
	var exists bool
	err := s.db.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM validation_rules WHERE id = $1)
	`, rule.ID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check rule existence: %w", err)
	}
	if exists {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrDuplicateRule)
	}

	params, err := EncodeParams(rule.Params)
	if err != nil {
		return err
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.Exec(`
		INSERT INTO validation_rules (id, name, rule_type, parameters, active, severity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rule.ID, rule.Name, string(rule.Kind), []byte(params), rule.Active,
		rule.Severity.String(), rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var (
		r        Rule
		kind     string
		params   []byte
		severity string
	)
	if err := row.Scan(&r.ID, &r.Name, &kind, &params, &r.Active, &severity,
		&r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Kind = Kind(kind)
	decoded, err := DecodeParams(r.Kind, params)
	if err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	r.Params = decoded
	if r.Severity, err = ParseSeverity(severity); err != nil {
		return nil, fmt.Errorf("rule %s: %w", r.ID, err)
	}
	return &r, nil
}

// Get retrieves a rule by ID
func (s *PostgresRuleStore) Get(id string) (*Rule, error) {
	row := s.db.QueryRow(`
		SELECT `+ruleColumns+`
		FROM validation_rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return rule, nil
}

// List returns all rules in registration order
func (s *PostgresRuleStore) List() ([]*Rule, error) {
	return s.query(`
		SELECT ` + ruleColumns + `
		FROM validation_rules
		ORDER BY seq ASC
	`)
}

// ListActive returns all active rules in registration order
func (s *PostgresRuleStore) ListActive() ([]*Rule, error) {
	return s.query(`
		SELECT ` + ruleColumns + `
		FROM validation_rules
		WHERE active = true
		ORDER BY seq ASC
	`)
}

func (s *PostgresRuleStore) query(q string) ([]*Rule, error) {
	rows, err := s.db.Query(q)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	rulesList := []*Rule{}
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rulesList = append(rulesList, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rules: %w", err)
	}

	return rulesList, nil
}

// Update modifies an existing rule. seq and created_at are left untouched.
func (s *PostgresRuleStore) Update(rule *Rule) error {
	params, err := EncodeParams(rule.Params)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()

	var createdAt time.Time
	err = s.db.QueryRow(`
		UPDATE validation_rules
		SET name = $1, rule_type = $2, parameters = $3, active = $4, severity = $5, updated_at = $6
		WHERE id = $7
		RETURNING created_at
	`, rule.Name, string(rule.Kind), []byte(params), rule.Active, rule.Severity.String(),
		rule.UpdatedAt, rule.ID).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("rule with ID %s: %w", rule.ID, ErrRuleNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}

	rule.CreatedAt = createdAt
	return nil
}

// Delete removes a rule from the database
func (s *PostgresRuleStore) Delete(id string) error {
	result, err := s.db.Exec(`
		DELETE FROM validation_rules
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("rule with ID %s: %w", id, ErrRuleNotFound)
	}

	return nil
}
