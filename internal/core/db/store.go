package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/solatis/factkeeper/internal/types"
)

// StoredRule is a rule definition row. The definition column carries the
// full wire-format JSON; name is denormalized for listings.
type StoredRule struct {
	RuleID     string    `db:"rule_id"`
	Name       string    `db:"name"`
	Definition []byte    `db:"definition"`
	Enabled    bool      `db:"enabled"`
	CreatedAt  time.Time `db:"created_at"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// RuleStore persists rule definitions through named queries.
type RuleStore struct {
	queries *Queries
}

// NewRuleStore creates a store over loaded queries.
func NewRuleStore(queries *Queries) *RuleStore {
	return &RuleStore{queries: queries}
}

// Insert stores a new rule definition.
func (s *RuleStore) Insert(id types.RuleID, name string, definition json.RawMessage) (StoredRule, error) {
	if !json.Valid(definition) {
		return StoredRule{}, fmt.Errorf("rule definition is not valid JSON")
	}

	now := time.Now().UTC()
	row := StoredRule{
		RuleID:     string(id),
		Name:       name,
		Definition: definition,
		Enabled:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	// Definition travels as text so it lands in TEXT and JSONB columns alike.
	_, err := s.queries.Exec("insert-rule",
		row.RuleID, row.Name, string(row.Definition), row.Enabled, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return StoredRule{}, fmt.Errorf("insert rule %s: %w", id, err)
	}
	return row, nil
}

// Update replaces the definition of an existing rule.
func (s *RuleStore) Update(id types.RuleID, name string, definition json.RawMessage) error {
	if !json.Valid(definition) {
		return fmt.Errorf("rule definition is not valid JSON")
	}

	res, err := s.queries.Exec("update-rule", name, string(definition), time.Now().UTC(), string(id))
	if err != nil {
		return fmt.Errorf("update rule %s: %w", id, err)
	}
	return requireRow(res, id)
}

// Get fetches one rule by ID.
func (s *RuleStore) Get(id types.RuleID) (StoredRule, error) {
	var row StoredRule
	err := s.queries.Get("get-rule", &row, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return StoredRule{}, fmt.Errorf("rule %s: %w", id, types.ErrRuleNotFound)
	}
	if err != nil {
		return StoredRule{}, fmt.Errorf("get rule %s: %w", id, err)
	}
	return row, nil
}

// List returns all rules ordered by rule_id. UUIDv7 IDs make this creation
// order, which is also the engine's registration order.
func (s *RuleStore) List() ([]StoredRule, error) {
	var rows []StoredRule
	if err := s.queries.Select("list-rules", &rows); err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	return rows, nil
}

// ListEnabled returns enabled rules in the same order as List.
func (s *RuleStore) ListEnabled() ([]StoredRule, error) {
	var rows []StoredRule
	if err := s.queries.Select("list-enabled-rules", &rows); err != nil {
		return nil, fmt.Errorf("list enabled rules: %w", err)
	}
	return rows, nil
}

// SetEnabled flips a rule's enabled flag without touching its definition.
func (s *RuleStore) SetEnabled(id types.RuleID, enabled bool) error {
	res, err := s.queries.Exec("set-rule-enabled", enabled, time.Now().UTC(), string(id))
	if err != nil {
		return fmt.Errorf("set rule %s enabled: %w", id, err)
	}
	return requireRow(res, id)
}

// Delete removes a rule.
func (s *RuleStore) Delete(id types.RuleID) error {
	res, err := s.queries.Exec("delete-rule", string(id))
	if err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	return requireRow(res, id)
}

func requireRow(res sql.Result, id types.RuleID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("rule %s: %w", id, types.ErrRuleNotFound)
	}
	return nil
}
