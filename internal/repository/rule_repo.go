package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mailsweep/internal/model"
)

// ErrRuleNotFound is returned when no rule has the requested name.
var ErrRuleNotFound = errors.New("rule not found")

type RuleRepository struct {
	db *pgxpool.Pool
}

func NewRuleRepository(db *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `id, name, enabled, criteria, schedule_cron, schedule_seconds, description, last_run`

// List returns every rule ordered by name.
func (r *RuleRepository) List(ctx context.Context) ([]model.CleanupRule, error) {
	defer observe("select", "cleanup_rules", time.Now())
	rows, err := r.db.Query(ctx, `SELECT `+ruleColumns+` FROM cleanup_rules ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []model.CleanupRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

// Get returns the rule called name.
func (r *RuleRepository) Get(ctx context.Context, name string) (*model.CleanupRule, error) {
	defer observe("select", "cleanup_rules", time.Now())
	row := r.db.QueryRow(ctx, `SELECT `+ruleColumns+` FROM cleanup_rules WHERE name = $1`, name)
	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRuleNotFound
	}
	return rule, err
}

// Upsert creates or replaces a rule by name. LastRun is left untouched.
func (r *RuleRepository) Upsert(ctx context.Context, rule *model.CleanupRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	criteria, err := json.Marshal(rule.Criteria)
	if err != nil {
		return fmt.Errorf("encode criteria: %w", err)
	}
	defer observe("upsert", "cleanup_rules", time.Now())
	query := `
        INSERT INTO cleanup_rules (name, enabled, criteria, schedule_cron, schedule_seconds, description)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (name) DO UPDATE SET
            enabled = EXCLUDED.enabled,
            criteria = EXCLUDED.criteria,
            schedule_cron = EXCLUDED.schedule_cron,
            schedule_seconds = EXCLUDED.schedule_seconds,
            description = EXCLUDED.description
        RETURNING id
    `
	return r.db.QueryRow(ctx, query,
		rule.Name,
		rule.Enabled,
		criteria,
		rule.Schedule.Cron,
		int64(rule.Schedule.Interval/time.Second),
		rule.Description,
	).Scan(&rule.ID)
}

// Delete removes a rule. Rules are only ever removed on explicit request.
func (r *RuleRepository) Delete(ctx context.Context, name string) error {
	defer observe("delete", "cleanup_rules", time.Now())
	tag, err := r.db.Exec(ctx, `DELETE FROM cleanup_rules WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// MarkRun records when a rule last ran.
func (r *RuleRepository) MarkRun(ctx context.Context, name string, at time.Time) error {
	defer observe("update", "cleanup_rules", time.Now())
	tag, err := r.db.Exec(ctx, `UPDATE cleanup_rules SET last_run = $1 WHERE name = $2`, at, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func scanRule(row pgx.Row) (*model.CleanupRule, error) {
	var (
		rule     model.CleanupRule
		criteria []byte
		seconds  int64
	)
	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Enabled,
		&criteria,
		&rule.Schedule.Cron,
		&seconds,
		&rule.Description,
		&rule.LastRun,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(criteria, &rule.Criteria); err != nil {
		return nil, fmt.Errorf("decode criteria of rule %s: %w", rule.Name, err)
	}
	rule.Schedule.Interval = time.Duration(seconds) * time.Second
	return &rule, nil
}
