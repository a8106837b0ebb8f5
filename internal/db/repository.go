package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/leozw/health-guardian/internal/core"
)

type Repository struct {
	db *sqlx.DB
}

func NewConnection(databaseURL string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, err
	}

	if maxOpen <= 0 {
		maxOpen = 25
	}
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the pool for probes that query marketplace tables.
func (r *Repository) DB() *sqlx.DB {
	return r.db
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Health check results
func (r *Repository) SaveResult(ctx context.Context, res *core.ModuleResult) error {
	p := core.NewPersistedResult(res)
	query := `
		INSERT INTO health_check_results (
			module, display_name, status, score, checks, metrics,
			warnings, errors, recommendations, execution_time_ms, timestamp
		) VALUES (
			:module, :display_name, :status, :score, :checks, :metrics,
			:warnings, :errors, :recommendations, :execution_time_ms, :timestamp
		)`

	_, err := r.db.NamedExecContext(ctx, query, p)
	if err != nil {
		return fmt.Errorf("failed to save result for %s: %w", res.Module, err)
	}
	return nil
}

func (r *Repository) ListResults(ctx context.Context, q core.HistoryQuery) ([]core.PersistedResult, error) {
	var (
		where []string
		args  []interface{}
	)
	if q.Module != "" {
		args = append(args, q.Module)
		where = append(where, fmt.Sprintf("module = $%d", len(args)))
	}
	if q.Start != nil {
		args = append(args, *q.Start)
		where = append(where, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if q.End != nil {
		args = append(args, *q.End)
		where = append(where, fmt.Sprintf("created_at <= $%d", len(args)))
	}

	query := `SELECT * FROM health_check_results`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, q.Limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args))
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	results := []core.PersistedResult{}
	if err := r.db.SelectContext(ctx, &results, query, args...); err != nil {
		return nil, err
	}
	return results, nil
}

// Summaries
func (r *Repository) SaveSummary(ctx context.Context, s *core.SystemHealthSummary) error {
	p := core.PersistedSummary{
		SweepID:       s.SweepID,
		OverallStatus: s.Overall,
		OverallScore:  s.OverallScore,
		Data:          core.SummaryData(*s),
	}
	query := `
		INSERT INTO health_check_summaries (sweep_id, overall_status, overall_score, data)
		VALUES (:sweep_id, :overall_status, :overall_score, :data)`

	_, err := r.db.NamedExecContext(ctx, query, p)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

func (r *Repository) ListSummaries(ctx context.Context, limit int) ([]core.PersistedSummary, error) {
	summaries := []core.PersistedSummary{}
	query := `
		SELECT * FROM health_check_summaries
		ORDER BY created_at DESC, id DESC
		LIMIT $1`

	err := r.db.SelectContext(ctx, &summaries, query, limit)
	return summaries, err
}

// Provider credentials
func (r *Repository) GetAPIKey(ctx context.Context, provider string) (*core.APIKey, error) {
	var key core.APIKey
	query := `
		SELECT provider, key, is_active FROM api_keys
		WHERE provider = $1
		ORDER BY is_active DESC
		LIMIT 1`

	err := r.db.GetContext(ctx, &key, query, provider)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// Remediation log
func (r *Repository) SaveRemediation(ctx context.Context, rec *core.RemediationRecord) error {
	query := `
		INSERT INTO health_remediation_log (
			rule_id, module, success, actions_executed, error,
			score_before, score_after, timestamp
		) VALUES (
			:rule_id, :module, :success, :actions_executed, :error,
			:score_before, :score_after, :timestamp
		)`

	_, err := r.db.NamedExecContext(ctx, query, rec)
	if err != nil {
		return fmt.Errorf("failed to save remediation for %s: %w", rec.Module, err)
	}
	return nil
}

func (r *Repository) ListRemediations(ctx context.Context, limit int) ([]core.RemediationRecord, error) {
	records := []core.RemediationRecord{}
	query := `
		SELECT * FROM health_remediation_log
		ORDER BY timestamp DESC, id DESC
		LIMIT $1`

	err := r.db.SelectContext(ctx, &records, query, limit)
	return records, err
}

// PruneHistory deletes results and summaries created before the cutoff.
func (r *Repository) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var total int64
	for _, query := range []string{
		`DELETE FROM health_check_results WHERE created_at < $1`,
		`DELETE FROM health_check_summaries WHERE created_at < $1`,
	} {
		res, err := tx.ExecContext(ctx, query, before)
		if err != nil {
			return 0, fmt.Errorf("failed to prune history: %w", err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, tx.Commit()
}
