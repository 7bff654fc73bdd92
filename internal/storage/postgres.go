package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"exam-grader/internal/grader"
)

var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS grading_jobs (
	id                 TEXT PRIMARY KEY,
	question_id        INTEGER NOT NULL,
	mode               TEXT NOT NULL,
	submitter          TEXT NOT NULL DEFAULT '',
	source_hash        TEXT NOT NULL,
	source             TEXT NOT NULL,
	score              INTEGER NOT NULL,
	max_score          INTEGER NOT NULL,
	status             TEXT NOT NULL,
	message            TEXT NOT NULL DEFAULT '',
	complexity         TEXT NOT NULL DEFAULT '',
	optimization_score INTEGER NOT NULL DEFAULT 0,
	used_stub          BOOLEAN NOT NULL DEFAULT FALSE,
	duration_ms        BIGINT NOT NULL,
	created_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS grading_jobs_question_idx ON grading_jobs (question_id, created_at DESC);

CREATE TABLE IF NOT EXISTS submissions (
	id                 TEXT PRIMARY KEY,
	submitter          TEXT NOT NULL UNIQUE,
	name               TEXT NOT NULL DEFAULT '',
	coding_score       INTEGER NOT NULL,
	coding_max_score   INTEGER NOT NULL,
	optimization_score DOUBLE PRECISION NOT NULL,
	optimization_bonus INTEGER NOT NULL,
	total_score        INTEGER NOT NULL,
	max_score          INTEGER NOT NULL,
	tab_switch_count   INTEGER NOT NULL DEFAULT 0,
	results            JSONB NOT NULL,
	processing_ms      BIGINT NOT NULL,
	submitted_at       TIMESTAMPTZ NOT NULL
);`

// DB wraps a PostgreSQL connection pool holding submissions and the job log.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool and applies the schema.
func New(ctx context.Context, dsn string) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database DSN: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 2
	config.MaxConnLifetime = 5 * time.Minute
	config.MaxConnIdleTime = 1 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")
	return &DB{pool: pool}, nil
}

// Close shuts down the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Healthy checks database connectivity.
func (db *DB) Healthy(ctx context.Context) bool {
	return db.pool.Ping(ctx) == nil
}

// LogJob inserts a graded job into the job log. Re-logging a job is a no-op.
func (db *DB) LogJob(ctx context.Context, rec *JobRecord) error {
	query := `
		INSERT INTO grading_jobs (id, question_id, mode, submitter, source_hash, source,
			score, max_score, status, message, complexity, optimization_score,
			used_stub, duration_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING`

	_, err := db.pool.Exec(ctx, query,
		rec.ID, rec.QuestionID, rec.Mode, rec.Submitter, rec.SourceHash,
		truncateForDB(rec.Source, 65535),
		rec.Score, rec.MaxScore, rec.Status,
		truncateForDB(rec.Message, 65535),
		rec.Complexity, rec.OptimizationScore, rec.UsedStub,
		rec.DurationMS, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	return nil
}

// SaveSubmission stores a graded submission. A second submission for the same
// submitter fails with grader.ErrDuplicate.
func (db *DB) SaveSubmission(ctx context.Context, sub *grader.SubmissionResult) error {
	results, err := json.Marshal(sub.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	query := `
		INSERT INTO submissions (id, submitter, name, coding_score, coding_max_score,
			optimization_score, optimization_bonus, total_score, max_score,
			tab_switch_count, results, processing_ms, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (submitter) DO NOTHING`

	tag, err := db.pool.Exec(ctx, query,
		sub.ID, sub.Submitter, sub.Name, sub.CodingScore, sub.CodingMaxScore,
		sub.OptimizationScore, sub.OptimizationBonus, sub.TotalScore, sub.MaxScore,
		sub.TabSwitchCount, results, sub.ProcessingMS, sub.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return grader.ErrDuplicate
	}
	return nil
}

// SubmissionExists reports whether submitter already has a stored submission.
func (db *DB) SubmissionExists(ctx context.Context, submitter string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM submissions WHERE submitter = $1)`, submitter,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("querying submission for %s: %w", submitter, err)
	}
	return exists, nil
}

// GetSubmission retrieves a single submission, with results, by ID.
func (db *DB) GetSubmission(ctx context.Context, id string) (*grader.SubmissionResult, error) {
	query := `
		SELECT id, submitter, name, coding_score, coding_max_score,
			optimization_score, optimization_bonus, total_score, max_score,
			tab_switch_count, results, processing_ms, submitted_at
		FROM submissions WHERE id = $1`

	var sub grader.SubmissionResult
	var results []byte
	err := db.pool.QueryRow(ctx, query, id).Scan(
		&sub.ID, &sub.Submitter, &sub.Name, &sub.CodingScore, &sub.CodingMaxScore,
		&sub.OptimizationScore, &sub.OptimizationBonus, &sub.TotalScore, &sub.MaxScore,
		&sub.TabSwitchCount, &results, &sub.ProcessingMS, &sub.SubmittedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying submission %s: %w", id, err)
	}
	if err := json.Unmarshal(results, &sub.Results); err != nil {
		return nil, fmt.Errorf("unmarshal results of %s: %w", id, err)
	}
	return &sub, nil
}

// ListSubmissions queries submissions with optional filters, best scores first.
func (db *DB) ListSubmissions(ctx context.Context, filter SubmissionFilter) ([]SubmissionSummary, error) {
	query := `
		SELECT id, submitter, name, coding_score, optimization_bonus, total_score,
			max_score, tab_switch_count, submitted_at
		FROM submissions
		WHERE ($1 = '' OR submitter = $1)
		  AND total_score >= $2
		  AND ($3::timestamptz IS NULL OR submitted_at >= $3)
		ORDER BY total_score DESC, submitted_at ASC
		LIMIT $4 OFFSET $5`

	rows, err := db.pool.Query(ctx, query,
		filter.Submitter, filter.MinScore, filter.Since, normalizeLimit(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying submissions: %w", err)
	}
	defer rows.Close()

	var results []SubmissionSummary
	for rows.Next() {
		var s SubmissionSummary
		if err := rows.Scan(
			&s.ID, &s.Submitter, &s.Name, &s.CodingScore, &s.OptimizationBonus,
			&s.TotalScore, &s.MaxScore, &s.TabSwitchCount, &s.SubmittedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning submission row: %w", err)
		}
		results = append(results, s)
	}

	return results, rows.Err()
}

// DeleteSubmission deletes one submission by ID and returns its submitter.
func (db *DB) DeleteSubmission(ctx context.Context, id string) (string, error) {
	var submitter string
	err := db.pool.QueryRow(ctx, `DELETE FROM submissions WHERE id = $1 RETURNING submitter`, id).Scan(&submitter)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("submission %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("deleting submission %s: %w", id, err)
	}
	return submitter, nil
}

// ClearSubmissions deletes every stored submission and returns how many.
func (db *DB) ClearSubmissions(ctx context.Context) (int64, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM submissions`)
	if err != nil {
		return 0, fmt.Errorf("deleting submissions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}

func truncateForDB(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
