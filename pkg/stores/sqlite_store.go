package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"golang.org/x/crypto/blake2b"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/smeltworks/smelt/pkg/diag"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	config Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// Reporter receives digest mismatch diagnostics and decides whether
	// they escalate to hard errors. May be nil.
	Reporter *diag.Reporter
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	return &SQLiteStore{
		config: cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	// Open database with SQLite-specific connection parameters
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.config.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxOpenConns)
	db.SetMaxIdleConns(s.config.MaxIdleConns)
	db.SetConnMaxLifetime(s.config.ConnMaxLifetime)

	// Verify connection and set PRAGMAs
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Ensure foreign keys are enabled (connection-level setting)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	// Create migration source from embedded FS
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	// Create database driver
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	// Create migration instance
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	// Run migrations
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BeginTx starts a new transaction
func (s *SQLiteStore) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: sql.LevelSerializable,
	})
}

// CommitTx commits a transaction
func (s *SQLiteStore) CommitTx(tx *sql.Tx) error {
	return tx.Commit()
}

// RollbackTx rolls back a transaction
func (s *SQLiteStore) RollbackTx(tx *sql.Tx) error {
	return tx.Rollback()
}

// DigestOf returns the hex-encoded BLAKE2b-256 digest of a serialized
// provider payload.
func DigestOf(providers string) string {
	sum := blake2b.Sum256([]byte(providers))
	return hex.EncodeToString(sum[:])
}

// CreateEvaluation creates a new evaluation record
func (s *SQLiteStore) CreateEvaluation(ctx context.Context, eval *Evaluation) error {
	query := `
		INSERT INTO evaluations (id, label, configuration, status, started_at, completed_at, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		eval.ID,
		eval.Label,
		eval.Configuration,
		eval.Status,
		eval.StartedAt,
		eval.CompletedAt,
		eval.Error,
		eval.CreatedAt,
		eval.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create evaluation: %w", err)
	}

	return nil
}

// GetEvaluation retrieves an evaluation by ID
func (s *SQLiteStore) GetEvaluation(ctx context.Context, id string) (*Evaluation, error) {
	query := `
		SELECT id, label, configuration, status, started_at, completed_at, error, created_at, updated_at
		FROM evaluations
		WHERE id = ?
	`

	eval := &Evaluation{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&eval.ID,
		&eval.Label,
		&eval.Configuration,
		&eval.Status,
		&eval.StartedAt,
		&eval.CompletedAt,
		&eval.Error,
		&eval.CreatedAt,
		&eval.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("evaluation not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get evaluation: %w", err)
	}

	return eval, nil
}

// UpdateEvaluationStatus updates the status of an evaluation
func (s *SQLiteStore) UpdateEvaluationStatus(ctx context.Context, id string, status EvaluationStatus, errMsg *string) error {
	query := `
		UPDATE evaluations
		SET status = ?, error = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now()
	var completedAt *time.Time
	if status == EvaluationStatusCompleted || status == EvaluationStatusFailed {
		completedAt = &now
	}

	result, err := s.db.ExecContext(ctx, query, status, errMsg, completedAt, now, id)
	if err != nil {
		return fmt.Errorf("failed to update evaluation status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("evaluation not found: %s", id)
	}

	return nil
}

// ListEvaluations lists evaluations with optional filters and pagination
func (s *SQLiteStore) ListEvaluations(ctx context.Context, label *string, status *EvaluationStatus, limit, offset int) ([]*Evaluation, error) {
	query := `
		SELECT id, label, configuration, status, started_at, completed_at, error, created_at, updated_at
		FROM evaluations
		WHERE (? IS NULL OR label = ?)
		  AND (? IS NULL OR status = ?)
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, label, label, status, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	evals := []*Evaluation{}
	for rows.Next() {
		eval := &Evaluation{}
		err := rows.Scan(
			&eval.ID,
			&eval.Label,
			&eval.Configuration,
			&eval.Status,
			&eval.StartedAt,
			&eval.CompletedAt,
			&eval.Error,
			&eval.CreatedAt,
			&eval.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan evaluation: %w", err)
		}
		evals = append(evals, eval)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating evaluations: %w", err)
	}

	return evals, nil
}

// DeleteEvaluation deletes an evaluation by ID. Analysis results that
// reference it are removed by the foreign key cascade.
func (s *SQLiteStore) DeleteEvaluation(ctx context.Context, id string) error {
	query := `DELETE FROM evaluations WHERE id = ?`

	result, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete evaluation: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("evaluation not found: %s", id)
	}

	return nil
}

// PutResult inserts or updates the analysis result for a configured target.
// The digest is computed here so every stored payload carries one.
func (s *SQLiteStore) PutResult(ctx context.Context, result *AnalysisResult) error {
	result.Digest = DigestOf(result.Providers)

	query := `
		INSERT INTO analysis_results (
			id, label, configuration, provider_names, providers, digest, evaluation_id, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(label, configuration) DO UPDATE SET
			provider_names = excluded.provider_names,
			providers = excluded.providers,
			digest = excluded.digest,
			evaluation_id = excluded.evaluation_id,
			updated_at = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		result.ID,
		result.Label,
		result.Configuration,
		result.ProviderNames,
		result.Providers,
		result.Digest,
		result.EvaluationID,
		result.CreatedAt,
		result.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to put analysis result: %w", err)
	}

	return nil
}

// GetResult retrieves the analysis result for a configured target. The
// stored digest is re-verified against the payload; a mismatch is reported
// as a digest_mismatch diagnostic and becomes a hard error only when the
// reporter escalates that category.
func (s *SQLiteStore) GetResult(ctx context.Context, label, configuration string) (*AnalysisResult, error) {
	query := `
		SELECT id, label, configuration, provider_names, providers, digest, evaluation_id, created_at, updated_at
		FROM analysis_results
		WHERE label = ? AND configuration = ?
	`

	result := &AnalysisResult{}
	err := s.db.QueryRowContext(ctx, query, label, configuration).Scan(
		&result.ID,
		&result.Label,
		&result.Configuration,
		&result.ProviderNames,
		&result.Providers,
		&result.Digest,
		&result.EvaluationID,
		&result.CreatedAt,
		&result.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("analysis result not found: %s (%s)", label, configuration)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get analysis result: %w", err)
	}

	if computed := DigestOf(result.Providers); computed != result.Digest {
		mismatch := fmt.Errorf("stored digest %s does not match computed %s for %s (%s)",
			result.Digest, computed, label, configuration)
		if err := s.soft("digest_mismatch", mismatch); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// ListResults lists analysis results with pagination
func (s *SQLiteStore) ListResults(ctx context.Context, limit, offset int) ([]*AnalysisResult, error) {
	query := `
		SELECT id, label, configuration, provider_names, providers, digest, evaluation_id, created_at, updated_at
		FROM analysis_results
		ORDER BY label, configuration
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list analysis results: %w", err)
	}
	defer rows.Close()

	results := []*AnalysisResult{}
	for rows.Next() {
		result := &AnalysisResult{}
		err := rows.Scan(
			&result.ID,
			&result.Label,
			&result.Configuration,
			&result.ProviderNames,
			&result.Providers,
			&result.Digest,
			&result.EvaluationID,
			&result.CreatedAt,
			&result.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis result: %w", err)
		}
		results = append(results, result)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analysis results: %w", err)
	}

	return results, nil
}

// DeleteResult deletes the analysis result for a configured target
func (s *SQLiteStore) DeleteResult(ctx context.Context, label, configuration string) error {
	query := `DELETE FROM analysis_results WHERE label = ? AND configuration = ?`

	result, err := s.db.ExecContext(ctx, query, label, configuration)
	if err != nil {
		return fmt.Errorf("failed to delete analysis result: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("analysis result not found: %s (%s)", label, configuration)
	}

	return nil
}

// VerifyResults recomputes the digest of every stored analysis result and
// reports which configured targets no longer match their stored digest
func (s *SQLiteStore) VerifyResults(ctx context.Context) (*VerificationReport, error) {
	query := `
		SELECT label, configuration, providers, digest
		FROM analysis_results
		ORDER BY label, configuration
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to verify analysis results: %w", err)
	}
	defer rows.Close()

	report := &VerificationReport{}
	for rows.Next() {
		var label, configuration, providers, digest string
		if err := rows.Scan(&label, &configuration, &providers, &digest); err != nil {
			return nil, fmt.Errorf("failed to scan analysis result: %w", err)
		}
		report.Checked++
		if DigestOf(providers) != digest {
			report.Mismatched = append(report.Mismatched, fmt.Sprintf("%s (%s)", label, configuration))
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating analysis results: %w", err)
	}

	return report, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) soft(category string, err error) error {
	if s.config.Reporter == nil {
		return nil
	}
	return s.config.Reporter.Soft(category, err)
}
