package stores

import (
	"context"
	"database/sql"
	"time"
)

// EvaluationStatus represents the status of a target evaluation
type EvaluationStatus string

const (
	EvaluationStatusPending   EvaluationStatus = "pending"
	EvaluationStatusRunning   EvaluationStatus = "running"
	EvaluationStatusCompleted EvaluationStatus = "completed"
	EvaluationStatusFailed    EvaluationStatus = "failed"
)

// Evaluation represents a single evaluation of a configured target
type Evaluation struct {
	ID            string           `json:"id"`
	Label         string           `json:"label"`         // unconfigured target label, e.g. root//pkg:lib
	Configuration string           `json:"configuration"` // configuration name, e.g. linux-release
	Status        EvaluationStatus `json:"status"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	Error         *string          `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// AnalysisResult represents the frozen provider collection produced by a
// completed evaluation of a configured target
type AnalysisResult struct {
	ID            string    `json:"id"`
	Label         string    `json:"label"`
	Configuration string    `json:"configuration"`
	ProviderNames string    `json:"provider_names"` // JSON array of provider names
	Providers     string    `json:"providers"`      // JSON blob, serialized provider payloads
	Digest        string    `json:"digest"`         // BLAKE2b-256 of Providers for corruption detection
	EvaluationID  string    `json:"evaluation_id"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// VerificationReport summarizes a digest sweep over stored analysis results
type VerificationReport struct {
	Checked    int      `json:"checked"`
	Mismatched []string `json:"mismatched,omitempty"` // configured labels whose digest did not match
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)
	CommitTx(tx *sql.Tx) error
	RollbackTx(tx *sql.Tx) error

	// Evaluation operations
	CreateEvaluation(ctx context.Context, eval *Evaluation) error
	GetEvaluation(ctx context.Context, id string) (*Evaluation, error)
	UpdateEvaluationStatus(ctx context.Context, id string, status EvaluationStatus, err *string) error
	ListEvaluations(ctx context.Context, label *string, status *EvaluationStatus, limit, offset int) ([]*Evaluation, error)
	DeleteEvaluation(ctx context.Context, id string) error

	// Analysis result operations
	PutResult(ctx context.Context, result *AnalysisResult) error
	GetResult(ctx context.Context, label, configuration string) (*AnalysisResult, error)
	ListResults(ctx context.Context, limit, offset int) ([]*AnalysisResult, error)
	DeleteResult(ctx context.Context, label, configuration string) error
	VerifyResults(ctx context.Context) (*VerificationReport, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
