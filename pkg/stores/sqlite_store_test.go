package stores

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/smeltworks/smelt/pkg/diag"
)

// setupTestStore creates an in-memory SQLite store for testing
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return setupTestStoreWithReporter(t, nil)
}

// setupTestStoreWithReporter creates an in-memory store with a diagnostics
// reporter attached
func setupTestStoreWithReporter(t *testing.T, reporter *diag.Reporter) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
		// A single connection keeps the in-memory database visible to
		// every query.
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		Reporter:     reporter,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	return store
}

// TestStoreLifecycle tests database initialization and closure
func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path: ":memory:",
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}

	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

// TestStoreMigrations tests database migrations
func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()

	// Check that tables exist by querying them
	tables := []string{"evaluations", "analysis_results"}
	for _, table := range tables {
		query := "SELECT COUNT(*) FROM " + table
		var count int
		err := store.db.QueryRowContext(ctx, query).Scan(&count)
		if err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

// TestEvaluationCRUD tests Evaluation CRUD operations
func TestEvaluationCRUD(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	// Create
	eval := &Evaluation{
		ID:            "eval-001",
		Label:         "root//pkg:lib",
		Configuration: "linux-release",
		Status:        EvaluationStatusRunning,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := store.CreateEvaluation(ctx, eval); err != nil {
		t.Fatalf("failed to create evaluation: %v", err)
	}

	// Read
	retrieved, err := store.GetEvaluation(ctx, eval.ID)
	if err != nil {
		t.Fatalf("failed to get evaluation: %v", err)
	}

	if retrieved.ID != eval.ID {
		t.Errorf("expected ID %s, got %s", eval.ID, retrieved.ID)
	}
	if retrieved.Label != eval.Label {
		t.Errorf("expected Label %s, got %s", eval.Label, retrieved.Label)
	}
	if retrieved.Configuration != eval.Configuration {
		t.Errorf("expected Configuration %s, got %s", eval.Configuration, retrieved.Configuration)
	}
	if retrieved.Status != eval.Status {
		t.Errorf("expected Status %s, got %s", eval.Status, retrieved.Status)
	}

	// Update
	errMsg := "missing DefaultInfo"
	if err := store.UpdateEvaluationStatus(ctx, eval.ID, EvaluationStatusFailed, &errMsg); err != nil {
		t.Fatalf("failed to update evaluation status: %v", err)
	}

	updated, err := store.GetEvaluation(ctx, eval.ID)
	if err != nil {
		t.Fatalf("failed to get updated evaluation: %v", err)
	}

	if updated.Status != EvaluationStatusFailed {
		t.Errorf("expected Status %s, got %s", EvaluationStatusFailed, updated.Status)
	}
	if updated.Error == nil || *updated.Error != errMsg {
		t.Errorf("expected Error %s, got %v", errMsg, updated.Error)
	}
	if updated.CompletedAt == nil {
		t.Error("expected CompletedAt to be set")
	}

	// List
	evals, err := store.ListEvaluations(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list evaluations: %v", err)
	}

	if len(evals) != 1 {
		t.Errorf("expected 1 evaluation, got %d", len(evals))
	}

	// Delete
	if err := store.DeleteEvaluation(ctx, eval.ID); err != nil {
		t.Fatalf("failed to delete evaluation: %v", err)
	}

	_, err = store.GetEvaluation(ctx, eval.ID)
	if err == nil {
		t.Error("expected error when getting deleted evaluation")
	}
}

// TestListEvaluationsFilters tests evaluation listing with filters
func TestListEvaluationsFilters(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	evals := []*Evaluation{
		{ID: "eval-a1", Label: "root//pkg:lib", Configuration: "linux-release", Status: EvaluationStatusCompleted, StartedAt: now, CreatedAt: now, UpdatedAt: now},
		{ID: "eval-a2", Label: "root//pkg:lib", Configuration: "linux-debug", Status: EvaluationStatusFailed, StartedAt: now.Add(1 * time.Second), CreatedAt: now, UpdatedAt: now},
		{ID: "eval-b1", Label: "root//pkg:bin", Configuration: "linux-release", Status: EvaluationStatusCompleted, StartedAt: now.Add(2 * time.Second), CreatedAt: now, UpdatedAt: now},
	}
	for _, eval := range evals {
		if err := store.CreateEvaluation(ctx, eval); err != nil {
			t.Fatalf("failed to create evaluation %s: %v", eval.ID, err)
		}
	}

	// Filter by label
	label := "root//pkg:lib"
	byLabel, err := store.ListEvaluations(ctx, &label, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list evaluations by label: %v", err)
	}
	if len(byLabel) != 2 {
		t.Errorf("expected 2 evaluations for label, got %d", len(byLabel))
	}

	// Filter by status
	failed := EvaluationStatusFailed
	byStatus, err := store.ListEvaluations(ctx, nil, &failed, 10, 0)
	if err != nil {
		t.Fatalf("failed to list evaluations by status: %v", err)
	}
	if len(byStatus) != 1 {
		t.Errorf("expected 1 failed evaluation, got %d", len(byStatus))
	}
	if len(byStatus) > 0 && byStatus[0].ID != "eval-a2" {
		t.Errorf("expected eval-a2, got %s", byStatus[0].ID)
	}

	// Unfiltered list is ordered most recent first
	all, err := store.ListEvaluations(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list evaluations: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 evaluations, got %d", len(all))
	}
	if all[0].ID != "eval-b1" {
		t.Errorf("expected most recent evaluation first, got %s", all[0].ID)
	}
}

// TestAnalysisResultRoundTrip tests analysis result storage and retrieval
func TestAnalysisResultRoundTrip(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	// Create an evaluation first (required for foreign key)
	eval := &Evaluation{
		ID:            "eval-010",
		Label:         "root//pkg:lib",
		Configuration: "linux-release",
		Status:        EvaluationStatusCompleted,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.CreateEvaluation(ctx, eval); err != nil {
		t.Fatalf("failed to create evaluation: %v", err)
	}

	// Put
	result := &AnalysisResult{
		ID:            "res-001",
		Label:         "root//pkg:lib",
		Configuration: "linux-release",
		ProviderNames: `["FooInfo","DefaultInfo"]`,
		Providers:     `{"FooInfo":{"foo":"lib"},"DefaultInfo":{"default_outputs":["pkg/lib.a"]}}`,
		EvaluationID:  eval.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := store.PutResult(ctx, result); err != nil {
		t.Fatalf("failed to put analysis result: %v", err)
	}

	if result.Digest == "" {
		t.Fatal("expected PutResult to compute a digest")
	}
	if len(result.Digest) != 64 {
		t.Errorf("expected 64 hex digest characters, got %d", len(result.Digest))
	}
	if result.Digest != DigestOf(result.Providers) {
		t.Errorf("expected Digest %s, got %s", DigestOf(result.Providers), result.Digest)
	}

	// Get
	retrieved, err := store.GetResult(ctx, "root//pkg:lib", "linux-release")
	if err != nil {
		t.Fatalf("failed to get analysis result: %v", err)
	}

	if retrieved.Providers != result.Providers {
		t.Errorf("expected Providers %s, got %s", result.Providers, retrieved.Providers)
	}
	if retrieved.ProviderNames != result.ProviderNames {
		t.Errorf("expected ProviderNames %s, got %s", result.ProviderNames, retrieved.ProviderNames)
	}
	if retrieved.Digest != result.Digest {
		t.Errorf("expected Digest %s, got %s", result.Digest, retrieved.Digest)
	}
	if retrieved.EvaluationID != eval.ID {
		t.Errorf("expected EvaluationID %s, got %s", eval.ID, retrieved.EvaluationID)
	}

	// Put (update)
	result.Providers = `{"FooInfo":{"foo":"lib2"},"DefaultInfo":{"default_outputs":["pkg/lib2.a"]}}`
	if err := store.PutResult(ctx, result); err != nil {
		t.Fatalf("failed to put analysis result (update): %v", err)
	}

	updated, err := store.GetResult(ctx, "root//pkg:lib", "linux-release")
	if err != nil {
		t.Fatalf("failed to get updated analysis result: %v", err)
	}

	if updated.Providers != result.Providers {
		t.Errorf("expected updated Providers %s, got %s", result.Providers, updated.Providers)
	}
	if updated.Digest == retrieved.Digest {
		t.Error("expected digest to change when the payload changes")
	}

	// List
	results, err := store.ListResults(ctx, 10, 0)
	if err != nil {
		t.Fatalf("failed to list analysis results: %v", err)
	}

	if len(results) != 1 {
		t.Errorf("expected 1 analysis result, got %d", len(results))
	}

	// Delete
	if err := store.DeleteResult(ctx, "root//pkg:lib", "linux-release"); err != nil {
		t.Fatalf("failed to delete analysis result: %v", err)
	}

	_, err = store.GetResult(ctx, "root//pkg:lib", "linux-release")
	if err == nil {
		t.Error("expected error when getting deleted analysis result")
	}
}

// TestGetResultDigestMismatch tests digest verification on read
func TestGetResultDigestMismatch(t *testing.T) {
	var recorded []string
	reporter := diag.NewReporter(func(category string, err error, quiet bool) {
		recorded = append(recorded, category)
	}, diag.Escalation{})

	store := setupTestStoreWithReporter(t, reporter)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	eval := &Evaluation{
		ID:            "eval-020",
		Label:         "root//pkg:lib",
		Configuration: "linux-release",
		Status:        EvaluationStatusCompleted,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.CreateEvaluation(ctx, eval); err != nil {
		t.Fatalf("failed to create evaluation: %v", err)
	}

	result := &AnalysisResult{
		ID:            "res-020",
		Label:         "root//pkg:lib",
		Configuration: "linux-release",
		ProviderNames: `["DefaultInfo"]`,
		Providers:     `{"DefaultInfo":{"default_outputs":[]}}`,
		EvaluationID:  eval.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.PutResult(ctx, result); err != nil {
		t.Fatalf("failed to put analysis result: %v", err)
	}

	// Tamper with the stored payload behind the store's back
	_, err := store.db.ExecContext(ctx,
		"UPDATE analysis_results SET providers = ? WHERE label = ? AND configuration = ?",
		`{"DefaultInfo":{"default_outputs":["tampered"]}}`, "root//pkg:lib", "linux-release")
	if err != nil {
		t.Fatalf("failed to tamper with analysis result: %v", err)
	}

	// Without escalation the mismatch is reported but the result is returned
	retrieved, err := store.GetResult(ctx, "root//pkg:lib", "linux-release")
	if err != nil {
		t.Fatalf("expected soft digest mismatch, got error: %v", err)
	}
	if retrieved == nil {
		t.Fatal("expected result despite digest mismatch")
	}
	if len(recorded) != 1 || recorded[0] != "digest_mismatch" {
		t.Errorf("expected one digest_mismatch diagnostic, got %v", recorded)
	}
	if reporter.Count("digest_mismatch") != 1 {
		t.Errorf("expected digest_mismatch count 1, got %d", reporter.Count("digest_mismatch"))
	}
}

// TestGetResultDigestMismatchEscalates tests the escalated mismatch path
func TestGetResultDigestMismatchEscalates(t *testing.T) {
	reporter := diag.NewReporter(nil, diag.EscalateAll())

	store := setupTestStoreWithReporter(t, reporter)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	eval := &Evaluation{
		ID:            "eval-021",
		Label:         "root//pkg:lib",
		Configuration: "linux-release",
		Status:        EvaluationStatusCompleted,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.CreateEvaluation(ctx, eval); err != nil {
		t.Fatalf("failed to create evaluation: %v", err)
	}

	result := &AnalysisResult{
		ID:            "res-021",
		Label:         "root//pkg:lib",
		Configuration: "linux-release",
		ProviderNames: `["DefaultInfo"]`,
		Providers:     `{"DefaultInfo":{"default_outputs":[]}}`,
		EvaluationID:  eval.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.PutResult(ctx, result); err != nil {
		t.Fatalf("failed to put analysis result: %v", err)
	}

	_, err := store.db.ExecContext(ctx,
		"UPDATE analysis_results SET providers = ? WHERE label = ? AND configuration = ?",
		`{"tampered":true}`, "root//pkg:lib", "linux-release")
	if err != nil {
		t.Fatalf("failed to tamper with analysis result: %v", err)
	}

	_, err = store.GetResult(ctx, "root//pkg:lib", "linux-release")
	if err == nil {
		t.Fatal("expected escalated digest mismatch error")
	}
	if !strings.Contains(err.Error(), "digest_mismatch") {
		t.Errorf("expected digest_mismatch in error, got %v", err)
	}
}

// TestVerifyResults tests the digest sweep over stored results
func TestVerifyResults(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	eval := &Evaluation{
		ID:            "eval-030",
		Label:         "root//pkg:all",
		Configuration: "linux-release",
		Status:        EvaluationStatusCompleted,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.CreateEvaluation(ctx, eval); err != nil {
		t.Fatalf("failed to create evaluation: %v", err)
	}

	results := []*AnalysisResult{
		{ID: "res-030", Label: "root//pkg:bad", Configuration: "linux-release", ProviderNames: `["DefaultInfo"]`, Providers: `{"DefaultInfo":{}}`, EvaluationID: eval.ID, CreatedAt: now, UpdatedAt: now},
		{ID: "res-031", Label: "root//pkg:good", Configuration: "linux-release", ProviderNames: `["DefaultInfo"]`, Providers: `{"DefaultInfo":{}}`, EvaluationID: eval.ID, CreatedAt: now, UpdatedAt: now},
	}
	for _, result := range results {
		if err := store.PutResult(ctx, result); err != nil {
			t.Fatalf("failed to put analysis result %s: %v", result.ID, err)
		}
	}

	_, err := store.db.ExecContext(ctx,
		"UPDATE analysis_results SET providers = ? WHERE label = ?",
		`{"corrupt":true}`, "root//pkg:bad")
	if err != nil {
		t.Fatalf("failed to tamper with analysis result: %v", err)
	}

	report, err := store.VerifyResults(ctx)
	if err != nil {
		t.Fatalf("failed to verify analysis results: %v", err)
	}

	if report.Checked != 2 {
		t.Errorf("expected 2 results checked, got %d", report.Checked)
	}
	if len(report.Mismatched) != 1 {
		t.Fatalf("expected 1 mismatched result, got %d", len(report.Mismatched))
	}
	if report.Mismatched[0] != "root//pkg:bad (linux-release)" {
		t.Errorf("expected root//pkg:bad (linux-release), got %s", report.Mismatched[0])
	}
}

// TestEvaluationCascadeDelete tests that deleting an evaluation removes
// its analysis results
func TestEvaluationCascadeDelete(t *testing.T) {
	store := setupTestStore(t)
	defer store.Close()

	ctx := context.Background()
	now := time.Now()

	eval := &Evaluation{
		ID:            "eval-040",
		Label:         "root//pkg:lib",
		Configuration: "linux-release",
		Status:        EvaluationStatusCompleted,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.CreateEvaluation(ctx, eval); err != nil {
		t.Fatalf("failed to create evaluation: %v", err)
	}

	result := &AnalysisResult{
		ID:            "res-040",
		Label:         "root//pkg:lib",
		Configuration: "linux-release",
		ProviderNames: `["DefaultInfo"]`,
		Providers:     `{"DefaultInfo":{}}`,
		EvaluationID:  eval.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := store.PutResult(ctx, result); err != nil {
		t.Fatalf("failed to put analysis result: %v", err)
	}

	if err := store.DeleteEvaluation(ctx, eval.ID); err != nil {
		t.Fatalf("failed to delete evaluation: %v", err)
	}

	_, err := store.GetResult(ctx, "root//pkg:lib", "linux-release")
	if err == nil {
		t.Error("expected analysis result to be removed with its evaluation")
	}
}

// TestDigestOf tests digest computation
func TestDigestOf(t *testing.T) {
	a := DigestOf(`{"DefaultInfo":{}}`)
	b := DigestOf(`{"DefaultInfo":{}}`)
	c := DigestOf(`{"FooInfo":{}}`)

	if len(a) != 64 {
		t.Errorf("expected 64 hex characters, got %d", len(a))
	}
	if a != b {
		t.Errorf("expected identical digests for identical payloads, got %s and %s", a, b)
	}
	if a == c {
		t.Error("expected different digests for different payloads")
	}
}
