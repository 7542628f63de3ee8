// Package jobaudit PostgreSQL 审计存储集成测试
//
// 需要可用的 PostgreSQL（APP_ENV=test 配置），连不上时跳过。
package jobaudit

import (
	"context"
	"os"
	"testing"
	"time"

	"event-pipeline/internal/config"
	"event-pipeline/internal/model"

	"github.com/google/uuid"
)

var testStore *Store

func TestMain(m *testing.M) {
	os.Setenv("APP_ENV", "test")
	cfg := config.Load()

	var err error
	testStore, err = NewStore(cfg.PostgresURL)
	if err != nil {
		testStore = nil
	}

	code := m.Run()

	if testStore != nil {
		testStore.Close()
	}
	os.Exit(code)
}

func testScope() model.JobScope {
	return model.JobScope{
		TenantIDs: []string{"it-tenant"},
		Start:     time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		End:       time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC),
	}
}

func TestAudit_RunLifecycle(t *testing.T) {
	if testStore == nil {
		t.Skip("PostgreSQL not available")
	}
	ctx := context.Background()
	runID := "it-replay-" + uuid.NewString()[:8]

	if err := testStore.StartRun(ctx, runID, "replay", testScope(), false); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}

	run, err := testStore.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run == nil || run.Status != "running" || run.Kind != "replay" {
		t.Fatalf("unexpected run after start: %+v", run)
	}
	if run.FinishedAt != nil {
		t.Fatalf("running job must not have finished_at")
	}
	if len(run.Scope.TenantIDs) != 1 || run.Scope.TenantIDs[0] != "it-tenant" {
		t.Fatalf("scope did not round trip: %+v", run.Scope)
	}

	rep := &model.JobReport{
		RunID:         runID,
		Kind:          "replay",
		TargetVersion: 2,
		EventsRead:    100,
		EventsApplied: 98,
		Errors:        []string{"gap unresolved for event e-1"},
	}
	if err := testStore.FinishRun(ctx, runID, "failed", rep); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	run, err = testStore.GetRun(ctx, runID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != "failed" || run.FinishedAt == nil {
		t.Fatalf("unexpected run after finish: %+v", run)
	}
	if run.Report == nil || run.Report.EventsApplied != 98 || len(run.Report.Errors) != 1 {
		t.Fatalf("report did not round trip: %+v", run.Report)
	}
}

func TestAudit_GetRunMissing(t *testing.T) {
	if testStore == nil {
		t.Skip("PostgreSQL not available")
	}
	run, err := testStore.GetRun(context.Background(), "it-nonexistent-"+uuid.NewString()[:8])
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run != nil {
		t.Fatalf("expected nil for missing run, got %+v", run)
	}
}

func TestAudit_ListRunsByKind(t *testing.T) {
	if testStore == nil {
		t.Skip("PostgreSQL not available")
	}
	ctx := context.Background()
	kind := "it-kind-" + uuid.NewString()[:8]

	for i := 0; i < 3; i++ {
		runID := kind + "-" + uuid.NewString()[:8]
		if err := testStore.StartRun(ctx, runID, kind, testScope(), i == 0); err != nil {
			t.Fatalf("StartRun failed: %v", err)
		}
	}

	runs, err := testStore.ListRuns(ctx, kind, 10)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("expected 3 runs of kind %s, got %d", kind, len(runs))
	}
	for i := 1; i < len(runs); i++ {
		if runs[i].StartedAt.After(runs[i-1].StartedAt) {
			t.Fatalf("runs must be ordered newest first")
		}
	}

	// 限制条数
	runs, err = testStore.ListRuns(ctx, kind, 2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected limit to cap results, got %d", len(runs))
	}
}
