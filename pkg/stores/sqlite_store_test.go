package stores

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

// setupTestStore creates a file-backed SQLite store in a temporary directory
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{
		Path: filepath.Join(t.TempDir(), "reconf.db"),
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
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func createRun(t *testing.T, store *SQLiteStore, instance string) *Run {
	t.Helper()
	run := &Run{Instance: instance, Mode: RunModeApply, Actions: 2}
	if err := store.CreateRun(context.Background(), run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}
	return run
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	if _, err := NewSQLiteStore(Config{}); err == nil {
		t.Fatal("expected an error without a path")
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "life.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.HealthCheck(ctx); err == nil {
		t.Error("health check should fail before Init")
	}
	if err := store.Migrate(ctx); err == nil {
		t.Error("migrate should fail before Init")
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("first migration failed: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("second migration should be a no-op: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "commits", "violations", "events"} {
		var count int
		if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			t.Errorf("table %s does not exist or is not accessible: %v", table, err)
		}
	}
}

func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	run := createRun(t, store, "cluster-a")
	if run.ID == "" {
		t.Fatal("CreateRun should allocate an ID")
	}
	if run.Status != RunStatusRunning {
		t.Errorf("expected status %s, got %s", RunStatusRunning, run.Status)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Instance != "cluster-a" || got.Mode != RunModeApply || got.Actions != 2 {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.CompletedAt != nil {
		t.Error("a running run has no completion time")
	}
	if got.Metadata != "{}" {
		t.Errorf("expected empty metadata, got %q", got.Metadata)
	}

	err = store.CompleteRun(ctx, run.ID, RunResult{
		Status:     RunStatusFailed,
		Committed:  1,
		Rounds:     1,
		Duration:   1500 * time.Millisecond,
		Error:      "boom",
		ErrorClass: "malformed",
		ErrorCode:  "APPLY_FAILED",
	})
	if err != nil {
		t.Fatalf("failed to complete run: %v", err)
	}

	got, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != RunStatusFailed || got.Committed != 1 || got.DurationMS != 1500 {
		t.Errorf("unexpected completed run: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("expected a completion time")
	}
	if got.Error == nil || *got.Error != "boom" {
		t.Errorf("expected error boom, got %v", got.Error)
	}
	if got.ErrorCode == nil || *got.ErrorCode != "APPLY_FAILED" {
		t.Errorf("expected error code, got %v", got.ErrorCode)
	}

	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	if _, err := store.GetRun(ctx, run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := store.DeleteRun(ctx, run.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestCompleteRun_Errors(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	run := createRun(t, store, "cluster-a")

	if err := store.CompleteRun(ctx, run.ID, RunResult{Status: RunStatusRunning}); err == nil {
		t.Error("expected an error for a non terminal status")
	}
	if err := store.CompleteRun(ctx, "missing", RunResult{Status: RunStatusCompleted}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i, instance := range []string{"a", "b", "a"} {
		run := &Run{Instance: instance, Mode: RunModeCheck, StartedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run: %v", err)
		}
	}

	all, err := store.ListRuns(ctx, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}
	if !all[0].StartedAt.After(all[1].StartedAt) {
		t.Error("runs should be listed most recent first")
	}

	instance := "a"
	only, err := store.ListRuns(ctx, &instance, 10, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(only) != 2 {
		t.Errorf("expected 2 runs for instance a, got %d", len(only))
	}

	page, err := store.ListRuns(ctx, nil, 1, 1)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(page) != 1 || page[0].Instance != "b" {
		t.Errorf("unexpected page: %+v", page)
	}
}

func TestCommits(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	run := createRun(t, store, "cluster-a")

	commits := []*Commit{
		{Position: 1, ActionIndex: 1, Kind: "migrateVM", Action: "0:1 {action=migrate(vm=vm#1, from=node#1, to=node#3)}", Start: 0, End: 1},
		{Position: 2, ActionIndex: 0, Kind: "shutdownNode", Action: "1:2 {action=shutdown(node=node#1)}", Start: 1, End: 2},
	}
	if err := store.AppendCommits(ctx, run.ID, commits); err != nil {
		t.Fatalf("failed to append commits: %v", err)
	}
	for _, c := range commits {
		if c.ID == 0 || c.RunID != run.ID {
			t.Errorf("commit not filled: %+v", c)
		}
	}

	got, err := store.ListCommits(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list commits: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(got))
	}
	if got[0].Kind != "migrateVM" || got[1].ActionIndex != 0 || got[1].End != 2 {
		t.Errorf("unexpected commits: %+v %+v", got[0], got[1])
	}

	// Positions are unique per run and the batch is atomic.
	dup := []*Commit{
		{Position: 3, Kind: "bootNode", Action: "x"},
		{Position: 1, Kind: "bootNode", Action: "y"},
	}
	if err := store.AppendCommits(ctx, run.ID, dup); err == nil {
		t.Fatal("expected a duplicate position error")
	}
	got, _ = store.ListCommits(ctx, run.ID)
	if len(got) != 2 {
		t.Errorf("failed batch should leave 2 commits, got %d", len(got))
	}

	if err := store.AppendCommits(ctx, "missing", []*Commit{{Position: 1, Kind: "bootNode", Action: "z"}}); err == nil {
		t.Error("expected a foreign key error for an unknown run")
	}
	if err := store.AppendCommits(ctx, run.ID, nil); err != nil {
		t.Errorf("empty batch should succeed: %v", err)
	}
}

func TestViolationsAndCascade(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	run := createRun(t, store, "cluster-a")

	idx, pos, action := 1, 2, "1:2 {action=shutdown(node=node#1)}"
	v := &Violation{
		RunID:          run.ID,
		ConstraintName: "online",
		Constraint:     "online(nodes=[node#1], discrete)",
		Code:           "ACTION_RULE",
		Hook:           "start",
		ActionIndex:    &idx,
		Position:       &pos,
		Action:         &action,
		Message:        "constraint violated at start",
	}
	if err := store.AppendViolation(ctx, v); err != nil {
		t.Fatalf("failed to append violation: %v", err)
	}
	if v.ID == 0 {
		t.Error("violation ID not set")
	}
	if err := store.AppendViolation(ctx, &Violation{RunID: run.ID, ConstraintName: "root", Code: "END_STATE", Hook: "endsWith"}); err != nil {
		t.Fatalf("failed to append violation: %v", err)
	}

	got, err := store.ListViolations(ctx, run.ID)
	if err != nil {
		t.Fatalf("failed to list violations: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 violations, got %d", len(got))
	}
	if got[0].ActionIndex == nil || *got[0].ActionIndex != 1 || *got[0].Position != 2 {
		t.Errorf("unexpected first violation: %+v", got[0])
	}
	if got[1].ActionIndex != nil || got[1].Action != nil {
		t.Errorf("second violation has no action: %+v", got[1])
	}

	if err := store.AppendCommits(ctx, run.ID, []*Commit{{Position: 1, Kind: "bootNode", Action: "a"}}); err != nil {
		t.Fatalf("failed to append commits: %v", err)
	}
	if err := store.DeleteRun(ctx, run.ID); err != nil {
		t.Fatalf("failed to delete run: %v", err)
	}
	got, _ = store.ListViolations(ctx, run.ID)
	commits, _ := store.ListCommits(ctx, run.ID)
	if len(got) != 0 || len(commits) != 0 {
		t.Errorf("deleting a run should cascade, got %d violations and %d commits", len(got), len(commits))
	}
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	run := createRun(t, store, "cluster-a")

	base := time.Now().UTC()
	events := []*Event{
		{RunID: &run.ID, Type: "plan.started", Level: EventLevelInfo, Message: "started", Timestamp: base},
		{RunID: &run.ID, Type: "plan.failed", Level: EventLevelError, Message: "failed", Timestamp: base.Add(time.Second)},
		{Type: "policy.reloaded", Level: EventLevelInfo, Message: "reloaded", Timestamp: base.Add(2 * time.Second)},
	}
	for _, e := range events {
		if err := store.AppendEvent(ctx, e); err != nil {
			t.Fatalf("failed to append event: %v", err)
		}
		if e.ID == 0 {
			t.Error("event ID not set")
		}
	}

	all, err := store.GetEvents(ctx, nil, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(all) != 3 || all[0].Type != "plan.started" {
		t.Fatalf("unexpected events: %d", len(all))
	}

	forRun, err := store.GetEvents(ctx, &run.ID, nil, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(forRun) != 2 {
		t.Errorf("expected 2 events for the run, got %d", len(forRun))
	}

	level := EventLevelError
	errs, err := store.GetEvents(ctx, nil, &level, 10, 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(errs) != 1 || errs[0].Message != "failed" {
		t.Errorf("unexpected error events: %+v", errs)
	}
}

func TestRunStatusTerminal(t *testing.T) {
	tests := []struct {
		status RunStatus
		want   bool
	}{
		{RunStatusRunning, false},
		{RunStatusCompleted, true},
		{RunStatusFailed, true},
		{RunStatusViolated, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
