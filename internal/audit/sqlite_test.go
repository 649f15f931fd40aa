package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/srprobotics/homeagent/internal/task"
)

func testTask(id string, typ task.Type) *task.Task {
	tk := task.NewTask(typ, 1)
	tk.ID = id
	tk.Status = task.StatusCompleted
	tk.Result = map[string]any{"success": true}
	tk.History = []task.HistoryEntry{{Status: task.StatusCompleted, Timestamp: time.Now()}}
	return tk
}

func openTestSink(t *testing.T) *Sink {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { sink.Close() })
	return sink
}

func TestOpenCreatesSchema(t *testing.T) {
	sink := openTestSink(t)

	var name string
	err := sink.db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='task_history'`).Scan(&name)
	if err != nil {
		t.Fatalf("expected task_history table to exist: %v", err)
	}
}

func TestRecordAndRecent(t *testing.T) {
	sink := openTestSink(t)
	ctx := context.Background()

	tk := testTask("t1", task.TypePatrol)
	sink.Record(ctx, tk)

	records, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].TaskID != "t1" {
		t.Errorf("expected task id t1, got %s", records[0].TaskID)
	}
	if records[0].TaskType != string(task.TypePatrol) {
		t.Errorf("expected task type %s, got %s", task.TypePatrol, records[0].TaskType)
	}
	if records[0].Result["success"] != true {
		t.Errorf("expected result decoded, got %v", records[0].Result)
	}
}

func TestRecordUpsertsOnSameID(t *testing.T) {
	sink := openTestSink(t)
	ctx := context.Background()

	tk := testTask("t1", task.TypePatrol)
	sink.Record(ctx, tk)

	tk.Status = task.StatusFailed
	tk.RetryCount = 2
	sink.Record(ctx, tk)

	records, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected upsert to keep a single row, got %d", len(records))
	}
	if records[0].Status != string(task.StatusFailed) {
		t.Errorf("expected updated status failed, got %s", records[0].Status)
	}
	if records[0].RetryCount != 2 {
		t.Errorf("expected updated retry count 2, got %d", records[0].RetryCount)
	}
}

func TestRecentOrdersNewestFirstAndRespectsLimit(t *testing.T) {
	sink := openTestSink(t)
	ctx := context.Background()

	for i, id := range []string{"a", "b", "c"} {
		tk := testTask(id, task.TypePatrol)
		tk.UpdatedAt = time.Now().Add(time.Duration(i) * time.Second)
		sink.Record(ctx, tk)
	}

	records, err := sink.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected limit of 2 records, got %d", len(records))
	}
	if records[0].TaskID != "c" {
		t.Errorf("expected newest record first, got %s", records[0].TaskID)
	}
}

func TestRecordHandlesUnmarshalableResultGracefully(t *testing.T) {
	sink := openTestSink(t)
	ctx := context.Background()

	tk := testTask("bad", task.TypePatrol)
	tk.Result = map[string]any{"fn": func() {}}

	sink.Record(ctx, tk)

	records, err := sink.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected record to still be written, got %d", len(records))
	}
	if records[0].Result != nil {
		t.Errorf("expected nil result after failed marshal, got %v", records[0].Result)
	}
}

func TestRecentEmptyDatabase(t *testing.T) {
	sink := openTestSink(t)
	records, err := sink.Recent(context.Background(), 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records, got %d", len(records))
	}
}

func TestCloseReleasesHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := sink.db.Ping(); err == nil {
		t.Error("expected ping to fail after close")
	}
}
