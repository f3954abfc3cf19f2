package provenance

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/graphmesh-backend/internal/platform/logger"
)

func newTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	path := filepath.Join(t.TempDir(), "provenance.db")
	rec, err := NewSQLiteRecorder(path, logger.NewNop())
	if err != nil {
		t.Fatalf("NewSQLiteRecorder: %v", err)
	}
	t.Cleanup(func() { rec.Close() })
	return rec
}

func TestBeginSealGet(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	opID, err := rec.Begin(ctx, "edge_builder", "build_edges", map[string]any{"candidates": 3})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	op, err := rec.Get(ctx, opID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if op == nil || op.Sealed {
		t.Fatalf("open operation should exist unsealed, got %+v", op)
	}
	if op.ToolID != "edge_builder" || op.OperationType != "build_edges" {
		t.Fatalf("operation identity wrong: %+v", op)
	}

	if err := rec.Seal(ctx, opID, true, map[string]any{"created": 2}, nil); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	op, err = rec.Get(ctx, opID)
	if err != nil {
		t.Fatalf("Get after seal: %v", err)
	}
	if !op.Sealed || !op.Success || op.EndTime == nil {
		t.Fatalf("sealed operation incomplete: %+v", op)
	}
}

func TestSealFailureRecordsError(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	opID, err := rec.Begin(ctx, "resolver", "resolve", nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := rec.Seal(ctx, opID, false, nil, errors.New("graph unreachable")); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	op, err := rec.Get(ctx, opID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if op.Success || op.Error != "graph unreachable" {
		t.Fatalf("failure not recorded: %+v", op)
	}
}

func TestSealedOperationIsImmutable(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	opID, err := rec.Begin(ctx, "resolver", "resolve", nil)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := rec.Seal(ctx, opID, true, nil, nil); err != nil {
		t.Fatalf("first Seal: %v", err)
	}
	if err := rec.Seal(ctx, opID, false, nil, errors.New("late")); err == nil {
		t.Fatalf("second seal must fail")
	}
	op, err := rec.Get(ctx, opID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !op.Success {
		t.Fatalf("sealed row was mutated: %+v", op)
	}
}

func TestSealUnknownOperation(t *testing.T) {
	rec := newTestRecorder(t)
	if err := rec.Seal(context.Background(), uuid.New(), true, nil, nil); err == nil {
		t.Fatalf("sealing an unknown operation must fail")
	}
}

func TestByToolRangeQuery(t *testing.T) {
	rec := newTestRecorder(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := rec.Begin(ctx, "resolver", "resolve", nil); err != nil {
			t.Fatalf("Begin: %v", err)
		}
	}
	if _, err := rec.Begin(ctx, "edge_builder", "build_edges", nil); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	ops, err := rec.ByTool(ctx, "resolver", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("ByTool: %v", err)
	}
	if len(ops) != 3 {
		t.Fatalf("expected 3 resolver operations, got %d", len(ops))
	}

	ops, err = rec.ByTool(ctx, "resolver", time.Now().UTC().Add(time.Hour), time.Time{})
	if err != nil {
		t.Fatalf("ByTool future range: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("future range should be empty, got %d", len(ops))
	}
}
