package services_test

import (
	"context"
	"testing"

	"curator/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithRecordID(ctx, "rec-42")
	ctx = services.WithStage(ctx, "language")
	ctx = services.WithWorker(ctx, 3)
	ctx = services.WithRunID(ctx, "01HRUN")
	ctx = services.WithRequestID(ctx, "req-123")

	if id, ok := services.RecordIDFromContext(ctx); !ok || id != "rec-42" {
		t.Fatalf("unexpected record id: %v %v", id, ok)
	}
	if stage, ok := services.StageFromContext(ctx); !ok || stage != "language" {
		t.Fatalf("unexpected stage: %v %v", stage, ok)
	}
	if worker, ok := services.WorkerFromContext(ctx); !ok || worker != 3 {
		t.Fatalf("unexpected worker: %v %v", worker, ok)
	}
	if run, ok := services.RunIDFromContext(ctx); !ok || run != "01HRUN" {
		t.Fatalf("unexpected run id: %v %v", run, ok)
	}
	if rid, ok := services.RequestIDFromContext(ctx); !ok || rid != "req-123" {
		t.Fatalf("unexpected request id: %v %v", rid, ok)
	}
}

func TestBlankValuesPreserveContext(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithStage(ctx, "")
	ctx = services.WithRecordID(ctx, "")
	ctx = services.WithWorker(ctx, 0)
	if _, ok := services.StageFromContext(ctx); ok {
		t.Fatal("expected no stage value")
	}
	if _, ok := services.RecordIDFromContext(ctx); ok {
		t.Fatal("expected no record id value")
	}
	if _, ok := services.WorkerFromContext(ctx); ok {
		t.Fatal("expected no worker value")
	}
}
