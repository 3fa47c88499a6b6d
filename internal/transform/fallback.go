package transform

import (
	"context"

	"curator/internal/record"
	"curator/internal/stage"
)

// FallbackKey returns the metadata key set when a stage fell back.
func FallbackKey(stageName string) string {
	return stageName + "_fallback"
}

// keepOriginal leaves the record unchanged apart from the fallback marker.
func keepOriginal(_ context.Context, rec *record.Record, stageName string) stage.Result {
	rec.SetMeta(FallbackKey(stageName), true)
	return stage.Continue()
}
