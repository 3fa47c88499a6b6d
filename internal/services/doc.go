// Package services defines shared utilities consumed by the pipeline stages
// and the judgment client.
//
// Key responsibilities:
//   - Context helpers that stamp record IDs, stage names, worker numbers, run
//     IDs, and correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that let the pipeline
//     engine and run controller classify failures (record-local, transient,
//     fatal) without string matching.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
