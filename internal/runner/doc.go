// Package runner moves records from a source through the pipeline engine
// with a fixed pool of workers.
//
// A dispatcher reads the source in order, skips ids the checkpoint already
// holds, and hands records to the workers. The number of records between the
// dispatcher and a final outcome never exceeds workers × buffer factor. Each
// worker runs the engine, writes the entry to the accepted sink (or the
// rejects audit sink), records the completion in the checkpoint, and emits
// the entry on the run's outcome stream, in that order.
//
// Cancelling the parent context stops dispatch. Queued records are abandoned
// and in-flight records get the configured grace period to finish before
// their work context is cancelled. A fatal error cancels the work context
// immediately. Abandoned records are neither checkpointed nor emitted, so a
// resumed run picks them up again.
package runner
