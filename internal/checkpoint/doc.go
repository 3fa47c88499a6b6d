// Package checkpoint persists run progress: the set of record ids that
// reached a final state plus accepted/rejected tallies and run history.
//
// The Store keeps the authoritative state in memory and flushes it to a
// backend every FlushEvery completions, every FlushInterval, and on Close.
// Two backends exist: a JSON file rewritten atomically on each flush, and a
// SQLite database (modernc.org/sqlite, WAL mode) that receives incremental
// inserts. Lock guards a checkpoint against concurrent runs.
//
// Schema changes to the SQLite backend bump schemaVersion in sqlite.go;
// users start a fresh run (or delete the database) to adopt the new schema.
package checkpoint
