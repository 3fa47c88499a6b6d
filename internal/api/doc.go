// Package api serves run status over HTTP while a curation run is active.
//
// # Endpoints
//
// GET /healthz: stage readiness. Responds 503 when any stage dependency
// (usually the judgment service) is unreachable. Results are cached briefly
// so frequent polling does not translate into judge traffic.
//
// GET /status: checkpoint progress and live run counters.
//
// GET /metrics: Prometheus exposition of the run's collectors.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// The server is built on gin in release mode; request logs go through the
// run's slog logger at debug level.
package api
