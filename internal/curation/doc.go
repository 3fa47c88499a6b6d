// Package curation wires one curation run from configuration: the run lock,
// checkpoint, output artifacts, judgment client, pipeline engine, worker
// pool, and the optional status server.
//
// A resumed run first recovers the accepted artifact. Any partial trailing
// record is truncated, accepted ids that reached the artifact but not the
// checkpoint are recorded as complete, and every recovered accepted entry is
// inserted into the similarity index so later records are deduplicated
// against earlier runs.
package curation
