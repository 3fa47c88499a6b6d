// Package main hosts the curator CLI entrypoint and command graph.
//
// The Cobra command tree wires configuration, logging, and signal handling
// around internal/curation and exposes maintenance commands for checkpoints,
// training-set export, configuration scaffolding, and judge connectivity.
// Curation logic belongs in the internal packages; commands here only parse
// flags, call into them, and render results.
package main
