// Package services defines shared error markers and context helpers consumed
// by the pipeline stages and the external tool integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so the orchestrator can
//     tell configuration faults, transient failures, and cancellations apart.
//
// Use these helpers when wiring new stage logic so failure reporting stays
// uniform across the pipeline.
package services
