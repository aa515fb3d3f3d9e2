// Package daemon owns the long-running subflowd process: it holds the
// single-instance lock, serves the HTTP control surface, and runs the
// archive retention schedule around a workflow.Manager.
//
// Collaborators are built by the caller (see internal/daemonrun) so the
// daemon can be exercised in tests with stub stages.
package daemon
