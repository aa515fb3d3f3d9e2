// Package preflight provides readiness checks for the directories and
// text-generation endpoints subflow depends on.
//
// The daemon runs RunAll at startup and logs failures as warnings; the
// `subflow preflight` command prints the same results for operators.
// Binary availability lives in internal/deps.
package preflight
