// Package runstate holds the single process-wide status and log store that
// every pipeline component reports into.
//
// A State tracks the overall run status, one record per named stage, the
// last error message, and a bounded ring of log entries. The ring is paired
// with a sequence counter that only ever grows, so pollers can ask for
// "entries after N" without missing or repeating lines even after eviction.
// Observers either poll (Logs, WaitLogs, Snapshot) or Subscribe to change
// events. Construct one State in main and pass it to whatever needs it.
package runstate
