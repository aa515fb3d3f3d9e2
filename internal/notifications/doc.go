// Package notifications publishes run and burn outcomes to ntfy.
//
// NewService returns a no-op implementation when no topic is configured,
// so the workflow can call it unconditionally.
package notifications
