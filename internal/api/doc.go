// Package api exposes the workflow over HTTP and provides the typed client
// the CLI uses.
//
// The server is a chi router mounted under /api. Control endpoints map
// directly onto workflow.Manager operations; a request that would start
// work while a run is active is answered with 409 and a {"message": ...}
// body. Every other failure uses the same body shape with a status code
// derived from the services error markers.
//
// Logs are served from the run state's ring buffer, either as pages
// (GET /api/logs with since/limit and an optional long-poll wait) or as a
// websocket stream (GET /api/ws/logs) that replays from a cursor and then
// follows new entries.
//
// When a bearer token is configured, every route requires it.
package api
