// Package llm performs validated, cached, retried requests against a
// text-generation backend.
//
// # Entry Points
//
// NewClient: construct a Client from resolved Settings and a Completer.
// Client.Call: run one logical request (cache lookup, attempts, validation).
// NewHTTPCompleter: the production Completer speaking either the OpenAI
// chat-completions shape or the Anthropic messages shape with a forced
// output_json tool, selected by model name.
// OpenStore: SQLite-backed record of every attempt, doubling as the cache.
//
// # Retry Behaviour
//
// A call makes Retries+1 attempts. Transport failures, malformed payloads and
// validator rejections are retried after RetryDelay (or the server's
// Retry-After when longer). Missing credentials, cancellation and client
// errors other than 408/409/429 are not retried. Attempt n resends the prompt
// with n-1 trailing spaces so upstream response caches are bypassed.
//
// # Caching
//
// Successful results are recorded under the "success" bucket keyed by model,
// prompt hash and response type; later identical calls return the stored
// result without touching the network. Validator rejections land in the
// "error" bucket for postmortem and are never served from cache.
package llm
