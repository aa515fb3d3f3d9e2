// Command subflow is the operator CLI for a running subflowd daemon. Every
// command except `config init` and `deps` talks to the daemon's HTTP API.
package main
