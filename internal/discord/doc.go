// Package discord is a minimal client for the Discord REST API.
//
// It covers the calls the service makes outside the gateway connection:
// interaction callbacks (acknowledgments and ephemeral replies) and channel
// messages used by the audit log. Requests that fail with 429 or a 5xx
// status are retried with jittered exponential backoff.
package discord
