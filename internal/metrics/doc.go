// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Gateway connection status, reconnects and heartbeat latency
//   - Outbound frame counts and rate-limit waits
//   - Dispatch and forwarded interaction counts
//   - Overlay viewers and updates
//   - HTTP request counts and latencies
//
// Every method is safe to call on a nil *Metrics, so components can run
// without a registry in tests.
package metrics
