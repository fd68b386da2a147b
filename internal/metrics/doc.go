// Package metrics records synchronization and update session metrics.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder. The daemon swaps in a PrometheusRecorder backed by a private
// registry and serves it on /metrics.
package metrics
