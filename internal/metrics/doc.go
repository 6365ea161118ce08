// Package metrics defines the Prometheus instrumentation for sessions, the audio pipeline,
// engine calls, event publication, and the HTTP API.
package metrics
