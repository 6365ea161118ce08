// Package server exposes the session manager over HTTP: JSON control endpoints,
// a text export download, a WebSocket channel for live events, and the health
// and Prometheus monitoring endpoints.
package server
