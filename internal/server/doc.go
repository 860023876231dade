// Package server implements the local diagnostics HTTP server. It reports
// health, capture session state, masked configuration and component
// statistics, exposes Prometheus metrics, and lets external hotkey tools
// start and stop a recording.
package server
