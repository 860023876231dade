// Package metrics defines the Prometheus instruments for capture, transcode,
// transport and the local diagnostics API.
package metrics
