// Package metrics defines the Prometheus instrumentation for the gateway:
// frame, capture, session, playback, transcode and HTTP counters exposed on
// the /metrics endpoint.
package metrics
