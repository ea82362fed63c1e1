// Package session provides per-call session state and the concurrency-safe
// store that owns it. Sessions are created lazily on the first frame bearing
// an id and destroyed exactly once from the close or disconnect path.
package session
