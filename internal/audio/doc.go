// Package audio handles raw audio capture and container assembly.
// It implements the per-session append-only capture sink, u-law to linear
// PCM expansion, and WAV container encoding where header size fields are
// computed from the final payload length.
package audio
