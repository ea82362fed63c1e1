// Package transcode performs the RAW to WAV conversion step, either
// in-process via the container codec or by invoking an external tool, with
// asynchronous dispatch that never blocks protocol handling.
package transcode
