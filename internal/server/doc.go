// Package server provides the gateway's network surfaces: the WebSocket
// endpoint carrying control frames and binary audio, and the HTTP API for
// artifact downloads, session monitoring and metrics.
package server
