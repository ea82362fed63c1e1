// Package engine implements the gateway's control-frame state machine. It
// parses inbound frames, maintains per-session sequencing, answers open,
// ping and close requests, executes DTMF commands and applies the
// duration-gated playback policy that drives prompt pushes, capture
// finalization and the gateway-initiated disconnect.
package engine
