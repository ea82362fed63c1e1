// Package protocol implements the JSON control frame codec for the
// AudioHook-style session protocol: frame parsing and validation, the
// message type enumeration, and builders for every outbound frame the
// gateway produces.
package protocol
