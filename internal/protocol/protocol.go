package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Version is the only protocol version this gateway speaks.
const Version = "2"

// MessageType identifies a control frame type on the wire.
type MessageType string

// Control frame types from the protocol enumeration.
const (
	TypeOpen              MessageType = "open"
	TypeOpened            MessageType = "opened"
	TypePing              MessageType = "ping"
	TypePong              MessageType = "pong"
	TypeClose             MessageType = "close"
	TypeClosed            MessageType = "closed"
	TypeDTMF              MessageType = "dtmf"
	TypePause             MessageType = "pause"
	TypePaused            MessageType = "paused"
	TypePlaybackStarted   MessageType = "playback_started"
	TypePlaybackCompleted MessageType = "playback_completed"
	TypeDisconnect        MessageType = "disconnect"
	TypeError             MessageType = "error"
	TypeEvent             MessageType = "event"
)

// Valid reports whether the message type belongs to the closed enumeration.
func (t MessageType) Valid() bool {
	switch t {
	case TypeOpen, TypeOpened, TypePing, TypePong, TypeClose, TypeClosed,
		TypeDTMF, TypePause, TypePaused, TypePlaybackStarted,
		TypePlaybackCompleted, TypeDisconnect, TypeError, TypeEvent:
		return true
	}
	return false
}

// MediaDescriptor describes one medium offered or accepted during open negotiation.
type MediaDescriptor struct {
	Type     string   `json:"type"`
	Format   string   `json:"format"`
	Channels []string `json:"channels,omitempty"`
	Rate     int      `json:"rate"`
}

// Entity carries a typed data payload inside an event frame.
type Entity struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Parameters holds the type-dependent portion of a control frame.
// All fields are optional on the wire; which ones are meaningful depends
// on the frame type.
type Parameters struct {
	StartPaused     *bool             `json:"startPaused,omitempty"`
	Media           []MediaDescriptor `json:"media,omitempty"`
	Digit           string            `json:"digit,omitempty"`
	Position        string            `json:"position,omitempty"`
	Reason          string            `json:"reason,omitempty"`
	OutputVariables map[string]string `json:"outputVariables,omitempty"`
	Entities        []Entity          `json:"entities,omitempty"`
}

// ControlFrame is a single JSON control message. Frames are transient:
// parsed, dispatched and discarded, never stored beyond one dispatch call.
type ControlFrame struct {
	Version    string      `json:"version"`
	Type       MessageType `json:"type"`
	Seq        int         `json:"seq"`
	ClientSeq  int         `json:"clientseq,omitempty"`
	ServerSeq  int         `json:"serverseq,omitempty"`
	ID         string      `json:"id"`
	Parameters Parameters  `json:"parameters"`
}

// Parse decodes a text frame into a ControlFrame. A frame without a session
// id or without a type is malformed; an unrecognized type value survives
// parsing so the caller can classify it separately.
func Parse(data []byte) (*ControlFrame, error) {
	var frame ControlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, fmt.Errorf("malformed control frame: %w", err)
	}

	if frame.ID == "" {
		return nil, fmt.Errorf("control frame missing session id")
	}

	if frame.Type == "" {
		return nil, fmt.Errorf("control frame missing type")
	}

	return &frame, nil
}

// Encode serializes a control frame for the wire.
func Encode(frame *ControlFrame) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s frame: %w", frame.Type, err)
	}
	return data, nil
}

// NewOpened builds the opened response to an open request. The gateway
// negotiates down to exactly one medium: the first one the peer offered.
func NewOpened(req *ControlFrame, serverSeq int) *ControlFrame {
	startPaused := false

	var media []MediaDescriptor
	if len(req.Parameters.Media) > 0 {
		media = []MediaDescriptor{req.Parameters.Media[0]}
	}

	return &ControlFrame{
		Version:   Version,
		Type:      TypeOpened,
		Seq:       serverSeq,
		ClientSeq: req.Seq,
		ID:        req.ID,
		Parameters: Parameters{
			StartPaused: &startPaused,
			Media:       media,
		},
	}
}

// NewPong builds the pong response to a ping.
func NewPong(req *ControlFrame, serverSeq int) *ControlFrame {
	return &ControlFrame{
		Version:   Version,
		Type:      TypePong,
		Seq:       serverSeq,
		ClientSeq: req.Seq,
		ID:        req.ID,
	}
}

// NewEvent builds the one-shot informational event frame carrying an
// output-variable entity payload. Sent at most once per session, alongside
// the first pong.
func NewEvent(req *ControlFrame, serverSeq int, variables map[string]string) *ControlFrame {
	data, _ := json.Marshal(variables)

	return &ControlFrame{
		Version:   Version,
		Type:      TypeEvent,
		Seq:       serverSeq,
		ServerSeq: req.Seq,
		ID:        req.ID,
		Parameters: Parameters{
			Entities: []Entity{{Type: "example", Data: data}},
		},
	}
}

// NewClosed builds the closed response to a close request.
func NewClosed(req *ControlFrame, serverSeq int) *ControlFrame {
	return &ControlFrame{
		Version:   Version,
		Type:      TypeClosed,
		Seq:       serverSeq,
		ClientSeq: req.Seq,
		ID:        req.ID,
	}
}

// NewPause builds a gateway-initiated pause frame.
func NewPause(sessionID string, serverSeq, clientSeq int) *ControlFrame {
	return &ControlFrame{
		Version:   Version,
		Type:      TypePause,
		Seq:       serverSeq,
		ClientSeq: clientSeq,
		ID:        sessionID,
	}
}

// NewDisconnect builds the gateway-initiated disconnect frame with
// reason "completed" and a fixed output-variables payload.
func NewDisconnect(sessionID string, serverSeq, clientSeq int, variables map[string]string) *ControlFrame {
	return &ControlFrame{
		Version:   Version,
		Type:      TypeDisconnect,
		Seq:       serverSeq,
		ClientSeq: clientSeq,
		ID:        sessionID,
		Parameters: Parameters{
			Reason:          "completed",
			OutputVariables: variables,
		},
	}
}

// ParsePosition extracts the stream position in seconds from a peer-reported
// position string. The value is a leading decimal number; ISO-8601 duration
// dressing ("PT15.3S") is tolerated.
func ParsePosition(position string) (float64, error) {
	s := strings.TrimSpace(position)
	s = strings.TrimPrefix(s, "PT")
	s = strings.TrimSuffix(s, "S")

	if s == "" {
		return 0, fmt.Errorf("empty position value")
	}

	// Take the leading decimal run.
	end := 0
	for end < len(s) && (s[end] == '.' || (s[end] >= '0' && s[end] <= '9')) {
		end++
	}

	if end == 0 {
		return 0, fmt.Errorf("position %q has no leading decimal", position)
	}

	seconds, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return 0, fmt.Errorf("invalid position %q: %w", position, err)
	}

	return seconds, nil
}

// String returns a human-readable representation of the frame for logging.
func (f *ControlFrame) String() string {
	return fmt.Sprintf("ControlFrame{Type:%s, Seq:%d, ClientSeq:%d, ID:%s}",
		f.Type, f.Seq, f.ClientSeq, f.ID)
}
