package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseOpenFrame(t *testing.T) {
	raw := []byte(`{
		"version": "2",
		"type": "open",
		"seq": 1,
		"id": "session-abc",
		"parameters": {
			"media": [
				{"type": "audio", "format": "PCMU", "rate": 8000},
				{"type": "audio", "format": "L16", "rate": 8000}
			]
		}
	}`)

	frame, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if frame.Type != TypeOpen {
		t.Errorf("Expected type open, got %s", frame.Type)
	}

	if frame.ID != "session-abc" {
		t.Errorf("Expected id session-abc, got %s", frame.ID)
	}

	if frame.Seq != 1 {
		t.Errorf("Expected seq 1, got %d", frame.Seq)
	}

	if len(frame.Parameters.Media) != 2 {
		t.Fatalf("Expected 2 media entries, got %d", len(frame.Parameters.Media))
	}

	if frame.Parameters.Media[0].Format != "PCMU" {
		t.Errorf("Expected first medium PCMU, got %s", frame.Parameters.Media[0].Format)
	}
}

func TestParseMissingID(t *testing.T) {
	raw := []byte(`{"version": "2", "type": "ping", "seq": 3}`)

	_, err := Parse(raw)
	if err == nil {
		t.Fatal("Expected error for frame without session id")
	}
}

func TestParseMissingType(t *testing.T) {
	raw := []byte(`{"version": "2", "seq": 3, "id": "s1"}`)

	_, err := Parse(raw)
	if err == nil {
		t.Fatal("Expected error for frame without type")
	}
}

func TestParseMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"version": "2", "type": `))
	if err == nil {
		t.Fatal("Expected error for malformed JSON")
	}
}

func TestParseUnknownTypeSurvives(t *testing.T) {
	raw := []byte(`{"version": "2", "type": "telemetry", "seq": 7, "id": "s1"}`)

	frame, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if frame.Type.Valid() {
		t.Errorf("Expected type %q to be invalid", frame.Type)
	}
}

func TestMessageTypeValid(t *testing.T) {
	valid := []MessageType{
		TypeOpen, TypeOpened, TypePing, TypePong, TypeClose, TypeClosed,
		TypeDTMF, TypePause, TypePaused, TypePlaybackStarted,
		TypePlaybackCompleted, TypeDisconnect, TypeError, TypeEvent,
	}

	for _, mt := range valid {
		if !mt.Valid() {
			t.Errorf("Expected %s to be valid", mt)
		}
	}

	if MessageType("bogus").Valid() {
		t.Error("Expected bogus type to be invalid")
	}
}

func TestNewOpenedNegotiatesSingleMedium(t *testing.T) {
	req := &ControlFrame{
		Version: Version,
		Type:    TypeOpen,
		Seq:     5,
		ID:      "session-1",
		Parameters: Parameters{
			Media: []MediaDescriptor{
				{Type: "audio", Format: "PCMU", Rate: 8000},
				{Type: "audio", Format: "L16", Rate: 16000},
			},
		},
	}

	resp := NewOpened(req, 1)

	if resp.Type != TypeOpened {
		t.Errorf("Expected opened, got %s", resp.Type)
	}

	if resp.Seq != 1 {
		t.Errorf("Expected seq 1, got %d", resp.Seq)
	}

	if resp.ClientSeq != 5 {
		t.Errorf("Expected clientseq 5, got %d", resp.ClientSeq)
	}

	if len(resp.Parameters.Media) != 1 {
		t.Fatalf("Expected exactly 1 negotiated medium, got %d", len(resp.Parameters.Media))
	}

	if resp.Parameters.Media[0].Format != "PCMU" {
		t.Errorf("Expected first offered medium PCMU, got %s", resp.Parameters.Media[0].Format)
	}

	if resp.Parameters.StartPaused == nil || *resp.Parameters.StartPaused {
		t.Error("Expected startPaused false")
	}
}

func TestNewOpenedNoMedia(t *testing.T) {
	req := &ControlFrame{Version: Version, Type: TypeOpen, Seq: 1, ID: "s1"}

	resp := NewOpened(req, 1)
	if len(resp.Parameters.Media) != 0 {
		t.Errorf("Expected no media in response, got %d", len(resp.Parameters.Media))
	}
}

func TestNewDisconnect(t *testing.T) {
	frame := NewDisconnect("s1", 4, 9, map[string]string{"OutputVariable": "done"})

	if frame.Type != TypeDisconnect {
		t.Errorf("Expected disconnect, got %s", frame.Type)
	}

	if frame.Parameters.Reason != "completed" {
		t.Errorf("Expected reason completed, got %s", frame.Parameters.Reason)
	}

	if frame.Parameters.OutputVariables["OutputVariable"] != "done" {
		t.Error("Expected output variable to round-trip")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	frame := NewPong(&ControlFrame{Type: TypePing, Seq: 2, ID: "s1"}, 3)

	data, err := Encode(frame)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Encoded frame is not valid JSON: %v", err)
	}

	if decoded["type"] != "pong" {
		t.Errorf("Expected type pong, got %v", decoded["type"])
	}

	if decoded["version"] != "2" {
		t.Errorf("Expected version 2, got %v", decoded["version"])
	}
}

func TestNewEventCarriesEntities(t *testing.T) {
	req := &ControlFrame{Type: TypePing, Seq: 2, ID: "s1"}
	frame := NewEvent(req, 4, map[string]string{"OutputVariable": "FromBot"})

	if frame.Type != TypeEvent {
		t.Errorf("Expected event, got %s", frame.Type)
	}

	if frame.ServerSeq != 2 {
		t.Errorf("Expected serverseq 2, got %d", frame.ServerSeq)
	}

	if len(frame.Parameters.Entities) != 1 {
		t.Fatalf("Expected 1 entity, got %d", len(frame.Parameters.Entities))
	}

	var data map[string]string
	if err := json.Unmarshal(frame.Parameters.Entities[0].Data, &data); err != nil {
		t.Fatalf("Entity data is not valid JSON: %v", err)
	}

	if data["OutputVariable"] != "FromBot" {
		t.Errorf("Expected OutputVariable FromBot, got %s", data["OutputVariable"])
	}
}

func TestParsePosition(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		wantErr  bool
	}{
		{"15.3", 15.3, false},
		{"10", 10.0, false},
		{"PT15.3S", 15.3, false},
		{"0", 0, false},
		{"12.5 extra", 12.5, false},
		{"", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		got, err := ParsePosition(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePosition(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePosition(%q) failed: %v", tt.input, err)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParsePosition(%q): expected %f, got %f", tt.input, tt.expected, got)
		}
	}
}
