package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voicebridge/audiohook-gateway/internal/config"
	"github.com/voicebridge/audiohook-gateway/internal/engine"
	"github.com/voicebridge/audiohook-gateway/internal/metrics"
	"github.com/voicebridge/audiohook-gateway/internal/protocol"
	"github.com/voicebridge/audiohook-gateway/internal/transcode"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestGateway(t *testing.T) (*WSServer, *engine.Engine, string) {
	t.Helper()

	dir := t.TempDir()
	logger := testLogger()
	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())
	runner := transcode.NewRunner(&transcode.InProcess{SampleRate: 8000}, logger, 2)

	eng := engine.NewEngine(engine.Config{
		AudioDir:     dir,
		SampleRate:   8000,
		PromptAt:     10,
		PauseAt:      15,
		DisconnectAt: 20,
	}, logger, m, runner)
	t.Cleanup(eng.Stop)

	ws := NewWSServer(config.ServerConfig{
		BindAddress:  "127.0.0.1",
		Port:         0,
		Path:         "/audiohook",
		ReadLimit:    1 << 20,
		WriteTimeout: 5,
	}, eng, logger)

	return ws, eng, dir
}

func dialGateway(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/audiohook"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	return conn
}

func readControlFrame(t *testing.T, conn *websocket.Conn) *protocol.ControlFrame {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	if messageType != websocket.TextMessage {
		t.Fatalf("Expected a text frame, got message type %d", messageType)
	}

	var frame protocol.ControlFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Fatalf("Gateway sent unparseable frame: %v", err)
	}
	return &frame
}

func TestWebSocketOpenHandshake(t *testing.T) {
	ws, _, _ := newTestGateway(t)

	ts := httptest.NewServer(ws.Handler())
	defer ts.Close()

	conn := dialGateway(t, ts)
	defer conn.Close()

	open := `{"version":"2","type":"open","seq":1,"id":"ws-1","parameters":{"media":[{"type":"audio","format":"PCMU","channels":["external"],"rate":8000}]}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(open)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	frame := readControlFrame(t, conn)
	if frame.Type != protocol.TypeOpened {
		t.Fatalf("Expected opened, got %s", frame.Type)
	}

	if frame.Seq != 1 || frame.ClientSeq != 1 {
		t.Errorf("Unexpected sequencing: seq %d, clientseq %d", frame.Seq, frame.ClientSeq)
	}

	if len(frame.Parameters.Media) != 1 {
		t.Errorf("Expected one negotiated medium, got %d", len(frame.Parameters.Media))
	}
}

func TestWebSocketBinaryCapture(t *testing.T) {
	ws, eng, dir := newTestGateway(t)

	ts := httptest.NewServer(ws.Handler())
	defer ts.Close()

	conn := dialGateway(t, ts)

	open := `{"version":"2","type":"open","seq":1,"id":"ws-2","parameters":{"media":[{"type":"audio","format":"PCMU","rate":8000}]}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(open)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	readControlFrame(t, conn)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0xFF, 0x00, 0x7F}); err != nil {
		t.Fatalf("Binary write failed: %v", err)
	}

	// Transport drop finalizes the capture.
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	rawPath := filepath.Join(dir, "ws-2.raw")
	for time.Now().Before(deadline) {
		if eng.Store().Len() == 0 {
			if raw, err := os.ReadFile(rawPath); err == nil && len(raw) == 3 {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}

	raw, err := os.ReadFile(rawPath)
	if err != nil {
		t.Fatalf("Capture file missing after transport close: %v", err)
	}
	if len(raw) != 3 {
		t.Errorf("Expected 3 captured bytes, got %d", len(raw))
	}
}

func TestWebSocketCloseHandshake(t *testing.T) {
	ws, eng, _ := newTestGateway(t)

	ts := httptest.NewServer(ws.Handler())
	defer ts.Close()

	conn := dialGateway(t, ts)
	defer conn.Close()

	open := `{"version":"2","type":"open","seq":1,"id":"ws-3","parameters":{"media":[{"type":"audio","format":"PCMU","rate":8000}]}}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(open)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}
	readControlFrame(t, conn)

	closeReq := `{"version":"2","type":"close","seq":2,"id":"ws-3"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(closeReq)); err != nil {
		t.Fatalf("WriteMessage failed: %v", err)
	}

	frame := readControlFrame(t, conn)
	if frame.Type != protocol.TypeClosed {
		t.Fatalf("Expected closed, got %s", frame.Type)
	}

	if frame.ClientSeq != 2 {
		t.Errorf("Expected clientseq 2, got %d", frame.ClientSeq)
	}

	if eng.Store().Len() != 0 {
		t.Error("Expected no session after close handshake")
	}
}
