package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/voicebridge/audiohook-gateway/internal/audio"
	"github.com/voicebridge/audiohook-gateway/internal/config"
	"github.com/voicebridge/audiohook-gateway/internal/metrics"
	"github.com/voicebridge/audiohook-gateway/internal/session"
)

type nullConn struct{}

func (nullConn) WriteText([]byte) error   { return nil }
func (nullConn) WriteBinary([]byte) error { return nil }

func newTestAPI(t *testing.T) (*API, *session.Store, string) {
	t.Helper()

	dir := t.TempDir()
	logger := testLogger()
	store := session.NewStore(logger, 0, nil)
	t.Cleanup(store.Stop)

	m := metrics.NewMetricsWithRegistry(prometheus.NewRegistry())

	api := NewAPI(config.HTTPConfig{
		Enabled: true,
		Address: "127.0.0.1",
		Port:    0,
	}, dir, "", store, m, logger)

	return api, store, dir
}

func getJSON(t *testing.T, ts *httptest.Server, path string, wantStatus int) map[string]any {
	t.Helper()

	resp, err := http.Get(ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		t.Fatalf("GET %s: expected status %d, got %d", path, wantStatus, resp.StatusCode)
	}

	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("GET %s: response is not JSON: %v", path, err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	api, _, _ := newTestAPI(t)
	ts := httptest.NewServer(api.Router())
	defer ts.Close()

	payload := getJSON(t, ts, "/health", http.StatusOK)
	if payload["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", payload["status"])
	}
}

func TestSessionsEndpoint(t *testing.T) {
	api, store, _ := newTestAPI(t)
	ts := httptest.NewServer(api.Router())
	defer ts.Close()

	payload := getJSON(t, ts, "/sessions", http.StatusOK)
	if payload["count"].(float64) != 0 {
		t.Errorf("Expected zero sessions, got %v", payload["count"])
	}

	sess, _ := store.GetOrCreate("call-42", nullConn{})
	sess.NextServerSeq()

	payload = getJSON(t, ts, "/sessions", http.StatusOK)
	if payload["count"].(float64) != 1 {
		t.Errorf("Expected one session, got %v", payload["count"])
	}

	detail := getJSON(t, ts, "/sessions/call-42", http.StatusOK)
	if detail["id"] != "call-42" {
		t.Errorf("Expected session call-42, got %v", detail["id"])
	}

	if detail["server_seq"].(float64) != 1 {
		t.Errorf("Expected server_seq 1, got %v", detail["server_seq"])
	}

	getJSON(t, ts, "/sessions/no-such-id", http.StatusNotFound)
}

func TestArtifactDownload(t *testing.T) {
	api, _, dir := newTestAPI(t)
	ts := httptest.NewServer(api.Router())
	defer ts.Close()

	getJSON(t, ts, "/audio/call-1.wav", http.StatusNotFound)

	container, err := audio.EncodeULawWAV([]byte{0x01, 0x02}, 8000)
	if err != nil {
		t.Fatalf("Failed to build container: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "call-1.wav"), container, 0644); err != nil {
		t.Fatalf("Failed to write container: %v", err)
	}

	resp, err := http.Get(ts.URL + "/audio/call-1.wav")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Errorf("Expected audio/wav content type, got %s", ct)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read body: %v", err)
	}

	if len(body) != len(container) {
		t.Errorf("Expected %d bytes, got %d", len(container), len(body))
	}

	if err := audio.ValidateWAV(body); err != nil {
		t.Errorf("Downloaded container invalid: %v", err)
	}
}

func TestArtifactRejectsOtherExtensions(t *testing.T) {
	api, _, dir := newTestAPI(t)
	ts := httptest.NewServer(api.Router())
	defer ts.Close()

	if err := os.WriteFile(filepath.Join(dir, "secret.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	getJSON(t, ts, "/audio/secret.txt", http.StatusBadRequest)
}

func TestLogEndpointDisabled(t *testing.T) {
	api, _, _ := newTestAPI(t)
	ts := httptest.NewServer(api.Router())
	defer ts.Close()

	getJSON(t, ts, "/log", http.StatusNotFound)
}

func TestStatsEndpoint(t *testing.T) {
	api, store, _ := newTestAPI(t)
	ts := httptest.NewServer(api.Router())
	defer ts.Close()

	store.GetOrCreate("s1", nullConn{})
	store.GetOrCreate("s2", nullConn{})

	payload := getJSON(t, ts, "/stats", http.StatusOK)
	if payload["active_sessions"].(float64) != 2 {
		t.Errorf("Expected two active sessions, got %v", payload["active_sessions"])
	}

	states := payload["states"].(map[string]any)
	if states["opening"].(float64) != 2 {
		t.Errorf("Expected two opening sessions, got %v", states["opening"])
	}
}
