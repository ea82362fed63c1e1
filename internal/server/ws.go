package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/voicebridge/audiohook-gateway/internal/config"
	"github.com/voicebridge/audiohook-gateway/internal/engine"
)

// Conn wraps a WebSocket connection as a frame sender. Gorilla connections
// allow one concurrent writer, so all outbound traffic funnels through the
// write mutex.
type Conn struct {
	ws           *websocket.Conn
	writeTimeout time.Duration

	mu sync.Mutex
}

// WriteText sends one control frame.
func (c *Conn) WriteText(data []byte) error {
	return c.write(websocket.TextMessage, data)
}

// WriteBinary sends one binary audio payload.
func (c *Conn) WriteBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *Conn) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	return c.ws.WriteMessage(messageType, data)
}

// WSServer accepts WebSocket connections on the configured path and feeds
// both frame kinds to the engine.
type WSServer struct {
	cfg      config.ServerConfig
	engine   *engine.Engine
	logger   *slog.Logger
	upgrader websocket.Upgrader
	server   *http.Server
}

// NewWSServer creates the WebSocket endpoint server.
func NewWSServer(cfg config.ServerConfig, eng *engine.Engine, logger *slog.Logger) *WSServer {
	s := &WSServer{
		cfg:    cfg,
		engine: eng,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Peers connect from arbitrary telephony infrastructure.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleWebSocket)

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
		Handler: mux,
	}

	return s
}

// Start serves connections until Shutdown. It blocks.
func (s *WSServer) Start() error {
	s.logger.Info("WebSocket server listening",
		slog.String("address", s.server.Addr),
		slog.String("path", s.cfg.Path),
	)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("websocket server failed: %w", err)
	}

	return nil
}

// Shutdown stops accepting connections and drains the server.
func (s *WSServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler exposes the endpoint for tests.
func (s *WSServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("WebSocket upgrade failed",
			slog.String("remote", r.RemoteAddr),
			slog.String("error", err.Error()),
		)
		return
	}

	connID := uuid.New().String()

	s.logger.Info("Connection established",
		slog.String("conn_id", connID),
		slog.String("remote", r.RemoteAddr),
	)

	if s.cfg.ReadLimit > 0 {
		ws.SetReadLimit(s.cfg.ReadLimit)
	}

	conn := &Conn{ws: ws, writeTimeout: s.cfg.GetWriteTimeout()}

	defer func() {
		s.engine.HandleTransportClose(conn)
		ws.Close()
		s.logger.Info("Connection closed",
			slog.String("conn_id", connID),
		)
	}()

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("Connection read failed",
					slog.String("conn_id", connID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			s.engine.Dispatch(conn, data)
		case websocket.BinaryMessage:
			s.engine.DispatchBinary(conn, data)
		default:
			// Control message types are handled by gorilla internally.
		}
	}
}
