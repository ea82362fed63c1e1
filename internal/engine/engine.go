package engine

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/voicebridge/audiohook-gateway/internal/audio"
	"github.com/voicebridge/audiohook-gateway/internal/metrics"
	"github.com/voicebridge/audiohook-gateway/internal/protocol"
	"github.com/voicebridge/audiohook-gateway/internal/session"
	"github.com/voicebridge/audiohook-gateway/internal/transcode"
)

// Payloads attached to gateway-initiated frames.
var (
	eventVariables      = map[string]string{"greeting": "session established"}
	disconnectVariables = map[string]string{"disposition": "capture complete"}
)

// Config carries the engine parameters extracted from the gateway
// configuration.
type Config struct {
	AudioDir     string
	SampleRate   int
	PromptPath   string
	PromptAt     float64
	PauseAt      float64
	DisconnectAt float64
	IdleTimeout  time.Duration
}

// Engine owns the control-frame state machine: it parses inbound frames,
// routes them to their sessions, answers with the matching response frames
// and applies the duration-gated playback policy. Every failure is contained
// to at most one session; the engine itself never stops on peer input.
type Engine struct {
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	store   *session.Store
	runner  *transcode.Runner
	prompt  []byte
}

// NewEngine creates the engine and its session store. The prompt payload is
// loaded once at startup; a missing prompt file downgrades prompt pushes to
// a logged no-op instead of failing the gateway.
func NewEngine(cfg Config, logger *slog.Logger, m *metrics.Metrics, runner *transcode.Runner) *Engine {
	e := &Engine{
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		runner:  runner,
	}

	e.store = session.NewStore(logger, cfg.IdleTimeout, e.evict)

	if cfg.PromptPath != "" {
		prompt, err := os.ReadFile(cfg.PromptPath)
		if err != nil {
			logger.Warn("Prompt payload unavailable, prompt pushes disabled",
				slog.String("path", cfg.PromptPath),
				slog.String("error", err.Error()),
			)
		} else {
			e.prompt = prompt
			logger.Info("Prompt payload loaded",
				slog.String("path", cfg.PromptPath),
				slog.Int("bytes", len(prompt)),
			)
		}
	}

	return e
}

// Store exposes the session store for monitoring surfaces.
func (e *Engine) Store() *session.Store {
	return e.store
}

// Stop shuts down the background session cleanup.
func (e *Engine) Stop() {
	e.store.Stop()
}

// Dispatch handles one inbound text frame from a connection. Malformed or
// unrecognized input is counted and dropped; it never tears anything down.
func (e *Engine) Dispatch(conn session.Sender, data []byte) {
	frame, err := protocol.Parse(data)
	if err != nil {
		e.metrics.RecordParseError()
		e.logger.Warn("Dropping malformed control frame",
			slog.String("error", err.Error()),
			slog.String("payload", truncate(data, 256)),
		)
		return
	}

	e.metrics.RecordFrameReceived(string(frame.Type))

	if !frame.Type.Valid() {
		e.metrics.RecordUnknownType()
		e.logger.Warn("Dropping frame with unrecognized type",
			slog.String("type", string(frame.Type)),
			slog.String("session_id", frame.ID),
		)
		return
	}

	sess, created := e.store.GetOrCreate(frame.ID, conn)
	if sess == nil {
		e.logger.Debug("Dropping frame for closed session",
			slog.String("session_id", frame.ID),
			slog.String("type", string(frame.Type)),
		)
		return
	}

	if created {
		e.metrics.RecordSessionCreated(e.store.Len())
		if !e.attachCapture(sess) {
			return
		}
	}

	sess.ObserveClientSeq(frame.Seq)

	if pos := frame.Parameters.Position; pos != "" {
		if seconds, err := protocol.ParsePosition(pos); err == nil {
			sess.UpdatePosition(seconds)
		} else {
			e.logger.Debug("Ignoring unparseable position",
				slog.String("session_id", sess.ID),
				slog.String("position", pos),
			)
		}
	}

	switch frame.Type {
	case protocol.TypeOpen:
		e.handleOpen(sess, frame)
	case protocol.TypePing:
		e.handlePing(sess, frame)
	case protocol.TypeClose:
		e.handleClose(sess, frame)
		return
	case protocol.TypeDTMF:
		e.handleDTMF(sess, frame)
	case protocol.TypePaused:
		sess.SetState(session.StatePaused)
	case protocol.TypePlaybackStarted:
		e.logger.Debug("Peer playback started",
			slog.String("session_id", sess.ID),
		)
	case protocol.TypePlaybackCompleted:
		e.logger.Debug("Peer playback completed",
			slog.String("session_id", sess.ID),
		)
	case protocol.TypeError:
		e.logger.Warn("Peer reported an error",
			slog.String("session_id", sess.ID),
			slog.String("reason", frame.Parameters.Reason),
		)
	default:
		// Recognized but informational for the gateway side.
		e.logger.Debug("No handler action for frame",
			slog.String("session_id", sess.ID),
			slog.String("type", string(frame.Type)),
		)
	}

	e.evaluatePolicy(sess)
}

// DispatchBinary handles one inbound binary audio frame. Binary frames carry
// no session id; association comes from the sending connection alone.
func (e *Engine) DispatchBinary(conn session.Sender, data []byte) {
	sess, ok := e.store.ByConn(conn)
	if !ok {
		e.metrics.RecordOrphanedBinary()
		e.logger.Debug("Dropping binary frame with no owning session",
			slog.Int("bytes", len(data)),
		)
		return
	}

	if sess.State().Terminal() {
		return
	}

	sess.Touch()
	if sess.State() == session.StateOpen {
		sess.SetState(session.StateStreaming)
	}

	sink := sess.Sink()
	if sink == nil {
		return
	}

	if err := sink.Write(data); err != nil {
		// Audio is still in flight while the peer processes our pause, so
		// frames landing after the finalize are expected: drop them.
		if errors.Is(err, audio.ErrFinalized) {
			e.logger.Debug("Dropping binary frame after capture finalize",
				slog.String("session_id", sess.ID),
				slog.Int("bytes", len(data)),
			)
			return
		}

		e.logger.Error("Capture write failed, terminating session",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		e.teardown(sess, session.StateClosed)
		return
	}

	e.metrics.RecordBinary(len(data))
}

// HandleTransportClose tears down the session owning a dropped connection.
// The transport is gone, so no farewell frames are attempted.
func (e *Engine) HandleTransportClose(conn session.Sender) {
	sess, ok := e.store.ByConn(conn)
	if !ok {
		return
	}

	e.logger.Info("Transport closed, finalizing session",
		slog.String("session_id", sess.ID),
	)
	e.teardown(sess, session.StateClosed)
}

// attachCapture opens the raw capture stream for a new session. A capture
// that cannot be opened is fatal for this session only.
func (e *Engine) attachCapture(sess *session.Session) bool {
	sink, err := audio.NewSink(e.rawPath(sess.ID))
	if err != nil {
		e.logger.Error("Failed to open capture stream, rejecting session",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		e.store.Remove(sess.ID)
		e.metrics.RecordSessionClosed(e.store.Len(), time.Since(sess.StartTime).Seconds())
		return false
	}

	sess.AttachSink(sink)
	return true
}

func (e *Engine) handleOpen(sess *session.Session, frame *protocol.ControlFrame) {
	sess.SetState(session.StateOpen)

	if len(frame.Parameters.Media) > 1 {
		e.logger.Debug("Negotiating down to first offered medium",
			slog.String("session_id", sess.ID),
			slog.Int("offered", len(frame.Parameters.Media)),
		)
	}

	e.sendFrame(sess, protocol.NewOpened(frame, sess.NextServerSeq()))
}

func (e *Engine) handlePing(sess *session.Session, frame *protocol.ControlFrame) {
	e.sendFrame(sess, protocol.NewPong(frame, sess.NextServerSeq()))

	if sess.MarkEventSent() {
		e.sendFrame(sess, protocol.NewEvent(frame, sess.NextServerSeq(), eventVariables))
	}
}

func (e *Engine) handleClose(sess *session.Session, frame *protocol.ControlFrame) {
	sess.SetState(session.StateClosing)
	e.sendFrame(sess, protocol.NewClosed(frame, sess.NextServerSeq()))
	e.teardown(sess, session.StateClosed)
}

// handleDTMF maps digit commands onto gateway actions. Digits outside the
// command set are logged and ignored.
func (e *Engine) handleDTMF(sess *session.Session, frame *protocol.ControlFrame) {
	digit := frame.Parameters.Digit

	e.logger.Info("DTMF command received",
		slog.String("session_id", sess.ID),
		slog.String("digit", digit),
	)

	switch digit {
	case "1":
		e.metrics.RecordDTMF()
		e.pushPrompt(sess)
	case "2":
		e.metrics.RecordDTMF()
		e.sendFrame(sess, protocol.NewPause(sess.ID, sess.NextServerSeq(), sess.LastClientSeq()))
	case "3":
		e.metrics.RecordDTMF()
		e.finalizeCapture(sess)
	case "4":
		e.metrics.RecordDTMF()
		e.pushContainer(sess)
	case "5":
		e.metrics.RecordDTMF()
		e.sendDisconnect(sess)
	default:
		e.logger.Warn("Ignoring unmapped DTMF digit",
			slog.String("session_id", sess.ID),
			slog.String("digit", digit),
		)
	}
}

// evaluatePolicy applies the duration-gated playback policy after each
// control frame. Thresholds act on the peer-reported stream position, so a
// silent peer never advances the policy.
func (e *Engine) evaluatePolicy(sess *session.Session) {
	if sess.State().Terminal() {
		return
	}

	elapsed := sess.Elapsed()

	switch {
	case sess.ReplaySent() || elapsed >= e.cfg.DisconnectAt:
		e.sendDisconnect(sess)

	case elapsed >= e.cfg.PauseAt:
		if !sess.MarkPauseSent() {
			return
		}

		e.sendFrame(sess, protocol.NewPause(sess.ID, sess.NextServerSeq(), sess.LastClientSeq()))

		done := e.finalizeCapture(sess)
		if done == nil {
			return
		}

		go func() {
			res := <-done
			if res.Err != nil {
				// Conversion failure is not session-fatal; the session
				// still disconnects once the position threshold is hit.
				return
			}
			e.pushReplay(sess, res.Path)
		}()

	case elapsed >= e.cfg.PromptAt:
		if sess.MarkPromptSent() {
			e.pushPrompt(sess)
		}
	}
}

// finalizeCapture closes the raw capture and hands it to the transcoder,
// exactly once per session. The returned channel delivers the conversion
// outcome; nil means there was nothing (left) to convert.
func (e *Engine) finalizeCapture(sess *session.Session) <-chan transcode.Result {
	sink := sess.Sink()
	if sink == nil {
		return nil
	}

	if err := sink.Finalize(); err != nil {
		e.logger.Error("Capture finalize failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return nil
	}

	if !sess.MarkTranscodeStarted() {
		return nil
	}

	start := time.Now()
	inner := e.runner.ConvertAsync(sink.Path(), e.wavPath(sess.ID))

	done := make(chan transcode.Result, 1)
	go func() {
		res := <-inner
		e.metrics.RecordTranscode(res.Err == nil, time.Since(start).Seconds())
		done <- res
	}()

	return done
}

// pushPrompt sends the pre-recorded prompt payload as binary audio.
func (e *Engine) pushPrompt(sess *session.Session) {
	if len(e.prompt) == 0 {
		e.logger.Warn("Prompt push requested but no payload is loaded",
			slog.String("session_id", sess.ID),
		)
		return
	}

	if err := sess.Conn.WriteBinary(e.prompt); err != nil {
		e.logger.Error("Prompt push failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	e.metrics.RecordPromptPush()
	e.logger.Info("Prompt pushed",
		slog.String("session_id", sess.ID),
		slog.Int("bytes", len(e.prompt)),
	)
}

// pushContainer sends the finalized container for this session, if one has
// been produced.
func (e *Engine) pushContainer(sess *session.Session) {
	path := e.wavPath(sess.ID)

	container, err := os.ReadFile(path)
	if err != nil {
		e.logger.Warn("Container push requested but no container exists",
			slog.String("session_id", sess.ID),
			slog.String("path", path),
		)
		return
	}

	if err := sess.Conn.WriteBinary(container); err != nil {
		e.logger.Error("Container push failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	e.logger.Info("Container pushed",
		slog.String("session_id", sess.ID),
		slog.Int("bytes", len(container)),
	)
}

// pushReplay sends the freshly-converted container back to the peer, at most
// once per session. The replay flag arms the disconnect on the next frame.
func (e *Engine) pushReplay(sess *session.Session, path string) {
	if sess.State().Terminal() {
		return
	}

	if !sess.MarkReplaySent() {
		return
	}

	container, err := os.ReadFile(path)
	if err != nil {
		e.logger.Error("Replay read failed",
			slog.String("session_id", sess.ID),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := sess.Conn.WriteBinary(container); err != nil {
		e.logger.Error("Replay push failed",
			slog.String("session_id", sess.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	e.metrics.RecordReplayPush()
	e.logger.Info("Replay pushed",
		slog.String("session_id", sess.ID),
		slog.Int("bytes", len(container)),
	)
}

// sendDisconnect initiates the gateway-side disconnect and finalizes the
// session. Safe to call from multiple paths; only the first wins.
func (e *Engine) sendDisconnect(sess *session.Session) {
	if !sess.Terminate(session.StateDisconnected) {
		return
	}

	e.sendFrame(sess, protocol.NewDisconnect(
		sess.ID, sess.NextServerSeq(), sess.LastClientSeq(), disconnectVariables))

	e.finalizeCapture(sess)
	e.store.Remove(sess.ID)
	e.metrics.RecordSessionClosed(e.store.Len(), time.Since(sess.StartTime).Seconds())
}

// teardown finalizes a session without a disconnect frame: explicit close,
// transport drop and capture failure all land here.
func (e *Engine) teardown(sess *session.Session, state session.State) {
	if !sess.Terminate(state) {
		return
	}

	e.finalizeCapture(sess)
	e.store.Remove(sess.ID)
	e.metrics.RecordSessionClosed(e.store.Len(), time.Since(sess.StartTime).Seconds())
}

// evict is the idle-timeout path: the peer went quiet, so the disconnect
// frame is attempted on a connection that may already be dead.
func (e *Engine) evict(sess *session.Session) {
	e.sendDisconnect(sess)
}

// sendFrame encodes and writes one control frame, with outcome accounting.
func (e *Engine) sendFrame(sess *session.Session, frame *protocol.ControlFrame) {
	data, err := protocol.Encode(frame)
	if err != nil {
		e.logger.Error("Failed to encode outbound frame",
			slog.String("session_id", sess.ID),
			slog.String("type", string(frame.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := sess.Conn.WriteText(data); err != nil {
		e.logger.Error("Failed to send frame",
			slog.String("session_id", sess.ID),
			slog.String("type", string(frame.Type)),
			slog.String("error", err.Error()),
		)
		return
	}

	e.metrics.RecordFrameSent(string(frame.Type))
}

func truncate(data []byte, max int) string {
	if len(data) > max {
		return string(data[:max]) + "..."
	}
	return string(data)
}

func (e *Engine) rawPath(id string) string {
	return filepath.Join(e.cfg.AudioDir, audio.ArtifactName(id, "raw"))
}

func (e *Engine) wavPath(id string) string {
	return filepath.Join(e.cfg.AudioDir, audio.ArtifactName(id, "wav"))
}
