package session

import (
	"sync"
	"time"

	"github.com/voicebridge/audiohook-gateway/internal/audio"
)

// Sender is the transport handle a session uses to push frames back to the
// peer. It is a cached back-reference only; session identity always comes
// from the id field on the wire, never from the handle.
type Sender interface {
	WriteText(data []byte) error
	WriteBinary(data []byte) error
}

// State describes where a session is in its lifecycle.
type State int

// Session lifecycle states.
const (
	StateOpening State = iota
	StateOpen
	StateStreaming
	StatePaused
	StateClosing
	StateClosed
	StateDisconnected
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateStreaming:
		return "streaming"
	case StatePaused:
		return "paused"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is one a session never leaves.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateDisconnected
}

// Session holds the server-side state for one logical call/stream, keyed by
// the id the peer supplies on every control frame. All mutation goes through
// methods holding the session mutex; frames for one session arrive in order
// on a single connection, so handlers never race each other.
type Session struct {
	ID        string
	Conn      Sender
	StartTime time.Time

	mu             sync.Mutex
	state          State
	serverSeq      int
	lastClientSeq  int
	elapsedSeconds float64
	lastActivity   time.Time
	sink           *audio.Sink

	// One-shot lifecycle flags
	eventSent        bool
	promptSent       bool
	pauseSent        bool
	replaySent       bool
	transcodeStarted bool
}

// newSession creates a session in the opening state with serverSeq ready to
// hand out 1 as the first outbound sequence number.
func newSession(id string, conn Sender) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		Conn:         conn,
		StartTime:    now,
		state:        StateOpening,
		lastActivity: now,
	}
}

// NextServerSeq allocates the next outbound sequence number. Values are
// strictly increasing per session, starting at 1, never reused.
func (s *Session) NextServerSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverSeq++
	return s.serverSeq
}

// ServerSeq returns the last allocated outbound sequence number.
func (s *Session) ServerSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serverSeq
}

// ObserveClientSeq records the seq of an inbound frame for clientseq echo.
func (s *Session) ObserveClientSeq(seq int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.lastClientSeq {
		s.lastClientSeq = seq
	}
	s.lastActivity = time.Now()
}

// LastClientSeq returns the last seq observed from the peer.
func (s *Session) LastClientSeq() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastClientSeq
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState moves the session to a non-terminal state. Transitions out of a
// terminal state are ignored; a closed session is never resurrected.
func (s *Session) SetState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.state = state
}

// Terminate moves the session into a terminal state. It returns false if the
// session already terminated, so the finalize path runs exactly once even
// when an explicit close frame and a transport drop both arrive.
func (s *Session) Terminate(state State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return false
	}
	s.state = state
	return true
}

// UpdatePosition records the peer-reported stream position. The cumulative
// position only moves forward.
func (s *Session) UpdatePosition(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seconds > s.elapsedSeconds {
		s.elapsedSeconds = seconds
	}
}

// Elapsed returns the cumulative peer-reported stream position in seconds.
func (s *Session) Elapsed() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsedSeconds
}

// AttachSink hands the session exclusive ownership of its capture stream.
func (s *Session) AttachSink(sink *audio.Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// Sink returns the capture stream, or nil if none was attached.
func (s *Session) Sink() *audio.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sink
}

// Touch refreshes the idle timer.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// LastActivity returns the time of the most recent inbound frame.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// MarkEventSent flips the one-shot event flag. It returns true only on the
// first call, so the informational event frame fires at most once.
func (s *Session) MarkEventSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.eventSent {
		return false
	}
	s.eventSent = true
	return true
}

// MarkPromptSent flips the one-shot prompt flag for the current lifecycle.
func (s *Session) MarkPromptSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.promptSent {
		return false
	}
	s.promptSent = true
	return true
}

// MarkPauseSent flips the one-shot gateway pause flag.
func (s *Session) MarkPauseSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pauseSent {
		return false
	}
	s.pauseSent = true
	return true
}

// MarkReplaySent flips the one-shot replay flag set after the finalized
// container has been pushed back to the peer.
func (s *Session) MarkReplaySent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaySent {
		return false
	}
	s.replaySent = true
	return true
}

// MarkTranscodeStarted flips the one-shot conversion flag so a capture is
// handed to the transcoder exactly once, no matter how many paths finalize it.
func (s *Session) MarkTranscodeStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transcodeStarted {
		return false
	}
	s.transcodeStarted = true
	return true
}

// ReplaySent reports whether the finalized container was pushed back.
func (s *Session) ReplaySent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replaySent
}

// Info is a monitoring snapshot of a session.
type Info struct {
	ID             string    `json:"id"`
	State          string    `json:"state"`
	StartTime      time.Time `json:"start_time"`
	LastActivity   time.Time `json:"last_activity"`
	ServerSeq      int       `json:"server_seq"`
	LastClientSeq  int       `json:"last_client_seq"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	BytesCaptured  int64     `json:"bytes_captured"`
}

// Snapshot returns monitoring information about the session.
func (s *Session) Snapshot() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	var captured int64
	if s.sink != nil {
		captured = s.sink.BytesWritten()
	}

	return Info{
		ID:             s.ID,
		State:          s.state.String(),
		StartTime:      s.StartTime,
		LastActivity:   s.lastActivity,
		ServerSeq:      s.serverSeq,
		LastClientSeq:  s.lastClientSeq,
		ElapsedSeconds: s.elapsedSeconds,
		BytesCaptured:  captured,
	}
}
