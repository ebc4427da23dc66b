package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/user/relaycord/internal/loop"
	"github.com/user/relaycord/internal/transport"
)

// State is the session's connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	AwaitingHello
	Identifying
	Connected
	Closing
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingHello:
		return "awaiting_hello"
	case Identifying:
		return "identifying"
	case Connected:
		return "connected"
	case Closing:
		return "closing"
	default:
		return "unknown"
	}
}

// ErrNotConnected is returned when sending while no stream is open.
var ErrNotConnected = errors.New("gateway not connected")

// Stream is the part of the transport the session drives.
type Stream interface {
	ConnectStream(uri string, handler transport.StreamHandler) transport.StreamID
	Send(id transport.StreamID, data []byte) error
	Close(id transport.StreamID, code int) error
}

// Handler receives session notifications on the processing context.
type Handler interface {
	// OnConnecting fires when a connection or reconnection attempt starts.
	OnConnecting()
	// OnDispatch forwards one DISPATCH frame.
	OnDispatch(event string, data json.RawMessage, seq int64)
	// OnConnected fires after READY or RESUMED has been dispatched.
	OnConnected(resumed bool)
	// OnClosed fires when the session gives up: policy is PolicyReauth or
	// PolicyReport. It does not fire for a user-requested Close.
	OnClosed(code int, policy ClosePolicy)
}

// Config configures a Session.
type Config struct {
	URL          string
	Token        string
	Properties   Properties
	Capabilities int
	// Compress requests zlib-stream transport compression.
	Compress bool
	Retry    *RetryPolicy
	Clock    clock.Clock
	Executor loop.Executor
	Stream   Stream
	Handler  Handler
}

// Session is the gateway state machine. Every method must be called on the
// processing context; stream events and timers are posted back to it.
type Session struct {
	cfg   Config
	clock clock.Clock
	exec  loop.Executor
	retry *RetryPolicy

	state    State
	streamID transport.StreamID
	gen      uint64

	sessionID string
	resumeURL string
	seq       int64
	hasSeq    bool
	canResume bool

	interval   time.Duration
	ackPending bool
	heartbeat  *clock.Timer

	attempts  int
	reconnect *clock.Timer
	closing   bool
}

// New creates a disconnected session.
func New(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Retry == nil {
		cfg.Retry = DefaultRetryPolicy()
	}
	if cfg.Executor == nil {
		cfg.Executor = loop.Inline{}
	}
	return &Session{cfg: cfg, clock: cfg.Clock, exec: cfg.Executor, retry: cfg.Retry}
}

func (s *Session) State() State { return s.state }
func (s *Session) Seq() int64 { return s.seq }
func (s *Session) SessionID() string { return s.sessionID }
func (s *Session) ResumeURL() string { return s.resumeURL }
func (s *Session) Attempts() int { return s.attempts }
func (s *Session) Interval() time.Duration { return s.interval }

// SetToken replaces the credentials used by the next IDENTIFY.
func (s *Session) SetToken(token string) { s.cfg.Token = token }

// Start opens a stream. It is a no-op unless the session is disconnected.
func (s *Session) Start() {
	if s.state != Disconnected {
		return
	}
	s.closing = false
	s.attempts = 0
	s.cfg.Handler.OnConnecting()
	s.connect()
}

// Close ends the session with a normal close and forgets resume state.
// No OnClosed notification follows.
func (s *Session) Close() {
	s.closing = true
	s.clearResume()
	s.stopTimers()
	if s.streamID == "" {
		s.state = Disconnected
		return
	}
	s.state = Closing
	if err := s.cfg.Stream.Close(s.streamID, CloseNormal); err != nil {
		slog.Debug("gateway close", "error", err)
		s.streamID = ""
		s.state = Disconnected
	}
}

// Reconnect drops the current stream and connects again, resuming when
// the session allows it. A disconnected session is started instead.
func (s *Session) Reconnect() {
	if s.streamID == "" {
		if s.state == Disconnected {
			s.Start()
		}
		return
	}
	s.attempts = 0
	s.abort(s.gen, closeReconnect)
}

// Send writes an outbound frame. Dispatch frames are never sent by a client.
func (s *Session) Send(op Opcode, d any) error {
	if op == OpDispatch {
		return fmt.Errorf("gateway: refusing to send %s", op)
	}
	if s.state != Connected {
		return ErrNotConnected
	}
	return s.send(op, d)
}

func (s *Session) send(op Opcode, d any) error {
	if s.streamID == "" {
		return ErrNotConnected
	}
	data, err := encode(op, d)
	if err != nil {
		return err
	}
	if err := s.cfg.Stream.Send(s.streamID, data); err != nil {
		return fmt.Errorf("gateway send %s: %w", op, err)
	}
	return nil
}

func (s *Session) connectURL() string {
	base := s.cfg.URL
	if s.canResume && s.resumeURL != "" {
		base = s.resumeURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	if q.Get("v") == "" {
		q.Set("v", "9")
	}
	q.Set("encoding", "json")
	if s.cfg.Compress {
		q.Set("compress", "zlib-stream")
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *Session) connect() {
	s.gen++
	s.state = Connecting
	s.ackPending = false
	uri := s.connectURL()
	slog.Info("gateway connecting", "url", uri, "resume", s.canResume && s.sessionID != "")
	s.streamID = s.cfg.Stream.ConnectStream(uri, s.streamHandler(s.gen))
}

// streamHandler runs on the transport goroutine of one stream and posts
// every event to the processing context tagged with the connection
// generation, so events from a replaced stream are ignored.
func (s *Session) streamHandler(gen uint64) transport.StreamHandler {
	post := func(fn func()) { s.exec.Post(fn) }

	var inf *inflater
	if s.cfg.Compress {
		inf = newInflater(func(raw json.RawMessage) {
			post(func() { s.onPayload(gen, raw) })
		})
	}
	return func(ev transport.StreamEvent) {
		switch ev.Kind {
		case transport.StreamOpened:
			post(func() { s.onOpened(gen) })
		case transport.StreamMessage:
			if inf != nil && ev.Binary {
				if err := inf.Write(ev.Data); err != nil {
					slog.Warn("gateway inflate failed", "error", err)
					post(func() { s.abort(gen, CloseDecodeError) })
				}
				return
			}
			data := ev.Data
			post(func() { s.onPayload(gen, data) })
		case transport.StreamClosed, transport.StreamFailed:
			if inf != nil {
				inf.Close()
			}
			code := ev.Code
			if ev.Kind == transport.StreamFailed {
				code = CloseAbnormal
			}
			post(func() { s.onClosed(gen, code) })
		}
	}
}

func (s *Session) onOpened(gen uint64) {
	if gen != s.gen {
		return
	}
	if s.state == Connecting {
		s.state = AwaitingHello
	}
}

func (s *Session) onPayload(gen uint64, data []byte) {
	if gen != s.gen || s.state == Closing || s.state == Disconnected {
		return
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		slog.Warn("gateway frame decode failed", "error", err)
		return
	}
	s.handleFrame(&f)
}

func (s *Session) handleFrame(f *Frame) {
	if f.S != nil && *f.S > s.seq {
		s.seq = *f.S
		s.hasSeq = true
	}

	if s.state == AwaitingHello || s.state == Connecting {
		if f.Op != OpHello {
			slog.Warn("gateway protocol violation: first frame is not HELLO", "op", f.Op.String())
			s.abort(s.gen, CloseProtocolError)
			return
		}
		s.onHello(f)
		return
	}

	switch f.Op {
	case OpHello:
		slog.Debug("gateway duplicate HELLO ignored")
	case OpHeartbeat:
		if err := s.send(OpHeartbeat, s.seqValue()); err != nil {
			slog.Debug("gateway heartbeat reply failed", "error", err)
		}
	case OpHeartbeatAck:
		s.ackPending = false
	case OpReconnect:
		slog.Info("gateway reconnect requested")
		s.abort(s.gen, closeReconnect)
	case OpInvalidSession:
		var resumable bool
		json.Unmarshal(f.D, &resumable)
		slog.Info("gateway session invalidated", "resumable", resumable)
		if !resumable {
			s.clearResume()
		}
		s.abort(s.gen, closeReconnect)
	case OpDispatch:
		s.onDispatch(f)
	default:
		slog.Debug("gateway unhandled opcode", "op", f.Op.String())
	}
}

func (s *Session) onHello(f *Frame) {
	var hello helloData
	if err := json.Unmarshal(f.D, &hello); err != nil || hello.HeartbeatInterval <= 0 {
		slog.Warn("gateway malformed HELLO", "error", err)
		s.abort(s.gen, CloseDecodeError)
		return
	}
	s.interval = time.Duration(hello.HeartbeatInterval) * time.Millisecond
	s.state = Identifying

	var err error
	if s.canResume && s.sessionID != "" && s.hasSeq {
		slog.Info("gateway resuming", "session_id", s.sessionID, "seq", s.seq)
		err = s.send(OpResume, resumeData{Token: s.cfg.Token, SessionID: s.sessionID, Seq: s.seq})
	} else {
		s.clearResume()
		err = s.send(OpIdentify, identifyData{
			Token:        s.cfg.Token,
			Capabilities: s.cfg.Capabilities,
			Properties:   s.cfg.Properties,
		})
	}
	if err != nil {
		slog.Warn("gateway handshake send failed", "error", err)
	}
	s.scheduleHeartbeat()
}

func (s *Session) onDispatch(f *Frame) {
	switch f.T {
	case "READY":
		var ready readyData
		if err := json.Unmarshal(f.D, &ready); err != nil {
			slog.Warn("gateway malformed READY", "error", err)
		}
		s.sessionID = ready.SessionID
		s.resumeURL = ready.ResumeGatewayURL
	}
	s.cfg.Handler.OnDispatch(f.T, f.D, s.seq)

	switch f.T {
	case "READY", "RESUMED":
		s.state = Connected
		s.attempts = 0
		slog.Info("gateway connected", "session_id", s.sessionID, "resumed", f.T == "RESUMED")
		s.cfg.Handler.OnConnected(f.T == "RESUMED")
	}
}

func (s *Session) seqValue() any {
	if !s.hasSeq {
		return nil
	}
	return s.seq
}

func (s *Session) scheduleHeartbeat() {
	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
	gen := s.gen
	s.heartbeat = s.clock.AfterFunc(s.interval, func() {
		s.exec.Post(func() { s.heartbeatTick(gen) })
	})
}

// heartbeatTick sends one heartbeat. An acknowledgement still outstanding
// from the previous beat means the connection is a zombie.
func (s *Session) heartbeatTick(gen uint64) {
	if gen != s.gen || (s.state != Identifying && s.state != Connected) {
		return
	}
	if s.ackPending {
		slog.Warn("gateway heartbeat not acknowledged, reconnecting")
		s.abort(gen, closeReconnect)
		return
	}
	if err := s.send(OpHeartbeat, s.seqValue()); err != nil {
		slog.Debug("gateway heartbeat failed", "error", err)
	}
	s.ackPending = true
	s.scheduleHeartbeat()
}

// abort closes the current stream with code; the close event then runs
// the close policy for that code.
func (s *Session) abort(gen uint64, code int) {
	if gen != s.gen || s.streamID == "" {
		return
	}
	s.stopTimers()
	s.state = Closing
	if err := s.cfg.Stream.Close(s.streamID, code); err != nil {
		slog.Debug("gateway abort", "error", err)
		s.onClosed(gen, code)
	}
}

func (s *Session) onClosed(gen uint64, code int) {
	if gen != s.gen {
		return
	}
	s.stopTimers()
	s.streamID = ""
	s.gen++

	if s.closing {
		s.state = Disconnected
		return
	}

	policy := PolicyFor(code)
	slog.Info("gateway closed", "code", code, "policy", policy.String())
	switch policy {
	case PolicyResume:
		s.canResume = true
		s.attempts++
		if !s.retry.ShouldRetry(code, s.attempts) {
			s.state = Disconnected
			s.canResume = false
			s.cfg.Handler.OnClosed(code, PolicyReport)
			return
		}
		s.state = Connecting
		delay := s.retry.NextDelay(s.attempts)
		slog.Info("gateway reconnecting", "attempt", s.attempts, "delay", delay)
		s.cfg.Handler.OnConnecting()
		gen := s.gen
		s.reconnect = s.clock.AfterFunc(delay, func() {
			s.exec.Post(func() { s.reconnectTick(gen) })
		})
	case PolicyReauth:
		s.clearResume()
		s.state = Disconnected
		s.cfg.Handler.OnClosed(code, policy)
	default:
		s.canResume = false
		s.state = Disconnected
		s.cfg.Handler.OnClosed(code, policy)
	}
}

func (s *Session) reconnectTick(gen uint64) {
	if gen != s.gen || s.state != Connecting || s.closing {
		return
	}
	s.connect()
}

func (s *Session) stopTimers() {
	if s.heartbeat != nil {
		s.heartbeat.Stop()
		s.heartbeat = nil
	}
	if s.reconnect != nil {
		s.reconnect.Stop()
		s.reconnect = nil
	}
	s.ackPending = false
}

func (s *Session) clearResume() {
	s.sessionID = ""
	s.resumeURL = ""
	s.seq = 0
	s.hasSeq = false
	s.canResume = false
}
