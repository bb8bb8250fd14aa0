// Package ircsession turns a raw bidirectional byte-stream into an IRC
// (RFC 1459 / IRCv3) line-oriented session: capability negotiation, optional
// WEBIRC/PASS/SASL, multi-candidate nickname registration, server-PING
// handling, idle-detection, and a one-shot connect outcome.
package ircsession

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/matt0x6f/irc-session/internal/frame"
	"github.com/matt0x6f/irc-session/internal/logger"
	"github.com/matt0x6f/irc-session/internal/transport"
	"github.com/matt0x6f/irc-session/internal/validation"
	"github.com/matt0x6f/irc-session/internal/watchdog"
)

// Status is the session's lifecycle state: it is monotone except that any
// state may transition to Closed.
type Status int

const (
	Initialized Status = iota
	Connecting
	Starting
	Running
	Closed
)

func (s Status) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Connecting:
		return "connecting"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

type internalEvent int

const (
	evtWatchdogSilence internalEvent = iota
	evtWatchdogTimeout
)

// Session is a single-use connection handshake and keepalive adapter. It is
// constructed with New, driven with Connect, and is not reusable once
// Closed. Internal state (status, cap accounting, nickname list) is
// mutated only from the goroutine Connect starts; the mutex below guards
// the narrow surface public methods touch from the caller's goroutine, so
// all protocol state stays serialized onto one logical task even though
// callers may reach the facade from any goroutine.
type Session struct {
	cfg       Config
	transport transport.Conn
	framer    frame.Framer
	watchdog  *watchdog.Watchdog
	internal  chan internalEvent

	// OnConnect fires once the transport connects, before registration
	// begins.
	OnConnect func()
	// OnData fires for every inbound line, in transport order, including
	// the lines the startup handler consumes.
	OnData func(line string)
	// OnReady fires exactly once, immediately before the outcome settles
	// Ok.
	OnReady func(Result)
	// OnError fires for transport-level errors.
	OnError func(err error)
	// OnClose fires once the transport has fully closed.
	OnClose func()
	// OnEnd fires when the transport reports a graceful end (following our
	// own End call).
	OnEnd func()
	// OnTimeout fires when the watchdog's no-pong phase elapses; Session
	// then calls End exactly once.
	OnTimeout func()

	mu                 sync.Mutex
	status             Status
	remainingNicknames []string
	currentNickname    string
	transportTimeoutCB func()

	outcome *Outcome
	startup *startupHandler
}

// New constructs a Session from cfg. Connect must be called to begin the
// handshake; the returned Session is otherwise inert.
func New(cfg Config) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:                cfg,
		transport:          transport.New(),
		watchdog:           watchdog.New(timeoutDuration(cfg.TimeoutMS)),
		internal:           make(chan internalEvent, 4),
		status:             Initialized,
		remainingNicknames: append([]string(nil), cfg.Nicknames...),
	}
}

func timeoutDuration(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Connect dials the transport and begins the registration handshake. It
// errors synchronously if called more than once or if cfg fails basic
// validation; otherwise it returns the one-shot Outcome the caller awaits.
func (s *Session) Connect() (*Outcome, error) {
	s.mu.Lock()
	if s.status != Initialized {
		s.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	if err := s.cfg.validate(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.status = Connecting
	s.outcome = newOutcome()
	s.startup = newStartupHandler(s)
	s.mu.Unlock()

	s.watchdog.Silence = func() { s.internal <- evtWatchdogSilence }
	s.watchdog.Timeout = func() { s.internal <- evtWatchdogTimeout }

	go s.run()

	return s.outcome, nil
}

func (s *Session) run() {
	opts := transport.Options{Host: s.cfg.Server, Port: int(s.cfg.Port), TLS: s.cfg.TLS}
	_ = s.transport.Connect(context.Background(), opts)

	events := s.transport.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handleTransportEvent(ev)
		case w := <-s.internal:
			s.handleWatchdogEvent(w)
		}
	}
}

func (s *Session) handleTransportEvent(ev transport.Event) {
	switch ev.Type {
	case transport.EventConnect:
		s.mu.Lock()
		s.status = Starting
		s.mu.Unlock()
		_ = s.transport.SetNoDelay(true)
		s.watchdog.Reset()
		logger.Log.Debug().Str("server", s.cfg.Server).Msg("irc-session: transport connected")
		if s.OnConnect != nil {
			s.OnConnect()
		}
		s.startup.onConnected()

	case transport.EventData:
		s.watchdog.Reset()
		for _, line := range s.framer.Feed(ev.Data) {
			s.dispatchLine(line)
		}

	case transport.EventError:
		logger.Log.Warn().Err(ev.Err).Msg("irc-session: transport error")
		if s.OnError != nil {
			s.OnError(ev.Err)
		}

	case transport.EventTimeout:
		logger.Log.Debug().Msg("irc-session: transport read/write deadline exceeded")
		s.mu.Lock()
		cb := s.transportTimeoutCB
		s.mu.Unlock()
		if cb != nil {
			cb()
		}

	case transport.EventEnd:
		if s.OnEnd != nil {
			s.OnEnd()
		}

	case transport.EventClose:
		s.onTransportClosed()
		if s.OnClose != nil {
			s.OnClose()
		}
	}
}

func (s *Session) handleWatchdogEvent(evt internalEvent) {
	switch evt {
	case evtWatchdogSilence:
		logger.Log.Debug().Msg("irc-session: idle, sending keepalive ping")
		_ = s.writeRaw("PING :ignored")
	case evtWatchdogTimeout:
		logger.Log.Warn().Msg("irc-session: no response to keepalive ping")
		if s.OnTimeout != nil {
			s.OnTimeout()
		}
		_ = s.End()
	}
}

func (s *Session) onTransportClosed() {
	s.mu.Lock()
	s.status = Closed
	s.mu.Unlock()
	s.watchdog.Stop()
	if s.outcome != nil && !s.outcome.Settled() {
		s.settleFail(Killed)
	}
}

func (s *Session) dispatchLine(line string) {
	s.handleAutoPong(line)
	if h := s.activeStartup(); h != nil {
		h.onLine(line)
	}
	if s.OnData != nil {
		s.OnData(line)
	}
}

func (s *Session) handleAutoPong(line string) {
	msg, err := ircmsg.ParseLine(line)
	if err != nil || !strings.EqualFold(msg.Command, "PING") {
		return
	}
	token := ""
	if len(msg.Params) > 0 {
		token = msg.Params[len(msg.Params)-1]
	}
	_ = s.Write("PONG :" + token)
}

// Write sends message as a single line. A []string is joined with spaces
// (no colon auto-prefix; include a leading ":" on a trailing parameter
// yourself). It rejects synchronously if message contains a line
// terminator, and is a no-op if the session is not in a writable status.
func (s *Session) Write(message interface{}) error {
	var line string
	switch m := message.(type) {
	case string:
		line = m
	case []string:
		line = strings.Join(m, " ")
	default:
		return fmt.Errorf("irc-session: write: unsupported message type %T", message)
	}

	if err := validation.ValidateOutboundLine(line); err != nil {
		return err
	}
	if !s.writable() {
		return nil
	}
	return s.writeRaw(line)
}

func (s *Session) writable() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.status {
	case Connecting, Starting, Running:
		return true
	default:
		return false
	}
}

func (s *Session) writeRaw(line string) error {
	if err := s.transport.Write([]byte(line + "\r\n")); err != nil {
		logger.Log.Warn().Err(err).Msg("irc-session: write failed")
		if s.OnError != nil {
			s.OnError(err)
		}
		return err
	}
	return nil
}

// End requests a graceful close. It is idempotent. If the outcome is still
// pending, it settles Fail(SocketEnded) before the transport-end request
// goes out, so any awaiter sees a deterministic result.
func (s *Session) End() error {
	s.mu.Lock()
	status := s.status
	s.mu.Unlock()
	if status == Initialized || status == Closed {
		return nil
	}

	if s.outcome != nil && !s.outcome.Settled() {
		s.settleFail(SocketEnded)
	}

	return s.transport.End()
}

// SetTimeout forwards d to the transport's own read/write deadline and
// arranges for cb to run if it fires. This is a passthrough, orthogonal to
// the keepalive watchdog.
func (s *Session) SetTimeout(d time.Duration, cb func()) {
	s.mu.Lock()
	s.transportTimeoutCB = cb
	s.mu.Unlock()
	s.transport.SetTimeout(d)
}

// Status reports the session's current lifecycle state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// IsStarted reports whether Connect has been called and the session has
// not yet closed.
func (s *Session) IsStarted() bool {
	switch s.Status() {
	case Connecting, Starting, Running:
		return true
	default:
		return false
	}
}

// IsConnected reports whether the transport has connected.
func (s *Session) IsConnected() bool {
	switch s.Status() {
	case Starting, Running:
		return true
	default:
		return false
	}
}

// IsReady reports whether registration completed successfully.
func (s *Session) IsReady() bool {
	return s.Status() == Running
}

// CurrentNickname returns the last nickname sent via NICK, promoted to
// final once 001 arrives. Empty before the first NICK is sent.
func (s *Session) CurrentNickname() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentNickname
}

func (s *Session) popNickname() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.remainingNicknames) == 0 {
		return "", false
	}
	nick := s.remainingNicknames[0]
	s.remainingNicknames = s.remainingNicknames[1:]
	s.currentNickname = nick
	return nick, true
}

func (s *Session) activeStartup() *startupHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startup
}

func (s *Session) detachStartup() {
	s.mu.Lock()
	s.startup = nil
	s.mu.Unlock()
}

func (s *Session) settleOk(result Result) {
	if s.OnReady != nil {
		s.OnReady(result)
	}
	s.outcome.settle(result, nil)
	s.mu.Lock()
	s.status = Running
	s.mu.Unlock()
	s.detachStartup()
}

func (s *Session) settleFail(reason ConnectFailure) {
	s.outcome.settle(Result{}, reason)
	s.detachStartup()
}
