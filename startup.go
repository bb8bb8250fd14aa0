package ircsession

import (
	"fmt"
	"strings"

	"github.com/ergochat/irc-go/ircmsg"

	"github.com/matt0x6f/irc-session/internal/logger"
)

// startupHandler runs the pre-001 handshake: it consumes every inbound line
// until the outcome settles, then is detached. It is touched only from the
// Session's own event-loop goroutine, so it carries no locks of its own.
type startupHandler struct {
	session *Session
	cfg     Config

	capNegotiating    bool
	serverCaps        map[string]bool
	acked             []string
	sentRequests      int
	respondedRequests int

	saslInFlight bool
	saslMech     saslMechanism
}

func newStartupHandler(s *Session) *startupHandler {
	return &startupHandler{session: s, cfg: s.cfg}
}

// onConnected runs the fixed prefix of the handshake: WEBIRC, PASS, and
// either CAP LS (entering capability negotiation) or straight to
// registration.
func (h *startupHandler) onConnected() {
	s := h.session

	if h.cfg.Proxy != nil {
		p := h.cfg.Proxy
		_ = s.writeRaw(fmt.Sprintf("WEBIRC %s %s %s %s", p.Password, p.Username, p.Hostname, p.IP))
	}
	if h.cfg.Password != "" {
		_ = s.writeRaw(fmt.Sprintf("PASS %s", h.cfg.Password))
	}
	if h.cfg.Capabilities != nil {
		h.capNegotiating = true
		_ = s.writeRaw("CAP LS")
		return
	}

	h.beginRegistration()
}

// onLine dispatches one pre-001 inbound line: interleaved special cases
// first, then CAP substate, then SASL substate, then nickname/welcome.
func (h *startupHandler) onLine(line string) {
	msg, err := ircmsg.ParseLine(line)
	if err != nil {
		return
	}
	cmd := strings.ToUpper(msg.Command)

	switch cmd {
	case "ERROR":
		h.session.settleFail(BadProxyConfiguration)
		return
	case "464":
		h.session.settleFail(BadPassword)
		return
	case "NOTICE":
		if len(msg.Params) > 0 && strings.HasSuffix(msg.Params[len(msg.Params)-1], "Login unsuccessful") {
			h.session.settleFail(BadPassword)
			return
		}
	case "PING":
		// ignored here; the facade's auto-PONG already handled it.
		return
	}

	if h.capNegotiating {
		switch cmd {
		case "CAP":
			h.handleCap(msg)
			return
		case "410", "421":
			h.handleCapUnsupported()
			return
		}
	}

	if h.saslInFlight {
		switch cmd {
		case "AUTHENTICATE":
			h.handleSASLChallenge(msg)
			return
		case "900", "903":
			h.handleSASLSuccess()
			return
		case "901", "904":
			h.handleSASLFailure()
			return
		}
	}

	switch cmd {
	case "431", "432", "433", "436", "437", "484":
		h.sendNextNickname()
	case "001":
		h.handleWelcome()
	}
}

func (h *startupHandler) handleCap(msg ircmsg.Message) {
	if len(msg.Params) < 3 {
		return
	}
	sub := strings.ToUpper(msg.Params[1])
	arg := msg.Params[2]

	switch sub {
	case "LS":
		h.onCapLS(arg)
	case "ACK":
		h.onCapACK(arg)
	case "NAK":
		h.onCapNAK(arg)
	}
}

func (h *startupHandler) onCapLS(arg string) {
	caps := strings.Fields(arg)
	h.serverCaps = make(map[string]bool, len(caps))
	for _, c := range caps {
		h.serverCaps[c] = true
	}

	requires := h.cfg.Capabilities.Requires
	for _, r := range requires {
		if !h.serverCaps[r] {
			_ = h.session.writeRaw("QUIT")
			h.session.settleFail(MissingRequiredCapabilities)
			return
		}
	}

	if len(requires) > 0 {
		_ = h.session.writeRaw("CAP REQ :" + strings.Join(requires, " "))
		h.sentRequests++
	}

	for _, w := range h.cfg.Capabilities.Wants {
		if h.serverCaps[w] {
			_ = h.session.writeRaw("CAP REQ :" + w)
			h.sentRequests++
		}
	}

	h.checkCapComplete()
}

func (h *startupHandler) onCapACK(arg string) {
	h.respondedRequests++
	for _, c := range strings.Fields(arg) {
		if h.wants(c) {
			h.acked = append(h.acked, c)
		}
	}
	h.checkCapComplete()
}

func (h *startupHandler) onCapNAK(arg string) {
	h.respondedRequests++
	for _, c := range strings.Fields(arg) {
		if h.requires(c) {
			_ = h.session.writeRaw("QUIT")
			h.session.settleFail(MissingRequiredCapabilities)
			return
		}
	}
	h.checkCapComplete()
}

func (h *startupHandler) checkCapComplete() {
	if h.sentRequests != h.respondedRequests {
		return
	}
	h.capNegotiating = false

	if h.saslConfigured() && h.hasAcked("sasl") {
		h.beginSASL()
		return
	}

	_ = h.session.writeRaw("CAP END")
	h.beginRegistration()
}

// handleCapUnsupported handles 410/421 during CAP — the server rejected CAP
// entirely. No CAP END is sent in this branch since CAP was never accepted.
func (h *startupHandler) handleCapUnsupported() {
	h.capNegotiating = false
	if len(h.cfg.Capabilities.Requires) > 0 {
		_ = h.session.writeRaw("QUIT")
		h.session.settleFail(MissingRequiredCapabilities)
		return
	}
	h.beginRegistration()
}

func (h *startupHandler) beginSASL() {
	mech, err := newSASLMechanism(h.cfg.SASL)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("irc-session: SASL not started")
		_ = h.session.writeRaw("CAP END")
		h.beginRegistration()
		return
	}
	h.saslMech = mech
	h.saslInFlight = true
	_ = h.session.writeRaw("AUTHENTICATE " + mech.Name())
}

func (h *startupHandler) handleSASLChallenge(msg ircmsg.Message) {
	challenge := ""
	if len(msg.Params) > 0 {
		challenge = msg.Params[0]
	}

	reply, done, err := h.saslMech.Next(challenge)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("irc-session: SASL exchange failed")
		h.abortSASL()
		return
	}
	if !done && reply != "" {
		_ = h.session.writeRaw("AUTHENTICATE " + reply)
	}
}

// handleSASLSuccess and handleSASLFailure both resume the same way: a
// rejected SASL attempt does not fail the connect attempt, only the
// capability — registration proceeds unauthenticated.
func (h *startupHandler) handleSASLSuccess() {
	h.saslInFlight = false
	_ = h.session.writeRaw("CAP END")
	h.beginRegistration()
}

func (h *startupHandler) handleSASLFailure() {
	h.saslInFlight = false
	_ = h.session.writeRaw("CAP END")
	h.beginRegistration()
}

func (h *startupHandler) abortSASL() {
	h.saslInFlight = false
	_ = h.session.writeRaw("AUTHENTICATE *")
	_ = h.session.writeRaw("CAP END")
	h.beginRegistration()
}

func (h *startupHandler) beginRegistration() {
	_ = h.session.writeRaw(fmt.Sprintf("USER %s 8 * :%s", h.cfg.Username, h.cfg.Realname))
	h.sendNextNickname()
}

func (h *startupHandler) sendNextNickname() {
	nick, ok := h.session.popNickname()
	if !ok {
		_ = h.session.writeRaw("QUIT")
		h.session.settleFail(NicknamesUnavailable)
		return
	}
	_ = h.session.writeRaw("NICK " + nick)
}

func (h *startupHandler) handleWelcome() {
	h.session.settleOk(Result{
		Capabilities: append([]string(nil), h.acked...),
		Nickname:     h.session.CurrentNickname(),
	})
}

func (h *startupHandler) wants(cap string) bool {
	if h.cfg.Capabilities == nil {
		return false
	}
	for _, w := range h.cfg.Capabilities.Wants {
		if w == cap {
			return true
		}
	}
	return false
}

func (h *startupHandler) requires(cap string) bool {
	if h.cfg.Capabilities == nil {
		return false
	}
	for _, r := range h.cfg.Capabilities.Requires {
		if r == cap {
			return true
		}
	}
	return false
}

func (h *startupHandler) saslConfigured() bool {
	return h.cfg.SASL != nil
}

func (h *startupHandler) hasAcked(cap string) bool {
	for _, c := range h.acked {
		if c == cap {
			return true
		}
	}
	return false
}
