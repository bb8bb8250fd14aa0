package ircsession

import (
	"context"
	"errors"
	"sync"
)

// ConnectFailure enumerates the ways a connect attempt can fail. Failures
// are settled through Outcome, never returned from Connect as a Go error —
// the one exception being programmer errors and dial-time argument
// validation, which are reported synchronously.
type ConnectFailure int

const (
	// Killed indicates the transport closed during Starting or Connecting
	// before a definitive outcome was reached.
	Killed ConnectFailure = iota

	// NicknamesUnavailable indicates every candidate nickname was rejected
	// by the server.
	NicknamesUnavailable

	// BadProxyConfiguration indicates the server closed the link in
	// response to a WEBIRC request (observed as an inbound ERROR line).
	BadProxyConfiguration

	// MissingRequiredCapabilities indicates a capability listed in
	// Config.Capabilities.Requires was not granted.
	MissingRequiredCapabilities

	// BadPassword indicates the server rejected the connection password
	// (numeric 464, or the Twitch-compatibility "Login unsuccessful"
	// NOTICE).
	BadPassword

	// SocketEnded indicates End was called while the outcome was still
	// pending.
	SocketEnded
)

func (f ConnectFailure) Error() string {
	switch f {
	case Killed:
		return "irc-session: transport closed before registration completed"
	case NicknamesUnavailable:
		return "irc-session: no candidate nickname was accepted"
	case BadProxyConfiguration:
		return "irc-session: server rejected the WEBIRC proxy credentials"
	case MissingRequiredCapabilities:
		return "irc-session: server did not grant a required capability"
	case BadPassword:
		return "irc-session: server rejected the connection password"
	case SocketEnded:
		return "irc-session: session ended before registration completed"
	default:
		return "irc-session: unknown connect failure"
	}
}

// Result is the payload of a successful Outcome settlement.
type Result struct {
	Capabilities []string
	Nickname     string
}

// ErrAlreadyConnected is returned by Session.Connect when called more than
// once: sessions are single-use.
var ErrAlreadyConnected = errors.New("irc-session: connect called more than once")

// Outcome is the one-shot settlement of a connect attempt: it resolves
// exactly once, to either a Result or a ConnectFailure, and is safe to read
// from multiple goroutines.
type Outcome struct {
	done   chan struct{}
	once   sync.Once
	result Result
	err    error
}

func newOutcome() *Outcome {
	return &Outcome{done: make(chan struct{})}
}

// settle resolves the outcome if it has not already settled, and reports
// whether this call was the one that settled it. Invariant 1: at most one
// settlement for the session's lifetime.
func (o *Outcome) settle(result Result, err error) bool {
	settled := false
	o.once.Do(func() {
		o.result = result
		o.err = err
		settled = true
		close(o.done)
	})
	return settled
}

// Settled reports whether the outcome has resolved, without blocking.
func (o *Outcome) Settled() bool {
	select {
	case <-o.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the outcome settles or ctx is done, whichever happens
// first.
func (o *Outcome) Wait(ctx context.Context) (Result, error) {
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Done returns a channel that is closed exactly once, when the outcome
// settles. Useful for select-based callers.
func (o *Outcome) Done() <-chan struct{} {
	return o.done
}
