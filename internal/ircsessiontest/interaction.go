// Package ircsessiontest provides a scripted TCP loopback server for
// exercising the session's handshake against a real net.Conn, modeled on
// gissleh-irc's internal/irctest.Interaction.
package ircsessiontest

import (
	"bufio"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// InteractionLine is one step of a scripted exchange: either a line the
// fake server sends to the client, a line the fake server expects to read
// from the client, or a callback to run in between.
type InteractionLine struct {
	// Server is written verbatim (CRLF appended) to the client.
	Server string

	// Client is matched against the next line read from the client. A
	// trailing "*" matches as a prefix.
	Client string

	// Callback runs between lines; returning an error fails the
	// interaction.
	Callback func() error
}

// InteractionFailure describes why a scripted Interaction did not complete
// as written.
type InteractionFailure struct {
	Index  int
	Result string
	NetErr error
	CBErr  error
}

// Interaction is a one-shot simulated IRC server.
type Interaction struct {
	wg sync.WaitGroup

	// Strict requires lines to match in order with no tolerance for
	// interleaved unexpected client lines; when false, unexpected client
	// lines are skipped until a match is found.
	Strict bool

	Lines []InteractionLine
	Log   []string

	mu      sync.Mutex
	failure *InteractionFailure
}

// Listen starts a loopback TCP listener and runs the script against the
// first accepted connection in a background goroutine.
func (in *Interaction) Listen() (addr string, err error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", err
	}

	lines := make([]InteractionLine, len(in.Lines))
	copy(lines, in.Lines)

	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		defer listener.Close()

		conn, err := listener.Accept()
		if err != nil {
			in.setFailure(&InteractionFailure{Index: -1, NetErr: err})
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)

		for i := 0; i < len(lines); i++ {
			line := lines[i]

			switch {
			case line.Server != "":
				_ = conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
				if _, err := conn.Write([]byte(line.Server + "\r\n")); err != nil {
					in.setFailure(&InteractionFailure{Index: i, NetErr: err})
					return
				}

			case line.Client != "":
				_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
				input, err := reader.ReadString('\n')
				if err != nil {
					in.setFailure(&InteractionFailure{Index: i, NetErr: err})
					return
				}
				input = strings.TrimRight(input, "\r\n")

				match := line.Client
				ok := false
				if strings.HasSuffix(match, "*") {
					ok = strings.HasPrefix(input, match[:len(match)-1])
				} else {
					ok = match == input
				}

				in.mu.Lock()
				in.Log = append(in.Log, input)
				in.mu.Unlock()

				if !ok {
					if !in.Strict {
						i--
						continue
					}
					in.setFailure(&InteractionFailure{Index: i, Result: input})
					return
				}

			case line.Callback != nil:
				if err := line.Callback(); err != nil {
					in.setFailure(&InteractionFailure{Index: i, CBErr: err})
					return
				}
			}
		}
	}()

	return listener.Addr().String(), nil
}

// Wait blocks until the scripted interaction has run to completion (or
// failed). Failure is safe to read afterward.
func (in *Interaction) Wait() {
	in.wg.Wait()
}

// Failure returns the first failure recorded, if any.
func (in *Interaction) Failure() *InteractionFailure {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.failure
}

func (in *Interaction) setFailure(f *InteractionFailure) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.failure == nil {
		in.failure = f
	}
}

// SplitHostPort is a small convenience used by tests to turn a
// Listen-returned addr into (host, port).
func SplitHostPort(addr string) (host string, port int, err error) {
	h, p, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return "", 0, err
	}
	return h, n, nil
}
