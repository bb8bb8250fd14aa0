package ircsession

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

// saslMechanism drives one SASL exchange after "AUTHENTICATE <name>" has
// been sent. Next is given the raw, still base64-encoded parameter of each
// subsequent inbound AUTHENTICATE line ("+" for the initial empty
// challenge) and returns the next reply, already base64-encoded, to send
// as "AUTHENTICATE <reply>". done is true when the call has nothing to
// send; for SCRAM that is the call that checks the server-final message,
// and a failed check is reported via err.
type saslMechanism interface {
	Name() string
	Next(challenge string) (reply string, done bool, err error)
}

func newSASLMechanism(cfg *SASLConfig) (saslMechanism, error) {
	switch strings.ToUpper(cfg.Mechanism) {
	case "", MechanismPlain:
		return &saslPlain{username: cfg.Username, password: cfg.Password}, nil
	case MechanismScramSHA256:
		return newSCRAM(cfg, MechanismScramSHA256, sha256.New), nil
	case MechanismScramSHA512:
		return newSCRAM(cfg, MechanismScramSHA512, sha512.New), nil
	default:
		return nil, fmt.Errorf("irc-session: unsupported SASL mechanism %q", cfg.Mechanism)
	}
}

// saslPlain implements RFC 4616 PLAIN: a single reply of
// base64("\0user\0pass") regardless of the challenge text.
type saslPlain struct {
	username string
	password string
	sent     bool
}

func (p *saslPlain) Name() string { return MechanismPlain }

func (p *saslPlain) Next(_ string) (string, bool, error) {
	if p.sent {
		return "", true, nil
	}
	p.sent = true
	payload := fmt.Sprintf("\x00%s\x00%s", p.username, p.password)
	return base64.StdEncoding.EncodeToString([]byte(payload)), false, nil
}

// scramGS2Header is the GS2 header for "no channel binding, no
// authorization identity", base64-encoded ("n,," -> "biws"); it appears
// verbatim in both the client-first and client-final messages.
const scramGS2Header = "biws"

type scramState int

const (
	scramAwaitingFirst scramState = iota
	scramAwaitingServerFirst
	scramAwaitingServerFinal
	scramDone
)

// scramMech implements the SCRAM-SHA-256 / SCRAM-SHA-512 client side
// (RFC 5802): client-first, server-first parsing, PBKDF2
// salted-password/client-key/stored-key/server-key derivation, client-final
// with proof, and server-signature verification.
type scramMech struct {
	name    string
	newHash func() hash.Hash

	username    string
	password    string
	clientNonce string

	clientFirstMessageBare         string
	serverFirstMessage             string
	serverNonce                    string
	clientFinalMessageWithoutProof string
	serverKey                      []byte

	state scramState
}

func newSCRAM(cfg *SASLConfig, name string, newHash func() hash.Hash) *scramMech {
	return &scramMech{
		name:        name,
		newHash:     newHash,
		username:    cfg.Username,
		password:    cfg.Password,
		clientNonce: generateNonce(),
	}
}

func (m *scramMech) Name() string { return m.name }

func (m *scramMech) Next(challenge string) (string, bool, error) {
	switch m.state {
	case scramAwaitingFirst:
		return m.sendClientFirst(challenge)
	case scramAwaitingServerFirst:
		return m.sendClientFinal(challenge)
	case scramAwaitingServerFinal:
		return m.verifyServerFinal(challenge)
	default:
		return "", true, nil
	}
}

func (m *scramMech) sendClientFirst(challenge string) (string, bool, error) {
	if challenge != "+" {
		return "", false, fmt.Errorf("irc-session: scram: unexpected initial challenge %q", challenge)
	}
	m.clientFirstMessageBare = fmt.Sprintf("n=%s,r=%s", m.username, m.clientNonce)
	m.state = scramAwaitingServerFirst
	return base64.StdEncoding.EncodeToString([]byte("n,," + m.clientFirstMessageBare)), false, nil
}

func (m *scramMech) sendClientFinal(challenge string) (string, bool, error) {
	decoded, err := base64.StdEncoding.DecodeString(challenge)
	if err != nil {
		return "", false, fmt.Errorf("irc-session: scram: malformed server-first message: %w", err)
	}
	m.serverFirstMessage = string(decoded)
	params := parseSCRAMParams(m.serverFirstMessage)

	serverNonce, ok := params["r"]
	if !ok || !strings.HasPrefix(serverNonce, m.clientNonce) {
		return "", false, fmt.Errorf("irc-session: scram: invalid server nonce")
	}
	m.serverNonce = serverNonce

	saltB64, ok := params["s"]
	if !ok {
		return "", false, fmt.Errorf("irc-session: scram: missing salt")
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return "", false, fmt.Errorf("irc-session: scram: invalid salt encoding: %w", err)
	}

	iterStr, ok := params["i"]
	if !ok {
		return "", false, fmt.Errorf("irc-session: scram: missing iteration count")
	}
	iterations, err := strconv.Atoi(iterStr)
	if err != nil {
		return "", false, fmt.Errorf("irc-session: scram: invalid iteration count: %w", err)
	}

	saltedPassword := pbkdf2.Key([]byte(m.password), salt, iterations, m.newHash().Size(), m.newHash)
	clientKey := hmacSum(m.newHash, saltedPassword, "Client Key")
	storedKey := hashSum(m.newHash, clientKey)
	m.serverKey = hmacSum(m.newHash, saltedPassword, "Server Key")

	m.clientFinalMessageWithoutProof = fmt.Sprintf("c=%s,r=%s", scramGS2Header, m.serverNonce)
	authMessage := m.clientFirstMessageBare + "," + m.serverFirstMessage + "," + m.clientFinalMessageWithoutProof

	clientSignature := hmacSum(m.newHash, storedKey, authMessage)
	clientProof := xorBytes(clientKey, clientSignature)

	clientFinalMessage := m.clientFinalMessageWithoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	m.state = scramAwaitingServerFinal
	return base64.StdEncoding.EncodeToString([]byte(clientFinalMessage)), false, nil
}

func (m *scramMech) verifyServerFinal(challenge string) (string, bool, error) {
	m.state = scramDone

	decoded, err := base64.StdEncoding.DecodeString(challenge)
	if err != nil {
		return "", true, fmt.Errorf("irc-session: scram: malformed server-final message: %w", err)
	}
	params := parseSCRAMParams(string(decoded))

	v, ok := params["v"]
	if !ok {
		return "", true, nil
	}

	authMessage := m.clientFirstMessageBare + "," + m.serverFirstMessage + "," + m.clientFinalMessageWithoutProof
	expected := base64.StdEncoding.EncodeToString(hmacSum(m.newHash, m.serverKey, authMessage))
	if v != expected {
		return "", true, fmt.Errorf("irc-session: scram: server signature mismatch")
	}
	return "", true, nil
}

func hmacSum(newHash func() hash.Hash, key []byte, data string) []byte {
	mac := hmac.New(newHash, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

func hashSum(newHash func() hash.Hash, data []byte) []byte {
	h := newHash()
	h.Write(data)
	return h.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

func parseSCRAMParams(message string) map[string]string {
	params := make(map[string]string)
	for _, part := range strings.Split(message, ",") {
		if len(part) >= 3 && part[1] == '=' {
			params[part[:1]] = part[2:]
		}
	}
	return params
}

// generateNonce returns a random hex client-nonce, drawn from crypto/rand
// rather than a timestamp so repeated connects never reuse one.
func generateNonce() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
