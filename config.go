package ircsession

import (
	"crypto/tls"
	"time"

	"github.com/matt0x6f/irc-session/internal/constants"
	"github.com/matt0x6f/irc-session/internal/validation"
)

// SASL mechanism names accepted by Config.SASL.Mechanism.
const (
	MechanismPlain       = "PLAIN"
	MechanismScramSHA256 = "SCRAM-SHA-256"
	MechanismScramSHA512 = "SCRAM-SHA-512"
)

// ProxyConfig carries the WEBIRC credentials a front-end proxy uses to
// assert a real client's hostname/IP to the server.
type ProxyConfig struct {
	Password string
	Username string
	Hostname string
	IP       string
}

// CapabilitiesConfig lists the IRCv3 capabilities a Session negotiates.
type CapabilitiesConfig struct {
	// Requires must all be granted by the server or the connect attempt
	// fails with MissingRequiredCapabilities.
	Requires []string

	// Wants are requested opportunistically; the server declining one does
	// not fail the connect attempt. A capability must appear here (not
	// only in Requires) to be recorded in Result.Capabilities, and "sasl"
	// specifically must be listed here for SASL to be attempted.
	Wants []string
}

// SASLConfig configures optional SASL authentication. Username defaults to
// Config.Username when left empty.
type SASLConfig struct {
	Username  string
	Password  string
	Mechanism string
}

// Config is the immutable input to New. Nothing in it is mutated by the
// Session; withDefaults returns a defaulted copy, including defensive
// copies of any nested structures it retains.
type Config struct {
	Server    string
	Port      uint16
	Nicknames []string
	Username  string
	Realname  string

	// Password, if set, is sent as a server PASS before registration.
	Password string

	Proxy        *ProxyConfig
	Capabilities *CapabilitiesConfig
	SASL         *SASLConfig

	// TimeoutMS is the keepalive watchdog period, in milliseconds.
	// Defaults to 300000.
	TimeoutMS uint32

	// TLS, when non-nil, causes the transport to perform a TLS handshake
	// instead of a plain TCP dial.
	TLS *tls.Config
}

func (cfg Config) withDefaults() Config {
	if cfg.Port == 0 {
		cfg.Port = constants.DefaultPort
	}
	if cfg.TimeoutMS == 0 {
		cfg.TimeoutMS = uint32(constants.DefaultTimeout / time.Millisecond)
	}

	cfg.Nicknames = append([]string(nil), cfg.Nicknames...)

	if cfg.Proxy != nil {
		proxy := *cfg.Proxy
		cfg.Proxy = &proxy
	}

	if cfg.Capabilities != nil {
		caps := CapabilitiesConfig{
			Requires: append([]string(nil), cfg.Capabilities.Requires...),
			Wants:    append([]string(nil), cfg.Capabilities.Wants...),
		}
		cfg.Capabilities = &caps
	}

	if cfg.SASL != nil {
		sasl := *cfg.SASL
		if sasl.Username == "" {
			sasl.Username = cfg.Username
		}
		if sasl.Mechanism == "" {
			sasl.Mechanism = MechanismPlain
		}
		cfg.SASL = &sasl
	}

	return cfg
}

// validate rejects configs Connect cannot act on at all. It deliberately
// does not reject an empty Nicknames list — that is a legitimate config
// whose Connect settles Fail(NicknamesUnavailable) after sending no NICK,
// not a synchronous caller error.
func (cfg Config) validate() error {
	if err := validation.ValidateServerAddress(cfg.Server, int(cfg.Port)); err != nil {
		return err
	}
	if len(cfg.Nicknames) > 0 {
		if err := validation.ValidateNicknames(cfg.Nicknames); err != nil {
			return err
		}
	}
	return nil
}
