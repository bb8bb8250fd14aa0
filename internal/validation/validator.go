package validation

import (
	"fmt"
	"strings"
)

// ValidateServerAddress validates a server address and port.
func ValidateServerAddress(address string, port int) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("server address is required")
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}

// ValidateNicknames validates the ordered candidate nickname list.
func ValidateNicknames(nicknames []string) error {
	if len(nicknames) == 0 {
		return fmt.Errorf("at least one nickname is required")
	}
	for i, nick := range nicknames {
		if strings.TrimSpace(nick) == "" {
			return fmt.Errorf("nickname %d is blank", i+1)
		}
		if strings.ContainsAny(nick, " \x00\r\n") {
			return fmt.Errorf("nickname %q contains invalid characters", nick)
		}
	}
	return nil
}

// ValidateOutboundLine rejects an embedded newline in a message about to be
// written to the wire; this is a programmer error, not a connect failure.
func ValidateOutboundLine(message string) error {
	if strings.ContainsAny(message, "\r\n") {
		return fmt.Errorf("write: message must not contain a line terminator: %q", message)
	}
	return nil
}
