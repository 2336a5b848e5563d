package validation

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	maxRoomIDLength   = 100
	maxPeerIDLength   = 100
	maxCallsignLength = 50
	maxChatTextLength = 2000
)

// identChars reports whether every rune is allowed in a room or peer
// identifier: letters, digits, underscore and hyphen.
func identChars(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

// ValidateRoomID validates a room token used as the signaling routing key.
func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room is required")
	}
	if len(roomID) > maxRoomIDLength {
		return fmt.Errorf("room is too long (max %d characters)", maxRoomIDLength)
	}
	if !identChars(roomID) {
		return fmt.Errorf("room contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidatePeerID validates a peer identity.
func ValidatePeerID(peerID string) error {
	if peerID == "" {
		return fmt.Errorf("peer ID is required")
	}
	if len(peerID) > maxPeerIDLength {
		return fmt.Errorf("peer ID is too long (max %d characters)", maxPeerIDLength)
	}
	if !identChars(peerID) {
		return fmt.Errorf("peer ID contains invalid characters (only letters, numbers, _, - allowed)")
	}
	return nil
}

// ValidateCallsign validates an operator callsign. Callsigns are free-form
// display text, so anything printable goes.
func ValidateCallsign(callsign string) error {
	callsign = strings.TrimSpace(callsign)
	if callsign == "" {
		return nil // optional
	}
	if !utf8.ValidString(callsign) {
		return fmt.Errorf("callsign contains invalid characters")
	}
	return ValidateStringLength(callsign, 1, maxCallsignLength, "callsign")
}

// ValidateChatText validates a chat line.
func ValidateChatText(text string) error {
	if err := ValidateNonEmptyString(text, "chat text"); err != nil {
		return err
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("chat text contains invalid characters")
	}
	return ValidateStringLength(text, 1, maxChatTextLength, "chat text")
}

// ValidateRelayURL validates the station's relay endpoint.
func ValidateRelayURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("relay URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid relay URL scheme (must be ws or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("relay URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that a string is not blank.
func ValidateNonEmptyString(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates a string's rune count.
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
