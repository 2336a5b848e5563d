package validation

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRoomID(t *testing.T) {
	assert.NoError(t, ValidateRoomID("SwiftHawk4821"))
	assert.NoError(t, ValidateRoomID("mission_7-ops"))

	assert.Error(t, ValidateRoomID(""))
	assert.Error(t, ValidateRoomID("room with spaces"))
	assert.Error(t, ValidateRoomID("room/with/slashes"))
	assert.Error(t, ValidateRoomID(strings.Repeat("a", 101)))
}

func TestValidatePeerID(t *testing.T) {
	assert.NoError(t, ValidatePeerID("peer_0b6720f4"))
	assert.NoError(t, ValidatePeerID("station-a"))

	assert.Error(t, ValidatePeerID(""))
	assert.Error(t, ValidatePeerID("peer!"))
	assert.Error(t, ValidatePeerID(strings.Repeat("p", 101)))
}

func TestValidateCallsign(t *testing.T) {
	assert.NoError(t, ValidateCallsign("Houston CAPCOM"))
	assert.NoError(t, ValidateCallsign("")) // optional

	assert.Error(t, ValidateCallsign(strings.Repeat("x", 51)))
	assert.Error(t, ValidateCallsign(string([]byte{0xff, 0xfe})))
}

func TestValidateChatText(t *testing.T) {
	assert.NoError(t, ValidateChatText("comm check"))

	assert.Error(t, ValidateChatText(""))
	assert.Error(t, ValidateChatText("   "))
	assert.Error(t, ValidateChatText(strings.Repeat("a", 2001)))
}

func TestValidateRelayURL(t *testing.T) {
	assert.NoError(t, ValidateRelayURL("ws://localhost:8090/ws"))
	assert.NoError(t, ValidateRelayURL("wss://relay.example.com/ws"))

	assert.Error(t, ValidateRelayURL(""))
	assert.Error(t, ValidateRelayURL("http://relay.example.com/ws"))
	assert.Error(t, ValidateRelayURL("ws://"))
}

func TestValidateStringLength(t *testing.T) {
	assert.NoError(t, ValidateStringLength("abc", 1, 5, "field"))
	assert.Error(t, ValidateStringLength("", 1, 5, "field"))
	assert.Error(t, ValidateStringLength("abcdef", 1, 5, "field"))
}
