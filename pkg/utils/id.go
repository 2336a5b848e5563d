package utils

import (
	"fmt"
	"math/rand"

	"github.com/google/uuid"
)

var (
	tokenAdjectives = []string{
		"Happy", "Bright", "Swift", "Cool", "Smart",
		"Quick", "Bold", "Sharp", "Fast", "Calm",
	}
	tokenNouns = []string{
		"Tiger", "Eagle", "Shark", "Lion", "Wolf",
		"Bear", "Fox", "Hawk", "Falcon", "Panther",
	}
)

// GenerateRoomToken produces a human-shareable room token, e.g. "SwiftHawk4821".
func GenerateRoomToken() string {
	adjective := tokenAdjectives[rand.Intn(len(tokenAdjectives))]
	noun := tokenNouns[rand.Intn(len(tokenNouns))]
	number := rand.Intn(9000) + 1000
	return fmt.Sprintf("%s%s%d", adjective, noun, number)
}

// GeneratePeerID generates a unique peer identity.
func GeneratePeerID() string {
	return "peer_" + uuid.NewString()
}

// GenerateInstanceID generates a unique relay instance identity, used to
// filter self-originated events on the distributed alert bus.
func GenerateInstanceID() string {
	return "relay_" + uuid.NewString()
}
