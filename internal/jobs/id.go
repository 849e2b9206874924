// Package jobs names runs and checks run identifiers arriving from clients.
package jobs

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/rs/zerolog/log"
)

// RunPrefix starts every run ID.
const RunPrefix = "run-"

// GenerateID creates a cryptographically random ID with the given prefix,
// which should include a trailing dash.
func GenerateID(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		log.Fatal().Err(err).Msgf("Failed to generate random %s ID", prefix)
	}
	return prefix + hex.EncodeToString(b)
}

// NewRunID returns a fresh run ID.
func NewRunID() string {
	return GenerateID(RunPrefix)
}
